//go:build !linux && !windows

package control

import "runtime"

// RegisterPlatformProbes adds the generic probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
