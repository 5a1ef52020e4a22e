//go:build windows
// +build windows

// control/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific debug probes.

package control

import (
	"runtime"

	"golang.org/x/sys/windows"
)

// RegisterPlatformProbes adds the Windows probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.backends", func() any {
		return []string{"iocp", "wsapoll"}
	})
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.version", func() any {
		major, minor, build := windows.RtlGetNtVersionNumbers()
		return [3]uint32{major, minor, build}
	})
}
