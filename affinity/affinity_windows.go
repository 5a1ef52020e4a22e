//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>

package affinity

import "golang.org/x/sys/windows"

var (
	modkernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procSetThreadAffinityMask = modkernel32.NewProc("SetThreadAffinityMask")
)

// setAffinity binds the calling thread to cpu; the previous mask is what
// SetThreadAffinityMask returns.
func setAffinity(cpu int) (func(), error) {
	thread := windows.CurrentThread()
	prev, _, err := procSetThreadAffinityMask.Call(uintptr(thread), uintptr(1)<<uint(cpu))
	if prev == 0 {
		return nil, err
	}
	return func() { procSetThreadAffinityMask.Call(uintptr(thread), prev) }, nil
}
