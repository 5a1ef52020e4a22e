// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Pins the goroutine driving a reactor context to one OS thread and CPU.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-iocore/api"
)

// PinLoop locks the calling goroutine to its OS thread and binds that thread
// to cpu. A negative cpu only locks the thread. The returned release undoes
// the lock; the thread's CPU mask is restored where the platform allows it.
func PinLoop(cpu int) (release func(), err error) {
	if cpu >= runtime.NumCPU() {
		return nil, fmt.Errorf("%w: cpu %d of %d", api.ErrInvalidArgument, cpu, runtime.NumCPU())
	}
	runtime.LockOSThread()
	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}
	restore, err := setAffinity(cpu)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("affinity: cpu %d: %w", cpu, err)
	}
	return func() {
		restore()
		runtime.UnlockOSThread()
	}, nil
}
