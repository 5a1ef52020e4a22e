//go:build linux
// +build linux

package affinity

import (
	"runtime"
	"testing"

	"github.com/momentics/hioload-iocore/api"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPinLoop(t *testing.T) {
	var allowed unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &allowed))
	cpu := -1
	for i := 0; i < runtime.NumCPU(); i++ {
		if allowed.IsSet(i) {
			cpu = i
			break
		}
	}
	if cpu < 0 {
		t.Skip("no usable cpu in the current mask")
	}

	release, err := PinLoop(cpu)
	require.NoError(t, err)

	var got unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &got))
	require.Equal(t, 1, got.Count())
	require.True(t, got.IsSet(cpu))

	release()
}

func TestPinLoopRejectsUnknownCPU(t *testing.T) {
	_, err := PinLoop(runtime.NumCPU())
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestPinLoopLockOnly(t *testing.T) {
	release, err := PinLoop(-1)
	require.NoError(t, err)
	release()
}
