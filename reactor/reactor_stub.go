//go:build !linux && !windows
// +build !linux,!windows

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub factory for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-iocore/api"
)

func newPlatformSource(env sourceEnv) (eventSource, error) {
	return nil, fmt.Errorf("%w: no reactor backend for this platform", api.ErrNotSupported)
}
