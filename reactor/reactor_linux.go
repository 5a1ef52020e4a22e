//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux backend factory.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
)

func newPlatformSource(env sourceEnv) (eventSource, error) {
	switch env.cfg.Backend {
	case control.BackendAuto, control.BackendReadiness:
		return newEpollSource(env)
	default:
		return nil, fmt.Errorf("%w: %s backend on linux", api.ErrNotSupported, env.cfg.Backend)
	}
}
