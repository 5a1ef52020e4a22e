//go:build windows
// +build windows

// File: reactor/reactor_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows backend factory: completion port by default, WSAPoll on request.

package reactor

import "github.com/momentics/hioload-iocore/control"

func newPlatformSource(env sourceEnv) (eventSource, error) {
	switch env.cfg.Backend {
	case control.BackendReadiness:
		return newWSAPollSource(env)
	default:
		port, err := newIOCPPort(env.log)
		if err != nil {
			return nil, err
		}
		return newCompletionSource(env, port), nil
	}
}
