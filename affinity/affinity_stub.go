//go:build !linux && !windows
// +build !linux,!windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>

package affinity

import "github.com/momentics/hioload-iocore/api"

func setAffinity(int) (func(), error) {
	return nil, api.ErrNotSupported
}
