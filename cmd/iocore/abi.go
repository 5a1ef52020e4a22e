// File: cmd/iocore/abi.go
// Author: momentics <momentics@gmail.com>
//
// Go side of the C interface: config conversion, context handles and status
// mapping. Kept free of cgo so it can be tested directly.

package main

import (
	"fmt"
	"os"
	"runtime/cgo"

	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/momentics/hioload-iocore/reactor"
	"github.com/sirupsen/logrus"
)

// abiConfig mirrors io_config.
type abiConfig struct {
	Backend        int32
	AcceptPoolSize int32
	TableSizeHint  int32
	LogLevel       int32
}

func defaultABIConfig() abiConfig {
	return abiConfig{LogLevel: int32(logrus.WarnLevel)}
}

func (a abiConfig) toConfig() (control.Config, error) {
	var backend control.Backend
	switch a.Backend {
	case 0:
		backend = control.BackendAuto
	case 1:
		backend = control.BackendReadiness
	case 2:
		backend = control.BackendCompletion
	default:
		return control.Config{}, fmt.Errorf("%w: backend %d", api.ErrInvalidArgument, a.Backend)
	}
	if a.AcceptPoolSize < 0 || a.TableSizeHint < 0 {
		return control.Config{}, fmt.Errorf("%w: negative size", api.ErrInvalidArgument)
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(control.ParseLevel(int(a.LogLevel)))

	cfg := control.DefaultConfig(
		control.WithBackend(backend),
		control.WithAcceptPoolSize(int(a.AcceptPoolSize)),
		control.WithTableSizeHint(int(a.TableSizeHint)),
		control.WithLogger(log),
	)
	return cfg, cfg.Validate()
}

func openContext(a abiConfig) (uintptr, error) {
	cfg, err := a.toConfig()
	if err != nil {
		return 0, err
	}
	r, err := reactor.New(cfg)
	if err != nil {
		return 0, err
	}
	return uintptr(cgo.NewHandle(r)), nil
}

// contextOf resolves a handle stored in io_context. Zero, closed and foreign
// values resolve to api.ErrInvalidContext.
func contextOf(h uintptr) (r *reactor.Context, err error) {
	if h == 0 {
		return nil, api.ErrInvalidContext
	}
	defer func() {
		if recover() != nil {
			r, err = nil, api.ErrInvalidContext
		}
	}()
	r, ok := cgo.Handle(h).Value().(*reactor.Context)
	if !ok {
		return nil, api.ErrInvalidContext
	}
	return r, nil
}

// closeContext closes the reactor and releases its handle even when the
// backend reported a failure.
func closeContext(h uintptr) error {
	r, err := contextOf(h)
	if err != nil {
		return err
	}
	cgo.Handle(h).Delete()
	return r.Close()
}

// guard converts a panic escaping into the host into the internal status.
func guard(status *int32) {
	if p := recover(); p != nil {
		err := panicError(p)
		logrus.WithFields(logrus.Fields(err.Context)).Error(err.Message)
		*status = api.Status(err)
	}
}

func panicError(p any) *api.Error {
	return api.NewError(api.ErrCodeInternal, "iocore: recovered panic at C boundary").
		WithContext("panic", fmt.Sprint(p))
}
