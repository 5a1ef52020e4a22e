// File: cmd/iocore/main.go
// Author: momentics <momentics@gmail.com>
//
// Shared-library entry points, see io_core.h.

package main

/*
#include "io_core.h"
*/
import "C"

import (
	"unsafe"

	"github.com/momentics/hioload-iocore/api"
)

// io_event_list and api.EventBatch share one layout.
var (
	_ [unsafe.Sizeof(C.io_event_list{}) - unsafe.Sizeof(api.EventBatch{})]struct{}
	_ [unsafe.Sizeof(api.EventBatch{}) - unsafe.Sizeof(C.io_event_list{})]struct{}
	_ [unsafe.Sizeof(C.io_event{}) - unsafe.Sizeof(api.EventRecord{})]struct{}
	_ [unsafe.Sizeof(api.EventRecord{}) - unsafe.Sizeof(C.io_event{})]struct{}
)

func main() {}

func handleOf(ctx *C.io_context) uintptr {
	if ctx == nil {
		return 0
	}
	return uintptr(ctx.handle)
}

//export io_core_init
func io_core_init(ctx *C.io_context, cfg *C.io_config) (rc C.int) {
	status := int32(0)
	defer func() { rc = C.int(status) }()
	defer guard(&status)

	if ctx == nil {
		status = api.Status(api.ErrInvalidContext)
		return
	}
	ctx.handle = 0
	conf := defaultABIConfig()
	if cfg != nil {
		conf = abiConfig{
			Backend:        int32(cfg.backend),
			AcceptPoolSize: int32(cfg.accept_pool_size),
			TableSizeHint:  int32(cfg.table_size_hint),
			LogLevel:       int32(cfg.log_level),
		}
	}
	h, err := openContext(conf)
	if err != nil {
		status = api.Status(err)
		return
	}
	ctx.handle = C.uintptr_t(h)
	return
}

func withContext(ctx *C.io_context, fn func(r api.Reactor) error) (rc C.int) {
	status := int32(0)
	defer func() { rc = C.int(status) }()
	defer guard(&status)

	r, err := contextOf(handleOf(ctx))
	if err == nil {
		err = fn(r)
	}
	status = api.Status(err)
	return
}

//export io_register
func io_register(ctx *C.io_context, fd C.int) C.int {
	return withContext(ctx, func(r api.Reactor) error { return r.Register(api.Handle(fd)) })
}

//export io_register_listen
func io_register_listen(ctx *C.io_context, fd C.int) C.int {
	return withContext(ctx, func(r api.Reactor) error { return r.RegisterListen(api.Handle(fd)) })
}

//export io_unregister
func io_unregister(ctx *C.io_context, fd C.int) C.int {
	return withContext(ctx, func(r api.Reactor) error { return r.Unregister(api.Handle(fd)) })
}

//export io_detach
func io_detach(ctx *C.io_context, fd C.int) C.int {
	return withContext(ctx, func(r api.Reactor) error { return r.Detach(api.Handle(fd)) })
}

//export io_select
func io_select(ctx *C.io_context, timeoutMs C.int, out *C.io_event_list) (rc C.int) {
	status := int32(0)
	defer func() { rc = C.int(status) }()
	defer guard(&status)

	r, err := contextOf(handleOf(ctx))
	if err != nil {
		status = api.Status(err)
		return
	}
	if out == nil {
		status = api.Status(api.ErrInvalidArgument)
		return
	}
	n, err := r.Select(int(timeoutMs), (*api.EventBatch)(unsafe.Pointer(out)))
	if err != nil {
		status = api.Status(err)
		return
	}
	status = int32(n)
	return
}

//export io_core_close
func io_core_close(ctx *C.io_context) (rc C.int) {
	status := int32(0)
	defer func() { rc = C.int(status) }()
	defer guard(&status)

	if err := closeContext(handleOf(ctx)); err != nil {
		status = api.Status(err)
	}
	if ctx != nil {
		ctx.handle = 0
	}
	return
}
