// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the socket-event reactor: one Context type over a
// readiness backend (epoll on Linux, WSAPoll on Windows) and a completion
// backend (IOCP with pre-posted accepts and zero-length receives).
//
// A Context is driven by one goroutine:
//
//	ctx, err := reactor.New(control.DefaultConfig())
//	...
//	ctx.RegisterListen(ln)
//	var batch api.EventBatch
//	for {
//		n, err := ctx.Select(100, &batch)
//		...
//	}
//
// The reactor never closes caller handles. Sockets it creates for accept
// pools are closed by the reactor until they are handed out through an
// AcceptCompleted event.
package reactor
