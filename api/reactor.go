// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface of the socket-event reactor shared by the
// readiness (epoll, WSAPoll) and completion (IOCP) backends.

package api

// Reactor multiplexes many sockets on a single consumer goroutine.
//
// Implementations are not safe for concurrent use: one goroutine drives
// Select and performs every registration call.
type Reactor interface {
	// Register arms read monitoring on a connected or datagram socket.
	Register(h Handle) error

	// RegisterListen arms a listening socket.
	RegisterListen(h Handle) error

	// Unregister cancels pending operations on h and forgets it.
	Unregister(h Handle) error

	// Detach is Unregister for top-level handles; for an accept-pool socket
	// it recycles the slot instead.
	Detach(h Handle) error

	// Select fills out with at most MaxEvents records, waiting up to
	// timeoutMs milliseconds (negative waits indefinitely).
	Select(timeoutMs int, out *EventBatch) (int, error)

	// Close releases every registration and the backend facility.
	Close() error
}
