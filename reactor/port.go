// File: reactor/port.go
// Author: momentics <momentics@gmail.com>
//
// Completion-port primitives consumed by the completion engine. The Windows
// implementation lives in iocp_windows.go; the engine itself is
// platform-neutral.

package reactor

import (
	"errors"
	"syscall"
	"time"

	"github.com/momentics/hioload-iocore/api"
)

// completion is one dequeued packet.
type completion struct {
	op    *operation
	bytes uint32
	err   error
}

// completionPort is the set of OS operations the completion engine needs.
// A nil error from acceptEx or zeroRecv means the operation is in flight and
// will produce exactly one completion.
type completionPort interface {
	// associate binds a caller handle to the port. Re-associating a handle
	// already bound to this port is not an error.
	associate(h api.Handle) error
	// resolveAccept looks up the extended accept entry point once; later
	// calls are no-ops.
	resolveAccept(listener api.Handle) error
	// newSocket creates a non-blocking overlapped socket of the listener's
	// family, already bound to the port.
	newSocket(listener api.Handle) (api.Handle, error)
	closeSocket(h api.Handle) error
	acceptEx(listener api.Handle, op *operation) error
	zeroRecv(h api.Handle, op *operation) error
	// updateAcceptContext applies the listener's properties to an accepted
	// socket.
	updateAcceptContext(listener, accepted api.Handle) error
	// cancel requests cancellation of op; its completion still arrives.
	cancel(h api.Handle, op *operation) error
	// dequeue waits up to timeout (negative: forever) for one completion.
	// ok is false when nothing arrived in time.
	dequeue(timeout time.Duration) (c completion, ok bool, err error)
	close() error
}

// Windows error numbers used for classification. They are plain numbers so
// the engine and its tests build on every platform.
const (
	errNetnameDeleted    = syscall.Errno(64)
	errInvalidParameter  = syscall.Errno(87)
	errWaitTimeout       = syscall.Errno(258)
	errOperationAborted  = syscall.Errno(995)
	errIOPending         = syscall.Errno(997)
	errNotFound          = syscall.Errno(1168)
	errConnectionAborted = syscall.Errno(1236)
	errWSAEWOULDBLOCK    = syscall.Errno(10035)
	errWSAEINPROGRESS    = syscall.Errno(10036)
	errWSAENETRESET      = syscall.Errno(10052)
	errWSAECONNABORTED   = syscall.Errno(10053)
	errWSAECONNRESET     = syscall.Errno(10054)
	errWSAENOTCONN       = syscall.Errno(10057)
	errWSAEDISCON        = syscall.Errno(10101)
)

func errnoOf(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

// isDisconnect reports reset-class failures: the peer or network tore the
// connection down.
func isDisconnect(err error) bool {
	errno, ok := errnoOf(err)
	if !ok {
		return false
	}
	switch errno {
	case errWSAECONNRESET, errWSAECONNABORTED, errWSAENETRESET,
		errNetnameDeleted, errConnectionAborted, errWSAEDISCON:
		return true
	}
	return false
}

func isAborted(err error) bool {
	errno, ok := errnoOf(err)
	return ok && errno == errOperationAborted
}

// isPending reports an overlapped request that was queued and will complete
// through the port.
func isPending(err error) bool {
	errno, ok := errnoOf(err)
	return ok && errno == errIOPending
}

// isWouldBlock reports a request the stack refused for now; nothing was
// queued and no completion will arrive.
func isWouldBlock(err error) bool {
	errno, ok := errnoOf(err)
	if !ok {
		return false
	}
	switch errno {
	case errWSAEWOULDBLOCK, errWSAEINPROGRESS:
		return true
	}
	return false
}

func isNotConnected(err error) bool {
	errno, ok := errnoOf(err)
	return ok && errno == errWSAENOTCONN
}
