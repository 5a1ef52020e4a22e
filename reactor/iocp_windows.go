//go:build windows
// +build windows

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Windows I/O completion port primitives.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/momentics/hioload-iocore/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procIoctlsocket = modws2_32.NewProc("ioctlsocket")

	modmswsock   = windows.NewLazySystemDLL("Mswsock.dll")
	procAcceptEx = modmswsock.NewProc("AcceptEx")

	wsaStartup    sync.Once
	wsaStartupErr error

	// orphaned keeps overlapped records the kernel may still write to after
	// a port was closed without seeing their completion.
	orphanedMu sync.Mutex
	orphaned   []*iocpOp
)

const (
	fionbio = 0x8004667e
	// Address scratch per side: sockaddr_storage plus the 16 bytes AcceptEx
	// requires.
	acceptAddrLen = 128 + 16
	closeDrain    = 100 * time.Millisecond
)

// WSAID_ACCEPTEX
var acceptExGUID = windows.GUID{
	Data1: 0xb5367df1,
	Data2: 0xcbac,
	Data3: 0x11cf,
	Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92},
}

// iocpOp is the kernel-visible record of one posted operation.
// Overlapped must stay the first field: completions are cast back from it.
type iocpOp struct {
	ov     windows.Overlapped
	op     *operation
	buf    windows.WSABuf
	flags  uint32
	qty    uint32
	handle windows.Handle
	addrs  [2 * acceptAddrLen]byte
}

type iocpPort struct {
	iocp     windows.Handle
	acceptFn uintptr
	log      *logrus.Entry
	// inflight pins every posted record until its completion is dequeued.
	inflight map[*iocpOp]struct{}
	byOp     map[*operation]*iocpOp
}

func newIOCPPort(log *logrus.Entry) (*iocpPort, error) {
	wsaStartup.Do(func() {
		var data windows.WSAData
		wsaStartupErr = windows.WSAStartup(uint32(0x202), &data)
	})
	if wsaStartupErr != nil {
		return nil, fmt.Errorf("wsa startup: %w", wsaStartupErr)
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("iocp create: %w", err)
	}
	return &iocpPort{
		iocp:     port,
		log:      log,
		inflight: make(map[*iocpOp]struct{}),
		byOp:     make(map[*operation]*iocpOp),
	}, nil
}

func (p *iocpPort) associate(h api.Handle) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(h), p.iocp, 0, 0)
	if errors.Is(err, errInvalidParameter) {
		// A handle can be bound to one port only; assume it is this one.
		return nil
	}
	return err
}

// resolveAccept asks the provider for AcceptEx and caches it for the life of
// the port. The exported Mswsock entry point is the fallback.
func (p *iocpPort) resolveAccept(listener api.Handle) error {
	if p.acceptFn != 0 {
		return nil
	}
	var fn uintptr
	var n uint32
	err := windows.WSAIoctl(
		windows.Handle(listener),
		windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(&acceptExGUID)),
		uint32(unsafe.Sizeof(acceptExGUID)),
		(*byte)(unsafe.Pointer(&fn)),
		uint32(unsafe.Sizeof(fn)),
		&n,
		nil,
		0,
	)
	if err != nil || fn == 0 {
		if ferr := procAcceptEx.Find(); ferr != nil {
			if err == nil {
				err = ferr
			}
			return fmt.Errorf("resolve AcceptEx: %w", err)
		}
		fn = procAcceptEx.Addr()
	}
	p.acceptFn = fn
	return nil
}

func (p *iocpPort) newSocket(listener api.Handle) (api.Handle, error) {
	family := int32(windows.AF_INET)
	if sa, err := windows.Getsockname(windows.Handle(listener)); err == nil {
		if _, ok := sa.(*windows.SockaddrInet6); ok {
			family = windows.AF_INET6
		}
	}
	s, err := windows.WSASocket(family, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("wsasocket: %w", err)
	}
	if err := setNonblock(s); err != nil {
		windows.Closesocket(s)
		return api.InvalidHandle, err
	}
	if _, err := windows.CreateIoCompletionPort(s, p.iocp, 0, 0); err != nil {
		windows.Closesocket(s)
		return api.InvalidHandle, fmt.Errorf("iocp associate: %w", err)
	}
	return api.Handle(s), nil
}

func setNonblock(s windows.Handle) error {
	mode := uint32(1)
	r1, _, e1 := procIoctlsocket.Call(uintptr(s), uintptr(fionbio), uintptr(unsafe.Pointer(&mode)))
	if r1 != 0 {
		return fmt.Errorf("ioctlsocket FIONBIO: %w", e1)
	}
	return nil
}

func (p *iocpPort) closeSocket(h api.Handle) error {
	return windows.Closesocket(windows.Handle(h))
}

func (p *iocpPort) track(io *iocpOp) {
	p.inflight[io] = struct{}{}
	p.byOp[io.op] = io
}

func (p *iocpPort) acceptEx(listener api.Handle, op *operation) error {
	if p.acceptFn == 0 {
		if err := p.resolveAccept(listener); err != nil {
			return err
		}
	}
	// Cancellation targets the handle the request was issued on.
	io := &iocpOp{op: op, handle: windows.Handle(listener)}
	r1, _, e1 := syscall.SyscallN(p.acceptFn,
		uintptr(listener),
		uintptr(op.sock),
		uintptr(unsafe.Pointer(&io.addrs[0])),
		0,
		acceptAddrLen,
		acceptAddrLen,
		uintptr(unsafe.Pointer(&io.qty)),
		uintptr(unsafe.Pointer(&io.ov)),
	)
	if r1 == 0 && !isPending(e1) {
		if e1 == 0 {
			e1 = syscall.EINVAL
		}
		return e1
	}
	p.track(io)
	return nil
}

func (p *iocpPort) zeroRecv(h api.Handle, op *operation) error {
	io := &iocpOp{op: op, handle: windows.Handle(h)}
	err := windows.WSARecv(io.handle, &io.buf, 1, &io.qty, &io.flags, &io.ov, nil)
	if err != nil && !isPending(err) {
		// Would-block included: nothing was queued, the engine retries.
		return err
	}
	p.track(io)
	return nil
}

func (p *iocpPort) updateAcceptContext(listener, accepted api.Handle) error {
	l := windows.Handle(listener)
	return windows.Setsockopt(
		windows.Handle(accepted),
		windows.SOL_SOCKET,
		windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&l)),
		int32(unsafe.Sizeof(l)),
	)
}

func (p *iocpPort) cancel(h api.Handle, op *operation) error {
	io, ok := p.byOp[op]
	if !ok {
		return nil
	}
	err := windows.CancelIoEx(io.handle, &io.ov)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	return nil
}

func (p *iocpPort) dequeue(timeout time.Duration) (completion, bool, error) {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeoutMillis(timeout))
	}
	var qty uint32
	var key uintptr
	var ov *windows.Overlapped
	err := windows.GetQueuedCompletionStatus(p.iocp, &qty, &key, &ov, ms)
	if ov == nil {
		if err == nil || errors.Is(err, errWaitTimeout) {
			return completion{}, false, nil
		}
		return completion{}, false, fmt.Errorf("iocp dequeue: %w", err)
	}
	io := (*iocpOp)(unsafe.Pointer(ov))
	delete(p.inflight, io)
	delete(p.byOp, io.op)
	return completion{op: io.op, bytes: qty, err: err}, true, nil
}

// close drains completions of cancelled operations for a bounded time, pins
// whatever is still outstanding, then releases the port.
func (p *iocpPort) close() error {
	deadline := time.Now().Add(closeDrain)
	for len(p.inflight) > 0 && time.Now().Before(deadline) {
		if _, _, err := p.dequeue(10 * time.Millisecond); err != nil {
			break
		}
	}
	if n := len(p.inflight); n > 0 {
		p.log.WithField("pending", n).Warn("closing completion port with operations still in flight")
		orphanedMu.Lock()
		for io := range p.inflight {
			orphaned = append(orphaned, io)
		}
		orphanedMu.Unlock()
	}
	p.inflight = nil
	p.byOp = nil
	return windows.CloseHandle(p.iocp)
}
