//go:build windows
// +build windows

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package sockutil

import (
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/momentics/hioload-iocore/api"
	"golang.org/x/sys/windows"
)

var (
	modws2_32  = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept = modws2_32.NewProc("accept")

	startup    sync.Once
	startupErr error
)

func wsaStartup() error {
	startup.Do(func() {
		var data windows.WSAData
		startupErr = windows.WSAStartup(uint32(0x202), &data)
	})
	return startupErr
}

func sockaddr(host string, port int) (*windows.SockaddrInet4, error) {
	sa := &windows.SockaddrInet4{Port: port}
	if host == "" {
		return sa, nil
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return nil, fmt.Errorf("sockutil: not an IPv4 address: %q", host)
	}
	copy(sa.Addr[:], ip)
	return sa, nil
}

// newSocket creates an overlapped socket so it can be bound to a completion
// port later.
func newSocket() (windows.Handle, error) {
	if err := wsaStartup(); err != nil {
		return windows.InvalidHandle, fmt.Errorf("wsa startup: %w", err)
	}
	s, err := windows.WSASocket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return windows.InvalidHandle, fmt.Errorf("wsasocket: %w", err)
	}
	return s, nil
}

// Listen opens a listening IPv4 TCP socket. Port 0 picks an ephemeral port.
func Listen(host string, port, backlog int) (api.Handle, error) {
	sa, err := sockaddr(host, port)
	if err != nil {
		return api.InvalidHandle, err
	}
	s, err := newSocket()
	if err != nil {
		return api.InvalidHandle, err
	}
	if err := windows.Bind(s, sa); err != nil {
		windows.Closesocket(s)
		return api.InvalidHandle, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := windows.Listen(s, backlog); err != nil {
		windows.Closesocket(s)
		return api.InvalidHandle, fmt.Errorf("listen: %w", err)
	}
	return api.Handle(s), nil
}

// LocalPort returns the bound port of h.
func LocalPort(h api.Handle) (int, error) {
	sa, err := windows.Getsockname(windows.Handle(h))
	if err != nil {
		return 0, err
	}
	if in, ok := sa.(*windows.SockaddrInet4); ok {
		return in.Port, nil
	}
	return 0, fmt.Errorf("sockutil: unexpected address family")
}

// Dial connects a blocking IPv4 TCP socket.
func Dial(host string, port int) (api.Handle, error) {
	sa, err := sockaddr(host, port)
	if err != nil {
		return api.InvalidHandle, err
	}
	s, err := newSocket()
	if err != nil {
		return api.InvalidHandle, err
	}
	if err := windows.Connect(s, sa); err != nil {
		windows.Closesocket(s)
		return api.InvalidHandle, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	return api.Handle(s), nil
}

// Accept takes one pending connection off l.
func Accept(l api.Handle) (api.Handle, error) {
	r1, _, e1 := procAccept.Call(uintptr(l), 0, 0)
	if windows.Handle(r1) == windows.InvalidHandle {
		return api.InvalidHandle, e1
	}
	return api.Handle(r1), nil
}

func Read(h api.Handle, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var n, flags uint32
	if err := windows.WSARecv(windows.Handle(h), &buf, 1, &n, &flags, nil, nil); err != nil {
		return 0, err
	}
	return int(n), nil
}

func Write(h api.Handle, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := windows.WSABuf{Len: uint32(len(p)), Buf: &p[0]}
	var n uint32
	if err := windows.WSASend(windows.Handle(h), &buf, 1, &n, 0, nil, nil); err != nil {
		return 0, err
	}
	return int(n), nil
}

func Close(h api.Handle) error {
	return windows.Closesocket(windows.Handle(h))
}

// Abort closes h with a zero linger so the peer sees a reset.
func Abort(h api.Handle) error {
	l := windows.Linger{Onoff: 1, Linger: 0}
	if err := windows.SetsockoptLinger(windows.Handle(h), windows.SOL_SOCKET, windows.SO_LINGER, &l); err != nil {
		return err
	}
	return windows.Closesocket(windows.Handle(h))
}

// WouldBlock reports whether err means a non-blocking call found nothing.
func WouldBlock(err error) bool {
	return err == syscall.Errno(10035) // WSAEWOULDBLOCK
}
