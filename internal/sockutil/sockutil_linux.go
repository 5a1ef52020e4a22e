//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package sockutil

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-iocore/api"
	"golang.org/x/sys/unix"
)

func sockaddr(host string, port int) (*unix.SockaddrInet4, error) {
	sa := &unix.SockaddrInet4{Port: port}
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

// Listen opens a listening IPv4 TCP socket. Port 0 picks an ephemeral port.
func Listen(host string, port, backlog int) (api.Handle, error) {
	sa, err := sockaddr(host, port)
	if err != nil {
		return api.InvalidHandle, err
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("listen: %w", err)
	}
	return api.Handle(fd), nil
}

// LocalPort returns the bound port of h.
func LocalPort(h api.Handle) (int, error) {
	sa, err := unix.Getsockname(int(h))
	if err != nil {
		return 0, err
	}
	if in, ok := sa.(*unix.SockaddrInet4); ok {
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
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return api.InvalidHandle, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return api.InvalidHandle, fmt.Errorf("connect %s:%d: %w", host, port, err)
	}
	return api.Handle(fd), nil
}

// Accept takes one pending connection off l.
func Accept(l api.Handle) (api.Handle, error) {
	for {
		fd, _, err := unix.Accept4(int(l), unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return api.InvalidHandle, err
		}
		return api.Handle(fd), nil
	}
}

func Read(h api.Handle, p []byte) (int, error) {
	for {
		n, err := unix.Read(int(h), p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func Write(h api.Handle, p []byte) (int, error) {
	for {
		n, err := unix.Write(int(h), p)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func Close(h api.Handle) error {
	return unix.Close(int(h))
}

// Abort closes h with a zero linger so the peer sees a reset.
func Abort(h api.Handle) error {
	if err := unix.SetsockoptLinger(int(h), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0}); err != nil {
		return err
	}
	return unix.Close(int(h))
}

// WouldBlock reports whether err means a non-blocking call found nothing.
func WouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
