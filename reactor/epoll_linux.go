//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll readiness backend.

package reactor

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-iocore/api"
	"golang.org/x/sys/unix"
)

// epollSource is a level-triggered epoll backend watching read-readiness.
type epollSource struct {
	sourceEnv
	epfd   int
	events [api.MaxEvents]unix.EpollEvent
}

func newEpollSource(env sourceEnv) (*epollSource, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollSource{sourceEnv: env, epfd: epfd}, nil
}

func (s *epollSource) name() string { return "epoll" }

func (s *epollSource) add(e *entry) error {
	fd := int(e.handle)
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("%w: set non-blocking %d: %w", api.ErrAssociate, fd, err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		err = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("%w: epoll ctl add %d: %w", api.ErrAssociate, fd, err)
	}
	return nil
}

func (s *epollSource) attach(e *entry) error {
	return s.add(e)
}

// attachListener watches the listening socket for read-readiness only; the
// caller accepts on Read.
func (s *epollSource) attachListener(e *entry) error {
	return s.add(e)
}

func (s *epollSource) remove(e *entry) {
	if err := unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, int(e.handle), nil); err != nil && err != unix.ENOENT {
		s.log.WithError(err).WithField("handle", e.handle).Debug("epoll ctl del")
	}
}

func (s *epollSource) detach(e *entry) {
	if e.active {
		s.remove(e)
	}
	e.active = false
}

// detachSlot has nothing to do: this backend keeps no accept pool.
func (s *epollSource) detachSlot(*entry, int) {}

func (s *epollSource) wait(b *api.EventBatch, timeout time.Duration) (int, error) {
	room := api.MaxEvents - int(b.Count)
	if room <= 0 {
		return 0, nil
	}
	n, err := unix.EpollWait(s.epfd, s.events[:room], timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	for i := 0; i < n; i++ {
		ev := s.events[i]
		h := api.Handle(ev.Fd)
		e, slot, ok := s.table.lookup(h)
		if !ok || slot != noSlot || !e.active {
			s.metrics.Dropped()
			continue
		}
		rec := api.EventRecord{Handle: h, Kind: classifyEpoll(ev.Events)}
		switch rec.Kind {
		case api.EventDisconnect:
			rec.ErrorCode = socketError(int(h))
			s.remove(e)
			e.active = false
		case api.EventError:
			rec.ErrorCode = socketError(int(h))
		}
		b.Append(rec)
	}
	return n, nil
}

// classifyEpoll maps reported bits to one kind; later checks win, matching
// HUP > ERR > OUT > IN.
func classifyEpoll(bits uint32) api.EventKind {
	var kind api.EventKind
	if bits&unix.EPOLLIN != 0 {
		kind = api.EventRead
	}
	if bits&unix.EPOLLOUT != 0 {
		kind = api.EventWrite
	}
	if bits&unix.EPOLLERR != 0 {
		kind = api.EventError
	}
	if bits&unix.EPOLLHUP != 0 {
		kind = api.EventDisconnect
	}
	if kind == 0 {
		kind = api.EventRead
	}
	return kind
}

// socketError reads and clears the pending SO_ERROR.
func socketError(fd int) int32 {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return int32(api.Errno(err))
	}
	return int32(v)
}

func (s *epollSource) close() error {
	s.table.each(func(e *entry) {
		s.detach(e)
		s.table.remove(e)
	})
	return unix.Close(s.epfd)
}
