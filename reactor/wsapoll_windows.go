//go:build windows
// +build windows

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Windows WSAPoll readiness backend. Reduced contract:
// listening sockets report Read and the caller accepts synchronously.

package reactor

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/momentics/hioload-iocore/api"
	"golang.org/x/sys/windows"
)

var procWSAPoll = modws2_32.NewProc("WSAPoll")

const (
	pollRdNorm = 0x0100
	pollRdBand = 0x0200
	pollIn     = pollRdNorm | pollRdBand
	pollWrNorm = 0x0010
	pollOut    = pollWrNorm
	pollErr    = 0x0001
	pollHup    = 0x0002
	pollNval   = 0x0004

	socketError = ^uintptr(0)

	// idlePoll bounds one sleep while every entry is deactivated.
	idlePoll = 50 * time.Millisecond
)

type wsaPollFD struct {
	fd      windows.Handle
	events  int16
	revents int16
}

type wsaPollSource struct {
	sourceEnv
	fds   []wsaPollFD
	dirty bool
}

func newWSAPollSource(env sourceEnv) (*wsaPollSource, error) {
	if err := procWSAPoll.Find(); err != nil {
		return nil, fmt.Errorf("%w: WSAPoll: %w", api.ErrNotSupported, err)
	}
	return &wsaPollSource{sourceEnv: env, dirty: true}, nil
}

func (s *wsaPollSource) name() string { return "wsapoll" }

func (s *wsaPollSource) attach(e *entry) error {
	if err := setNonblock(windows.Handle(e.handle)); err != nil {
		return fmt.Errorf("%w: %w", api.ErrAssociate, err)
	}
	s.dirty = true
	return nil
}

func (s *wsaPollSource) attachListener(e *entry) error {
	return s.attach(e)
}

func (s *wsaPollSource) detach(e *entry) {
	e.active = false
	s.dirty = true
}

func (s *wsaPollSource) detachSlot(*entry, int) {}

// rebuild refreshes the poll set from the active entries.
func (s *wsaPollSource) rebuild() {
	s.fds = s.fds[:0]
	s.table.each(func(e *entry) {
		if e.active {
			s.fds = append(s.fds, wsaPollFD{fd: windows.Handle(e.handle), events: pollIn})
		}
	})
	s.dirty = false
}

func (s *wsaPollSource) wait(b *api.EventBatch, timeout time.Duration) (int, error) {
	if s.dirty {
		s.rebuild()
	}
	if len(s.fds) == 0 {
		if timeout < 0 || timeout > idlePoll {
			timeout = idlePoll
		}
		time.Sleep(timeout)
		return 0, nil
	}
	for i := range s.fds {
		s.fds[i].revents = 0
	}
	r1, _, e1 := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&s.fds[0])),
		uintptr(len(s.fds)),
		uintptr(int32(timeoutMillis(timeout))),
	)
	if r1 == socketError {
		return 0, fmt.Errorf("wsapoll: %w", e1)
	}
	if r1 == 0 {
		return 0, nil
	}

	n := 0
	for i := range s.fds {
		re := s.fds[i].revents
		if re == 0 {
			continue
		}
		n++
		if b.Full() {
			// Level-triggered: the rest is reported on the next call.
			continue
		}
		h := api.Handle(s.fds[i].fd)
		e, slot, ok := s.table.lookup(h)
		if !ok || slot != noSlot || !e.active {
			s.metrics.Dropped()
			continue
		}
		rec := api.EventRecord{Handle: h, Kind: classifyPoll(re)}
		switch rec.Kind {
		case api.EventDisconnect:
			rec.ErrorCode = pendingSocketError(h)
			e.active = false
			s.dirty = true
		case api.EventError:
			rec.ErrorCode = pendingSocketError(h)
		}
		b.Append(rec)
	}
	return n, nil
}

// classifyPoll applies the precedence HUP > ERR > OUT > IN.
func classifyPoll(re int16) api.EventKind {
	kind := api.EventRead
	if re&pollIn == 0 && re&pollOut != 0 {
		kind = api.EventWrite
	}
	if re&(pollErr|pollNval) != 0 {
		kind = api.EventError
	}
	if re&pollHup != 0 {
		kind = api.EventDisconnect
	}
	return kind
}

func pendingSocketError(h api.Handle) int32 {
	v, err := windows.GetsockoptInt(windows.Handle(h), windows.SOL_SOCKET, windows.SO_ERROR)
	if err != nil {
		return api.Errno(err)
	}
	return int32(v)
}

func (s *wsaPollSource) close() error {
	s.table.each(func(e *entry) {
		s.detach(e)
		s.table.remove(e)
	})
	s.fds = nil
	return nil
}
