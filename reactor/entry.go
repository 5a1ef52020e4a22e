// File: reactor/entry.go
// Author: momentics <momentics@gmail.com>
//
// Per-handle registration state shared by every backend.

package reactor

import "github.com/momentics/hioload-iocore/api"

type role uint8

const (
	roleClient role = iota + 1
	roleListening
)

func (r role) String() string {
	switch r {
	case roleClient:
		return "client"
	case roleListening:
		return "listening"
	default:
		return "none"
	}
}

// entryID addresses an arena slot; gen changes every time the slot is reused
// so stale completions never resolve to a newer entry.
type entryID struct {
	index uint32
	gen   uint32
}

// entry is the reactor's record of one registered handle.
type entry struct {
	id     entryID
	handle api.Handle
	role   role
	active bool

	// bound is set once the handle is associated with the completion port.
	bound bool
	// recv is the outstanding zero-length receive, if any.
	recv *operation
	// slots is the accept pool of a listening entry on the completion backend.
	slots []acceptSlot
}

// acceptSlot is one speculative accept.
type acceptSlot struct {
	index int
	sock  api.Handle
	op    *operation
}

func (s *acceptSlot) empty() bool {
	return s.sock == api.InvalidHandle
}

func (s *acceptSlot) pending() bool {
	return s.op != nil
}

func newSlots(n int) []acceptSlot {
	slots := make([]acceptSlot, n)
	for i := range slots {
		slots[i] = acceptSlot{index: i, sock: api.InvalidHandle}
	}
	return slots
}

// pendingAccepts counts slots with an accept in flight.
func (e *entry) pendingAccepts() int {
	n := 0
	for i := range e.slots {
		if e.slots[i].pending() {
			n++
		}
	}
	return n
}

type opKind uint8

const (
	opZeroRecv opKind = iota + 1
	opAccept
)

func (k opKind) String() string {
	switch k {
	case opZeroRecv:
		return "zero-recv"
	case opAccept:
		return "accept"
	default:
		return "unknown"
	}
}

// operation is one posted asynchronous request. Each post allocates a fresh
// value, so a completion identifies its purpose and target on its own and
// can be compared against what the entry currently holds.
type operation struct {
	kind  opKind
	owner entryID
	slot  int
	// sock is the pre-created socket an accept completes into.
	sock api.Handle
}
