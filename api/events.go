// File: api/events.go
// Package api defines the portable event vocabulary shared by every reactor backend.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventRecord and EventBatch are written directly into host memory by the
// C ABI layer, so their field order and widths mirror io_event and
// io_event_list in cmd/iocore/io_core.h.

package api

// MaxEvents is the hard cap of records returned by one Select call.
const MaxEvents = 128

// Handle is an OS socket identifier (fd on Linux, SOCKET on Windows).
type Handle int32

// InvalidHandle marks an empty accept slot.
const InvalidHandle Handle = -1

// EventKind classifies a delivered notification.
type EventKind int32

const (
	EventRead            EventKind = 1
	EventWrite           EventKind = 2
	EventError           EventKind = 3
	EventDisconnect      EventKind = 4
	EventAcceptCompleted EventKind = 5
)

func (k EventKind) String() string {
	switch k {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventError:
		return "error"
	case EventDisconnect:
		return "disconnect"
	case EventAcceptCompleted:
		return "accept"
	default:
		return "unknown"
	}
}

// EventRecord is one notification.
//
// For EventAcceptCompleted, Handle is the newly accepted socket and UserTag
// carries the listening handle it was accepted on.
type EventRecord struct {
	Handle    Handle
	Kind      EventKind
	ErrorCode int32
	ByteCount uintptr // size_t
	UserTag   uintptr // void*
}

// EventBatch is the bounded output of one Select call, in discovery order.
type EventBatch struct {
	Count  int32
	Events [MaxEvents]EventRecord
}

// Reset empties the batch.
func (b *EventBatch) Reset() {
	b.Count = 0
}

// Full reports whether the batch reached MaxEvents.
func (b *EventBatch) Full() bool {
	return b.Count >= MaxEvents
}

// Append adds a record; returns false when the batch is full.
func (b *EventBatch) Append(rec EventRecord) bool {
	if b.Full() {
		return false
	}
	b.Events[b.Count] = rec
	b.Count++
	return true
}

// Slice returns the filled part of the batch.
func (b *EventBatch) Slice() []EventRecord {
	return b.Events[:b.Count]
}
