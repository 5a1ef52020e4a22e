// File: reactor/completion.go
// Author: momentics <momentics@gmail.com>
//
// Completion-model backend. Readiness is emulated with zero-length receives;
// listening sockets keep a pool of pre-posted accepts that is replenished
// before every wait returns.

package reactor

import (
	"fmt"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-iocore/api"
	"github.com/sirupsen/logrus"
)

// slotRef names an accept slot waiting for replenishment.
type slotRef struct {
	owner entryID
	slot  int
}

type completionSource struct {
	sourceEnv
	port   completionPort
	refill *queue.Queue
	// rearms lists clients whose next zero-length receive is posted after the
	// current drain, so one wait reports a handle at most once.
	rearms []entryID
}

func newCompletionSource(env sourceEnv, port completionPort) *completionSource {
	return &completionSource{
		sourceEnv: env,
		port:      port,
		refill:    queue.New(),
	}
}

func (s *completionSource) name() string { return "completion" }

func (s *completionSource) bind(e *entry) error {
	if e.bound {
		return nil
	}
	if err := s.port.associate(e.handle); err != nil {
		return fmt.Errorf("%w: handle %d: %w", api.ErrAssociate, e.handle, err)
	}
	e.bound = true
	return nil
}

func (s *completionSource) attach(e *entry) error {
	if err := s.bind(e); err != nil {
		return err
	}
	if e.recv != nil {
		return nil
	}
	return s.postZeroRecv(e)
}

func (s *completionSource) attachListener(e *entry) error {
	if err := s.bind(e); err != nil {
		return err
	}
	if err := s.port.resolveAccept(e.handle); err != nil {
		return fmt.Errorf("%w: resolve accept: %w", api.ErrArmAccept, err)
	}
	if e.slots == nil {
		e.slots = newSlots(s.cfg.AcceptPoolSize)
	}
	for i := range e.slots {
		if e.slots[i].pending() {
			continue
		}
		if err := s.postAccept(e, i); err != nil {
			return fmt.Errorf("%w: slot %d: %w", api.ErrArmAccept, i, err)
		}
	}
	return nil
}

// postZeroRecv arms one zero-length receive standing in for read-readiness.
func (s *completionSource) postZeroRecv(e *entry) error {
	op := &operation{kind: opZeroRecv, owner: e.id, slot: noSlot, sock: e.handle}
	err := s.port.zeroRecv(e.handle, op)
	switch {
	case err == nil:
		e.recv = op
		return nil
	case isNotConnected(err):
		// Right after an accept handoff the stack may not report the
		// connection yet. Register arms it again.
		s.log.WithField("handle", e.handle).Debug("zero-length receive: not connected, ignored")
		return nil
	case isWouldBlock(err):
		s.log.WithField("handle", e.handle).Debug("zero-length receive: would block, retried on next wait")
		s.rearms = append(s.rearms, e.id)
		return nil
	default:
		e.active = false
		return fmt.Errorf("zero-length receive on handle %d: %w", e.handle, err)
	}
}

// postAccept fills slot i with a fresh socket when empty and issues the
// pre-accept against it. On failure the slot is left empty.
func (s *completionSource) postAccept(e *entry, i int) error {
	slot := &e.slots[i]
	if slot.empty() {
		h, err := s.port.newSocket(e.handle)
		if err != nil {
			return fmt.Errorf("create accept socket: %w", err)
		}
		slot.sock = h
		s.table.indexSlot(h, e, i)
	}
	op := &operation{kind: opAccept, owner: e.id, slot: i, sock: slot.sock}
	if err := s.port.acceptEx(e.handle, op); err != nil {
		s.discardSlotSocket(e, i)
		return fmt.Errorf("accept on handle %d: %w", e.handle, err)
	}
	slot.op = op
	s.metrics.AcceptPosted(1)
	return nil
}

// discardSlotSocket closes the reactor-owned socket of slot i and resets it.
func (s *completionSource) discardSlotSocket(e *entry, i int) {
	slot := &e.slots[i]
	if slot.empty() {
		return
	}
	s.table.unindex(slot.sock, e, i)
	if err := s.port.closeSocket(slot.sock); err != nil {
		s.log.WithError(err).WithField("handle", slot.sock).Debug("close accept socket")
	}
	slot.sock = api.InvalidHandle
}

// cancelSlot abandons the in-flight accept of slot i. Its completion is
// dropped later because the slot no longer holds the operation.
func (s *completionSource) cancelSlot(e *entry, i int) {
	slot := &e.slots[i]
	if slot.op != nil {
		if err := s.port.cancel(slot.sock, slot.op); err != nil {
			s.log.WithError(err).WithField("handle", slot.sock).Debug("cancel accept")
		}
		slot.op = nil
		s.metrics.AcceptPosted(-1)
	}
	s.discardSlotSocket(e, i)
}

func (s *completionSource) detach(e *entry) {
	if e.recv != nil {
		if err := s.port.cancel(e.handle, e.recv); err != nil {
			s.log.WithError(err).WithField("handle", e.handle).Debug("cancel zero-length receive")
		}
		e.recv = nil
	}
	for i := range e.slots {
		s.cancelSlot(e, i)
	}
	e.active = false
}

func (s *completionSource) detachSlot(e *entry, i int) {
	s.cancelSlot(e, i)
	if !e.active {
		return
	}
	if err := s.postAccept(e, i); err != nil {
		s.log.WithError(err).WithField("slot", i).Warn("re-arm detached accept slot")
		s.queueRefill(e, i)
	}
}

func (s *completionSource) queueRefill(e *entry, i int) {
	s.refill.Add(slotRef{owner: e.id, slot: i})
}

// replenish re-arms every queued slot. Slots that fail stay queued for the
// next drain pass.
func (s *completionSource) replenish() {
	for n := s.refill.Length(); n > 0; n-- {
		ref := s.refill.Remove().(slotRef)
		e := s.table.get(ref.owner)
		if e == nil || !e.active || e.role != roleListening || ref.slot >= len(e.slots) {
			continue
		}
		if e.slots[ref.slot].pending() {
			continue
		}
		if err := s.postAccept(e, ref.slot); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"handle": e.handle, "slot": ref.slot}).Warn("replenish accept slot")
			s.queueRefill(e, ref.slot)
		}
	}
}

func (s *completionSource) wait(b *api.EventBatch, timeout time.Duration) (int, error) {
	// Slots and receives that failed to re-arm on a previous pass get
	// another try first.
	s.replenish()
	s.flushRearms()

	n := 0
	for !b.Full() {
		wait := timeout
		if n > 0 {
			wait = 0
		}
		c, ok, err := s.port.dequeue(wait)
		if err != nil {
			s.replenish()
			s.flushRearms()
			return n, fmt.Errorf("dequeue completion: %w", err)
		}
		if !ok {
			break
		}
		n++
		s.dispatch(c, b)
	}
	s.replenish()
	s.flushRearms()
	return n, nil
}

// dispatch classifies one completion; it appends at most one record.
func (s *completionSource) dispatch(c completion, b *api.EventBatch) {
	if c.op == nil {
		s.metrics.Dropped()
		return
	}
	e := s.table.get(c.op.owner)
	if e == nil {
		s.metrics.Dropped()
		return
	}
	switch c.op.kind {
	case opAccept:
		s.completeAccept(e, c, b)
	case opZeroRecv:
		s.completeRecv(e, c, b)
	default:
		s.metrics.Dropped()
	}
}

func (s *completionSource) completeRecv(e *entry, c completion, b *api.EventBatch) {
	if e.recv != c.op {
		s.metrics.Dropped()
		return
	}
	e.recv = nil

	if c.err != nil {
		switch {
		case isAborted(c.err):
			// Cancelled by something other than detach; arm again.
			s.metrics.Dropped()
			s.rearmLater(e)
		case isDisconnect(c.err):
			e.active = false
			b.Append(api.EventRecord{Handle: e.handle, Kind: api.EventDisconnect, ErrorCode: api.Errno(c.err)})
		default:
			b.Append(api.EventRecord{Handle: e.handle, Kind: api.EventError, ErrorCode: api.Errno(c.err)})
			s.rearmLater(e)
		}
		return
	}

	b.Append(api.EventRecord{Handle: e.handle, Kind: api.EventRead, ByteCount: uintptr(c.bytes)})
	s.rearmLater(e)
}

// rearmLater defers the next zero-length receive of e to flushRearms. A
// receive on a socket with unread data completes at once; posting it inside
// the drain would report the same handle again in this wait.
func (s *completionSource) rearmLater(e *entry) {
	if e.active {
		s.rearms = append(s.rearms, e.id)
	}
}

func (s *completionSource) flushRearms() {
	ids := s.rearms
	s.rearms = nil
	for _, id := range ids {
		e := s.table.get(id)
		if e == nil || e.role != roleClient || e.recv != nil {
			continue
		}
		s.rearm(e)
	}
}

func (s *completionSource) rearm(e *entry) {
	if !e.active {
		return
	}
	if err := s.postZeroRecv(e); err != nil {
		s.log.WithError(err).WithField("handle", e.handle).Warn("re-arm zero-length receive, entry deactivated")
	}
}

func (s *completionSource) completeAccept(e *entry, c completion, b *api.EventBatch) {
	if c.op.slot < 0 || c.op.slot >= len(e.slots) || e.slots[c.op.slot].op != c.op {
		s.metrics.Dropped()
		return
	}
	i := c.op.slot
	slot := &e.slots[i]
	slot.op = nil
	s.metrics.AcceptPosted(-1)

	if c.err != nil {
		if isAborted(c.err) {
			s.metrics.Dropped()
		} else {
			b.Append(api.EventRecord{Handle: e.handle, Kind: api.EventError, ErrorCode: api.Errno(c.err)})
		}
		s.recycle(e, i)
		return
	}

	sock := slot.sock
	if err := s.port.updateAcceptContext(e.handle, sock); err != nil {
		b.Append(api.EventRecord{Handle: e.handle, Kind: api.EventError, ErrorCode: api.Errno(err)})
		s.recycle(e, i)
		return
	}

	// Ownership of sock moves to the caller.
	s.table.unindex(sock, e, i)
	slot.sock = api.InvalidHandle
	b.Append(api.EventRecord{
		Handle:    sock,
		Kind:      api.EventAcceptCompleted,
		ByteCount: uintptr(c.bytes),
		UserTag:   uintptr(e.handle),
	})
	s.promote(sock)
	s.queueRefill(e, i)
}

// promote turns an accepted socket into an active client entry with its own
// zero-length receive.
func (s *completionSource) promote(sock api.Handle) {
	if old, _, ok := s.table.lookup(sock); ok {
		// A stale registration for a recycled handle value.
		s.detach(old)
		s.table.remove(old)
	}
	ce := s.table.insert(sock, roleClient)
	ce.bound = true
	if err := s.postZeroRecv(ce); err != nil {
		s.log.WithError(err).WithField("handle", sock).Warn("arm accepted socket, entry deactivated")
	}
	s.metrics.SetRegistered(s.table.len())
}

// recycle closes the slot socket and queues the slot for replenishment.
func (s *completionSource) recycle(e *entry, i int) {
	s.discardSlotSocket(e, i)
	s.queueRefill(e, i)
}

func (s *completionSource) close() error {
	s.table.each(func(e *entry) {
		s.detach(e)
		s.table.remove(e)
	})
	for s.refill.Length() > 0 {
		s.refill.Remove()
	}
	s.rearms = nil
	return s.port.close()
}
