// File: reactor/table.go
// Author: momentics <momentics@gmail.com>
//
// Registration table: an arena of entries addressed by generation-checked
// ids plus a handle index. Accept-pool sockets are indexed next to top-level
// handles, tagged with their owning entry and slot, so every lookup is a
// single map probe.

package reactor

import "github.com/momentics/hioload-iocore/api"

const noSlot = -1

type handleRef struct {
	id   entryID
	slot int
}

type table struct {
	arena []*entry
	gens  []uint32
	free  []uint32
	index map[api.Handle]handleRef
	count int
}

func newTable(sizeHint int) *table {
	return &table{
		index: make(map[api.Handle]handleRef, sizeHint),
	}
}

// insert creates a top-level entry for h. The caller guarantees h is not
// indexed yet.
func (t *table) insert(h api.Handle, r role) *entry {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.arena))
		t.arena = append(t.arena, nil)
		t.gens = append(t.gens, 0)
	}
	t.gens[idx]++
	e := &entry{
		id:     entryID{index: idx, gen: t.gens[idx]},
		handle: h,
		role:   r,
		active: true,
	}
	t.arena[idx] = e
	t.index[h] = handleRef{id: e.id, slot: noSlot}
	t.count++
	return e
}

// get resolves an id; nil when the entry was removed or the slot reused.
func (t *table) get(id entryID) *entry {
	if int(id.index) >= len(t.arena) {
		return nil
	}
	e := t.arena[id.index]
	if e == nil || e.id.gen != id.gen {
		return nil
	}
	return e
}

// lookup resolves h to its entry and, for accept-pool sockets, the slot
// index (noSlot for top-level handles).
func (t *table) lookup(h api.Handle) (*entry, int, bool) {
	ref, ok := t.index[h]
	if !ok {
		return nil, noSlot, false
	}
	e := t.get(ref.id)
	if e == nil {
		delete(t.index, h)
		return nil, noSlot, false
	}
	return e, ref.slot, true
}

func (t *table) indexSlot(h api.Handle, e *entry, slot int) {
	t.index[h] = handleRef{id: e.id, slot: slot}
}

// unindex drops h only if it still points at the given entry and slot.
func (t *table) unindex(h api.Handle, e *entry, slot int) {
	if ref, ok := t.index[h]; ok && ref.id == e.id && ref.slot == slot {
		delete(t.index, h)
	}
}

// remove frees e. Slot sockets must already be unindexed.
func (t *table) remove(e *entry) {
	if t.get(e.id) != e {
		return
	}
	t.unindex(e.handle, e, noSlot)
	t.arena[e.id.index] = nil
	t.free = append(t.free, e.id.index)
	t.count--
}

// len returns the number of top-level entries.
func (t *table) len() int {
	return t.count
}

// each visits live entries in arena order; fn may remove the visited entry.
func (t *table) each(fn func(e *entry)) {
	for _, e := range t.arena {
		if e != nil {
			fn(e)
		}
	}
}

func (t *table) listeners() int {
	n := 0
	t.each(func(e *entry) {
		if e.role == roleListening {
			n++
		}
	})
	return n
}
