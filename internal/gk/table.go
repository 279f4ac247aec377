package gk

import (
	"fmt"

	"gatekeeper.io/dataplane/internal/core"
)

// Table is the keyed hash table of §4.5: a flow key hashes to a bucket,
// and insertion returns a stable index that doubles as the slot in the
// parallel dense Entry array. Grounded on
// Psiphon-Labs-psiphon-tunnel-core/psiphon/common/tun/tun.go's
// allocateIndex/convertIPAddressToIndex — a stable small-integer index
// handed out once per key for O(1) array access thereafter — since the
// teacher repo has no array-with-stable-index structure of its own.
//
// Collisions are resolved by bounded linear probing; Insert rejects with
// core.ErrTableFull once a full probe sequence finds no empty or matching
// slot, rather than evicting (§4.5's "tested callers tolerate full", and
// the original source implements no eviction).
//
// Not safe for concurrent use — owned by exactly one GK worker (§5).
type Table struct {
	capacity uint32
	mask     uint32
	occupied []bool
	keys     []core.FlowKey
	entries  []Entry
	count    uint32
}

// New builds an empty Table. capacity must be a power of two (required for
// the mask-based probe sequence and to match the NIC redirection table's
// own power-of-two sizing convention).
func New(capacity int) (*Table, error) {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("gk: table capacity must be a positive power of two, got %d", capacity)
	}
	return &Table{
		capacity: uint32(capacity),
		mask:     uint32(capacity - 1),
		occupied: make([]bool, capacity),
		keys:     make([]core.FlowKey, capacity),
		entries:  make([]Entry, capacity),
	}, nil
}

// Lookup returns the stable index for key if present. hash must be the
// same RSS hash the NIC and the policy feeder compute over key, so that
// lookups performed by the worker that owns the flow always land on the
// bucket its own insert used.
func (t *Table) Lookup(key core.FlowKey, hash uint32) (int, bool) {
	start := hash & t.mask
	for i := uint32(0); i < t.capacity; i++ {
		slot := (start + i) & t.mask
		if !t.occupied[slot] {
			return 0, false
		}
		if t.keys[slot].Equal(key) {
			return int(slot), true
		}
	}
	return 0, false
}

// Insert returns key's existing index if already present, otherwise claims
// the first empty slot in its probe sequence and initializes it to a fresh
// REQUEST-state entry with LastSeenAt=now (so a policy arriving before any
// packet still has a well-formed REQUEST block to transition out of, per
// §4.7). Returns core.ErrTableFull if no slot is available.
func (t *Table) Insert(key core.FlowKey, hash uint32, now uint64) (int, error) {
	if idx, ok := t.Lookup(key, hash); ok {
		return idx, nil
	}
	start := hash & t.mask
	for i := uint32(0); i < t.capacity; i++ {
		slot := (start + i) & t.mask
		if !t.occupied[slot] {
			t.occupied[slot] = true
			t.keys[slot] = key
			t.entries[slot] = Entry{Key: key}
			t.entries[slot].ReinitRequest(now)
			t.count++
			return int(slot), nil
		}
	}
	return 0, core.ErrTableFull
}

// Entry returns a pointer to the entry at index for in-place mutation by
// the owning worker. index must come from a prior Lookup or Insert on the
// same Table.
func (t *Table) Entry(index int) *Entry {
	return &t.entries[index]
}

// Len reports the number of occupied slots.
func (t *Table) Len() int { return int(t.count) }

// Capacity reports the table's fixed slot count.
func (t *Table) Capacity() int { return int(t.capacity) }
