// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

import "sort"

// SparseStateTable is a per-record sorted slice of PackedOffsets keyed by
// their 8-bit type tag. At most one entry exists per state key, and
// entries are kept in strictly ascending tag order.
//
// This is deliberately not a generic container: the entries it holds are
// part of the on-disk wire format (§4.7), so growth is left to Go's own
// slice-growth policy rather than reimplementing a bespoke "ideal array
// size" scheme.
type SparseStateTable struct {
	entries []PackedOffset
}

// find returns the index of state if present, or the bitwise complement
// of the index it should be inserted at otherwise. Mirrors sort.Search.
func (t *SparseStateTable) find(state uint8) int {
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Tag() >= state
	})
	if idx < len(t.entries) && t.entries[idx].Tag() == state {
		return idx
	}
	return ^idx
}

// Get returns the offset stored for state, if any.
func (t *SparseStateTable) Get(state uint8) (PackedOffset, bool) {
	idx := t.find(state)
	if idx < 0 {
		return 0, false
	}
	return t.entries[idx], true
}

// Insert returns the offset for state, allocating slots longs from pool
// and splicing a new entry into sorted position on a miss.
func (t *SparseStateTable) Insert(pool *LongPool, state uint8, slots int) PackedOffset {
	idx := t.find(state)
	if idx >= 0 {
		return t.entries[idx]
	}
	insertAt := ^idx
	off := pool.Alloc(slots).withTag(state)
	t.entries = append(t.entries, 0)
	copy(t.entries[insertAt+1:], t.entries[insertAt:])
	t.entries[insertAt] = off
	return off
}

// Entries returns the table's offsets in ascending tag order. The state
// key for an entry is its Tag(). Callers must not mutate the returned
// slice.
func (t *SparseStateTable) Entries() []PackedOffset {
	return t.entries
}

// Len reports the number of entries in the table.
func (t *SparseStateTable) Len() int { return len(t.entries) }
