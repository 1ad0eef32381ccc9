// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

// LongsSize is the fixed capacity, in 64-bit longs, of each array a
// LongPool allocates. Part of the on-disk format; changing it requires
// bumping the codec version (§9 of the governing spec).
const LongsSize = 4096

// PackedOffset is a 32-bit token locating a group of longs in a LongPool:
//
//	bits 0..7   8-bit type tag (a composite state key once the offset is
//	            installed into a SparseStateTable; 0 for a bare allocation)
//	bits 8..15  index of the backing array within the pool
//	bits 16..31 starting index within that array
type PackedOffset uint32

func newPackedOffset(arrayIdx uint8, index uint16, tag uint8) PackedOffset {
	return PackedOffset(uint32(tag) | uint32(arrayIdx)<<8 | uint32(index)<<16)
}

// Tag returns the 8-bit type tag of the offset.
func (o PackedOffset) Tag() uint8 { return uint8(o) }

// ArrayIndex returns the index of the backing array within the pool.
func (o PackedOffset) ArrayIndex() int { return int(uint8(o >> 8)) }

// Index returns the starting index within the backing array.
func (o PackedOffset) Index() int { return int(uint16(o >> 16)) }

// withTag returns a copy of o with its type tag replaced.
func (o PackedOffset) withTag(tag uint8) PackedOffset {
	return newPackedOffset(uint8(o.ArrayIndex()), uint16(o.Index()), tag)
}

// LongPool is a growable, append-only pool of fixed-capacity int64 arrays.
// It hands out PackedOffsets addressing groups of longs within the pool.
// The pool is monotonic within a window: there is no free list, only
// Reset, which drops every array.
//
// LongPool is not safe for concurrent use; callers are expected to
// serialize access the same way the rest of this package does (see the
// package doc comment).
type LongPool struct {
	arrays [][]int64
	next   int // next free index in arrays[len(arrays)-1]
}

// NewLongPool returns a LongPool pre-seeded with one empty array.
func NewLongPool() *LongPool {
	return &LongPool{arrays: [][]int64{make([]int64, LongsSize)}}
}

// Alloc reserves n contiguous longs and returns a PackedOffset addressing
// them, with its type tag left at 0. If the tail array lacks space, a
// fresh LongsSize array is allocated and the cursor resets to 0.
func (p *LongPool) Alloc(n int) PackedOffset {
	if n <= 0 || n > LongsSize {
		panic("procstats: LongPool.Alloc: invalid slot count")
	}
	last := len(p.arrays) - 1
	if p.next+n > LongsSize {
		p.arrays = append(p.arrays, make([]int64, LongsSize))
		last++
		p.next = 0
	}
	off := newPackedOffset(uint8(last), uint16(p.next), 0)
	p.next += n
	return off
}

// Get reads the i-th long relative to off.
func (p *LongPool) Get(off PackedOffset, i int) int64 {
	return p.arrays[off.ArrayIndex()][off.Index()+i]
}

// Set writes the i-th long relative to off.
func (p *LongPool) Set(off PackedOffset, i int, v int64) {
	p.arrays[off.ArrayIndex()][off.Index()+i] = v
}

// Validate reports whether off is structurally sound: both the array
// index and the in-array index must be in range. Used defensively during
// deserialization (§4.7); a failed validation must reject the whole parse.
func (p *LongPool) Validate(off PackedOffset) bool {
	ai := off.ArrayIndex()
	if ai < 0 || ai >= len(p.arrays) {
		return false
	}
	idx := off.Index()
	return idx >= 0 && idx < LongsSize
}

// NumArrays returns the number of backing arrays currently allocated.
func (p *LongPool) NumArrays() int { return len(p.arrays) }

// NextInLast returns the in-array cursor of the tail array, i.e. how many
// of its longs are actually populated.
func (p *LongPool) NextInLast() int { return p.next }

// Array returns the backing slice for array i. Callers must not retain or
// mutate it beyond the pool's own lifetime assumptions.
func (p *LongPool) Array(i int) []int64 { return p.arrays[i] }

// Reset drops all arrays and pre-seeds a single empty one.
func (p *LongPool) Reset() {
	p.arrays = [][]int64{make([]int64, LongsSize)}
	p.next = 0
}

// restoreLongPool reconstructs a LongPool from arrays read off disk. next
// is the in-array cursor of the tail array (arrays[len(arrays)-1]).
func restoreLongPool(arrays [][]int64, next int) *LongPool {
	return &LongPool{arrays: arrays, next: next}
}
