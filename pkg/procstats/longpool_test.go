// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sysrecord/procstats/pkg/procstats"
)

func TestLongPool(t *testing.T) {
	t.Run("alloc within one array", func(t *testing.T) {
		p := procstats.NewLongPool()
		off := p.Alloc(4)
		assert.True(t, p.Validate(off))
		assert.Equal(t, 1, p.NumArrays())

		p.Set(off, 0, 42)
		p.Set(off, 3, 7)
		assert.Equal(t, int64(42), p.Get(off, 0))
		assert.Equal(t, int64(7), p.Get(off, 3))
	})

	t.Run("alloc grows a new array at capacity", func(t *testing.T) {
		p := procstats.NewLongPool()
		for i := 0; i < procstats.LongsSize; i += 4 {
			p.Alloc(4)
		}
		assert.Equal(t, 1, p.NumArrays())

		off := p.Alloc(4)
		assert.Equal(t, 2, p.NumArrays())
		assert.Equal(t, 1, off.ArrayIndex())
		assert.Equal(t, 0, off.Index())
	})

	t.Run("reset drops all arrays", func(t *testing.T) {
		p := procstats.NewLongPool()
		p.Alloc(4)
		p.Alloc(procstats.LongsSize - 4)
		p.Reset()
		assert.Equal(t, 1, p.NumArrays())
		assert.Equal(t, 0, p.NextInLast())
	})

	t.Run("validate rejects out-of-range offsets", func(t *testing.T) {
		p := procstats.NewLongPool()
		p.Alloc(4)
		// array index 5 when only one array (index 0) exists.
		assert.False(t, p.Validate(procstats.PackedOffset(5<<8)))
	})
}

