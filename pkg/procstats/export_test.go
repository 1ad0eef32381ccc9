// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

// ExportPool gives the external test package access to g's LongPool, to
// inspect raw PSS/duration slots by offset.
func ExportPool(g *GlobalState) *LongPool { return g.pool }

// ExportPSS looks up the PSS offset for tag on rec's state table.
func ExportPSS(rec *ProcessRecord, tag uint8) (PackedOffset, bool) {
	return rec.pss.Get(tag)
}
