// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats_test

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysrecord/procstats/pkg/procstats"
)

func findCommon(g *procstats.GlobalState, name string, uid int32) *procstats.ProcessRecord {
	var found *procstats.ProcessRecord
	g.ForEachCommonProcess(func(rec *procstats.ProcessRecord) {
		if rec.Name == name && rec.UID == uid {
			found = rec
		}
	})
	return found
}

// S5/invariant 5: marshal then unmarshal into a fresh GlobalState yields
// equal semantic state: durations, PSS tuples, counters, registries, and
// mem_factor_durations.
func TestCodecRoundTrip(t *testing.T) {
	g := procstats.New(logr.Discard(), 0)

	common := g.GetProcess("p1", 1000, "com.x", 0)
	common.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 0, nil)
	common.AddPSS(1234, true, 100)
	common.ReportExcessiveWake(nil)

	svc := g.GetService("p1", 1000, "Worker")
	svc.SetBound(true, 0, 0)

	g.SetMemFactor(procstats.MemFactorNormal, false, 0)
	g.SetMemFactor(procstats.MemFactorLow, true, 1000)
	g.SetMemFactor(procstats.MemFactorNormal, false, 2000)

	blob := g.Marshal(3000)

	g2 := procstats.New(logr.Discard(), 999) // deliberately different initial state
	require.NoError(t, g2.Unmarshal(blob))

	assert.Equal(t, g.TimePeriodStart(), g2.TimePeriodStart())
	assert.Equal(t, g.TimePeriodEnd(), g2.TimePeriodEnd())

	// mem_factor_durations is persisted as completed buckets only (the
	// wire format has no mem-factor start-time field), so compare at the
	// timestamp of the last transition where no bucket has a pending
	// running delta.
	for adj := 0; adj < procstats.AdjCount; adj++ {
		assert.Equal(t, g.MemFactorDuration(adj, 2000), g2.MemFactorDuration(adj, 2000))
	}

	rec1 := findCommon(g, "com.x", 1000)
	rec2 := findCommon(g2, "com.x", 1000)
	require.NotNil(t, rec1)
	require.NotNil(t, rec2)

	bucketTop := procstats.CompositeState(procstats.ProcStateTop, procstats.MemFactorNormal)
	assert.Equal(t, rec1.GetDuration(bucketTop, 3000), rec2.GetDuration(bucketTop, 3000))
	assert.Equal(t, rec1.ExcessiveWakeCount(), rec2.ExcessiveWakeCount())

	off1, ok1 := procstats.ExportPSS(rec1, uint8(bucketTop))
	off2, ok2 := procstats.ExportPSS(rec2, uint8(bucketTop))
	require.True(t, ok1)
	require.True(t, ok2)
	pool1, pool2 := procstats.ExportPool(g), procstats.ExportPool(g2)
	for i := 0; i < procstats.PssCount; i++ {
		assert.Equal(t, pool1.Get(off1, i), pool2.Get(off2, i))
	}
}

// TestCodecRoundTripMultiPackage checks that the Alias/Own split survives
// serialization: the package that owns a private clone keeps its clone's
// independent duration after reload, distinct from the shared common
// record's.
func TestCodecRoundTripMultiPackage(t *testing.T) {
	g := procstats.New(logr.Discard(), 0)

	common := g.GetProcess("p1", 1000, "com.x", 0)
	common.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 0, nil)
	g.GetProcess("p2", 1000, "com.x", 200)

	blob := g.Marshal(3000)

	g2 := procstats.New(logr.Discard(), 0)
	require.NoError(t, g2.Unmarshal(blob))

	commonAfter := findCommon(g2, "com.x", 1000)
	require.NotNil(t, commonAfter)
	assert.True(t, commonAfter.MultiPackage())

	var p1Pkg, p2Pkg *procstats.PackageRecord
	g2.ForEachPackage(func(pr *procstats.PackageRecord) {
		switch pr.Name {
		case "p1":
			p1Pkg = pr
		case "p2":
			p2Pkg = pr
		}
	})
	require.NotNil(t, p1Pkg)
	require.NotNil(t, p2Pkg)

	p1Clone, ok := p1Pkg.Process("com.x")
	require.True(t, ok)
	p2Clone, ok := p2Pkg.Process("com.x")
	require.True(t, ok)
	assert.NotSame(t, p1Clone, p2Clone)
}

// S6: a corrupt file (bad magic) aborts the parse and leaves the caller's
// GlobalState untouched; the caller is responsible for calling Reset.
func TestCodecRejectsCorruptMagic(t *testing.T) {
	g := procstats.New(logr.Discard(), 0)
	rec := g.GetProcess("com.x", 1000, "com.x", 0)
	rec.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 0, nil)

	blob := g.Marshal(1000)
	blob[0] ^= 0xFF // flip the magic

	err := g.Unmarshal(blob)
	assert.Error(t, err)

	bucketTop := procstats.CompositeState(procstats.ProcStateTop, procstats.MemFactorNormal)
	assert.Equal(t, int64(2000), rec.GetDuration(bucketTop, 2000))
}

func TestCodecRejectsBadVersion(t *testing.T) {
	g := procstats.New(logr.Discard(), 0)
	blob := g.Marshal(0)
	blob[4] = 0xFF // version field follows the 4-byte magic
	err := g.Unmarshal(blob)
	assert.Error(t, err)
}
