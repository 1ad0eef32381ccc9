// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package persist_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysrecord/procstats/pkg/procstats"
	"github.com/sysrecord/procstats/pkg/procstats/persist"
)

type fixedClock struct{ ms int64 }

func (f *fixedClock) NowMillis() int64 { return f.ms }

func TestWriteSyncThenReadFromDisk(t *testing.T) {
	dir := t.TempDir()
	clk := &fixedClock{ms: 1000}

	g := procstats.New(logr.Discard(), 0)
	rec := g.GetProcess("com.x", 1000, "com.x", 0)
	rec.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 0, nil)

	p := persist.New(logr.Discard(), clk, dir)
	require.NoError(t, p.WriteSync(g))

	_, err := os.Stat(filepath.Join(dir, "current.bin"))
	require.NoError(t, err)

	g2 := procstats.New(logr.Discard(), 0)
	require.NoError(t, p.ReadFromDisk(g2, clk.NowMillis()))

	bucketTop := procstats.CompositeState(procstats.ProcStateTop, procstats.MemFactorNormal)
	var found *procstats.ProcessRecord
	g2.ForEachCommonProcess(func(r *procstats.ProcessRecord) { found = r })
	require.NotNil(t, found)
	assert.Equal(t, rec.GetDuration(bucketTop, 1000), found.GetDuration(bucketTop, 1000))
}

func TestReadFromDiskMissingFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	clk := &fixedClock{ms: 0}
	p := persist.New(logr.Discard(), clk, dir)

	g := procstats.New(logr.Discard(), 0)
	err := p.ReadFromDisk(g, 0)
	assert.NoError(t, err)
}

func TestReadFromDiskCorruptFileResets(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "current.bin"), []byte("not a valid blob"), 0o644))

	clk := &fixedClock{ms: 500}
	p := persist.New(logr.Discard(), clk, dir)

	g := procstats.New(logr.Discard(), 0)
	g.GetProcess("com.x", 1000, "com.x", 0)

	err := p.ReadFromDisk(g, 500)
	assert.NoError(t, err)
	assert.Equal(t, int64(500), g.TimePeriodStart())

	var count int
	g.ForEachCommonProcess(func(*procstats.ProcessRecord) { count++ })
	assert.Equal(t, 0, count)
}

func TestShutdownMakesWritesNoop(t *testing.T) {
	dir := t.TempDir()
	clk := &fixedClock{ms: 0}
	p := persist.New(logr.Discard(), clk, dir)
	p.Shutdown()

	g := procstats.New(logr.Discard(), 0)
	require.NoError(t, p.WriteSync(g))

	_, err := os.Stat(filepath.Join(dir, "current.bin"))
	assert.True(t, os.IsNotExist(err))
}

// A permanent failure (base_dir occupied by a plain file, so MkdirAll can
// never succeed) must fail a commit on the first attempt rather than
// working through the bounded backoff retry, per §7's "no retry loops".
func TestWriteSyncPermanentFailureFailsFast(t *testing.T) {
	dir := t.TempDir()
	occupied := filepath.Join(dir, "occupied")
	require.NoError(t, os.WriteFile(occupied, []byte("not a directory"), 0o644))

	clk := &fixedClock{ms: 0}
	p := persist.New(logr.Discard(), clk, occupied)

	g := procstats.New(logr.Discard(), 0)

	start := time.Now()
	err := p.WriteSync(g)
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Less(t, elapsed, 200*time.Millisecond, "a permanent failure must not go through the backoff retry loop")
}

func TestShouldWriteNow(t *testing.T) {
	dir := t.TempDir()
	clk := &fixedClock{ms: 0}
	p := persist.New(logr.Discard(), clk, dir)

	g := procstats.New(logr.Discard(), 0)
	require.NoError(t, p.WriteSync(g))

	assert.False(t, p.ShouldWriteNow(procstats.WriteIntervalMs-1))
	assert.True(t, p.ShouldWriteNow(procstats.WriteIntervalMs+1))
}
