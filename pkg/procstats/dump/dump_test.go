// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dump_test

import (
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sysrecord/procstats/pkg/procstats"
	"github.com/sysrecord/procstats/pkg/procstats/dump"
)

func fixture() *procstats.GlobalState {
	g := procstats.New(logr.Discard(), 0)
	rec := g.GetProcess("com.x", 1000, "com.x", 0)
	rec.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 0, nil)
	svc := g.GetService("com.x", 1000, "Worker")
	svc.SetBound(true, procstats.MemFactorNormal, 0)
	return g
}

func TestTextGroupsByPackageAndTotals(t *testing.T) {
	g := fixture()
	out := dump.Text(g, 1000, "")

	assert.Contains(t, out, "PACKAGE com.x (uid=1000)")
	assert.Contains(t, out, "PROC com.x")
	assert.Contains(t, out, "SVC Worker")
	assert.Contains(t, out, "bound 0n:")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "MEMORY FACTOR RUNTIME")
}

func TestTextFilterRestrictsToPackage(t *testing.T) {
	g := fixture()
	out := dump.Text(g, 1000, "does-not-exist")

	assert.NotContains(t, out, "PACKAGE com.x")
	assert.Contains(t, out, "MEMORY FACTOR RUNTIME")
}

func TestCheckinPreambleAndRecordKinds(t *testing.T) {
	g := fixture()
	out := dump.Checkin(g, 1000)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "vers,1", lines[0])

	assert.Contains(t, out, "proc,1000,com.x")
	assert.Contains(t, out, "pss,1000,com.x")
	assert.Contains(t, out, "kills,1000,com.x wake:0 cpu:0")
	assert.Contains(t, out, "pkgproc,1000,com.x")
	assert.Contains(t, out, "pkgpss,1000,com.x")
	assert.Contains(t, out, "pkgkills,1000,com.x")
	assert.Contains(t, out, "pkgsvc-bound,1000,Worker 0n:1000")
}

func TestCSVHeaderAndRowForSingleDimensions(t *testing.T) {
	g := fixture()

	screen, err := dump.ParseDimList("0,1")
	require.NoError(t, err)
	mem, err := dump.ParseDimList("n,m,l,c")
	require.NoError(t, err)
	proc, err := dump.ParseDimList("t")
	require.NoError(t, err)

	out := dump.CSV(g, 1000, screen, mem, proc, "")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)

	header := strings.Split(lines[0], "\t")
	assert.Equal(t, "process", header[0])
	assert.Contains(t, header, "0nt")

	row := strings.Split(lines[1], "\t")
	assert.Equal(t, "com.x", row[0])

	idx := -1
	for i, h := range header {
		if h == "0nt" {
			idx = i
		}
	}
	require.NotEqual(t, -1, idx)
	assert.Equal(t, "1000", row[idx])
}

func TestCSVSummedDimensionFolds(t *testing.T) {
	g := fixture()

	screen, err := dump.ParseDimList("0+1")
	require.NoError(t, err)
	mem, err := dump.ParseDimList("n,m,l,c")
	require.NoError(t, err)
	proc, err := dump.ParseDimList("t")
	require.NoError(t, err)

	out := dump.CSV(g, 1000, screen, mem, proc, "")
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	header := strings.Split(lines[0], "\t")
	assert.Contains(t, header, "*nt")
}

func TestParseDimListRejectsMixedSeparators(t *testing.T) {
	_, err := dump.ParseDimList("0,1+2")
	assert.Error(t, err)
}
