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

	"github.com/sysrecord/procstats/pkg/procstats"
)

// capturingSink is a minimal logr.LogSink that records Info calls, used
// to verify the multi-package upgrade path actually logs instead of
// merely carrying an unused logr.Logger field.
type capturingSink struct {
	infoCalls int
	lastMsg   string
}

func (s *capturingSink) Init(logr.RuntimeInfo)                             {}
func (s *capturingSink) Enabled(int) bool                                  { return true }
func (s *capturingSink) Error(err error, msg string, keysAndValues ...any) {}
func (s *capturingSink) WithValues(keysAndValues ...any) logr.LogSink      { return s }
func (s *capturingSink) WithName(name string) logr.LogSink                { return s }

func (s *capturingSink) Info(level int, msg string, keysAndValues ...any) {
	s.infoCalls++
	s.lastMsg = msg
}

func TestMultiPackageUpgradeLogsInfo(t *testing.T) {
	sink := &capturingSink{}
	g := procstats.New(logr.New(sink), 0)

	common := g.GetProcess("p1", 1000, "com.x", 50)
	common.SetState(procstats.ProcStateTop, procstats.MemFactorNormal, 50, nil)

	assert.Equal(t, 0, sink.infoCalls)

	g.GetProcess("p2", 1000, "com.x", 50)

	assert.Equal(t, 1, sink.infoCalls)
	assert.Equal(t, "process upgraded to multi-package", sink.lastMsg)
}
