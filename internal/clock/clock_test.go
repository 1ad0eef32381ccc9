// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sysrecord/procstats/internal/clock"
)

func TestCachedNowMillisNeverDecreases(t *testing.T) {
	src := clock.NewCached()
	first := src.NowMillis()
	time.Sleep(2 * time.Millisecond)
	second := src.NowMillis()
	assert.GreaterOrEqual(t, second, first)
}

func TestSystemNowMillisNeverDecreases(t *testing.T) {
	src := clock.NewSystem()
	first := src.NowMillis()
	time.Sleep(2 * time.Millisecond)
	second := src.NowMillis()
	assert.GreaterOrEqual(t, second, first)
}
