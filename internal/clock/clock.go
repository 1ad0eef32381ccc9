// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package clock provides the millisecond-epoch "now" source every
// procstats call threads through explicitly. The accumulator never calls
// time.Now itself: tests drive it with fixed values, and production code
// goes through a single cached clock to avoid a syscall per event on
// high-frequency paths (PSS samples, state transitions).
//
// §5 requires a monotonic source: the millisecond values handed to
// set_state/add_pss must never go backward relative to a prior call, even
// across an NTP step or a manual wall-clock change. go-timecache's
// CachedTime().UnixMilli() is wall time, not monotonic, so Cached anchors
// every reading to a fixed epoch captured once at construction and
// advances it by the monotonic delta between that epoch and the cached
// reading (time.Time.Sub uses the monotonic reading when both values
// carry one, per the time package's docs) rather than returning the
// cached wall clock directly.
package clock

import (
	"time"

	timecache "github.com/agilira/go-timecache"
)

// Source yields the current time in milliseconds since the Unix epoch.
type Source interface {
	NowMillis() int64
}

// Cached wraps a go-timecache.TimeCache, the same cached-clock idiom used
// for hot-path latency timestamps elsewhere in the pack, but reads it
// through a fixed epoch so the result is monotonic rather than wall-clock.
type Cached struct {
	tc    *timecache.TimeCache
	epoch time.Time
}

// NewCached returns a Source backed by a millisecond-resolution time
// cache.
func NewCached() *Cached {
	return &Cached{
		tc:    timecache.NewWithResolution(time.Millisecond),
		epoch: time.Now(),
	}
}

// NowMillis returns the current time in Unix milliseconds, advanced from
// a fixed epoch by a monotonic delta. Never decreases across calls.
func (c *Cached) NowMillis() int64 {
	delta := c.tc.CachedTime().Sub(c.epoch).Milliseconds()
	if delta < 0 {
		delta = 0 // protect against clock skew
	}
	return c.epoch.UnixMilli() + delta
}

// System is an uncached Source with the same monotonic-epoch anchoring as
// Cached, calling time.Now directly instead of reading a cache. Used
// where call frequency doesn't warrant caching, such as CLI one-shots.
type System struct {
	epoch time.Time
}

// NewSystem returns a Source anchored to a fresh epoch.
func NewSystem() *System {
	return &System{epoch: time.Now()}
}

// NowMillis returns the current time in Unix milliseconds, advanced from
// System's epoch by a monotonic delta. Never decreases across calls.
func (s *System) NowMillis() int64 {
	delta := time.Since(s.epoch).Milliseconds()
	if delta < 0 {
		delta = 0 // protect against clock skew
	}
	return s.epoch.UnixMilli() + delta
}
