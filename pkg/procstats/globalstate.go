// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

import (
	"github.com/go-logr/logr"
)

// GlobalState owns the LongPool, the process and package registries, the
// current device memory-factor, and the time-period window. It is the
// single point through which callers report process state changes, PSS
// samples, service transitions, memory-factor changes, and excessive-event
// reports.
//
// GlobalState assumes it is called under a single outer lock (see the
// package doc comment) and never re-enters one of its own.
type GlobalState struct {
	logger logr.Logger

	pool     *LongPool
	registry *registry

	memFactor          int32
	memFactorStartTime int64
	memFactorDurations [AdjCount]int64

	timePeriodStart int64
	timePeriodEnd   int64

	shuttingDown bool
}

// New returns a fresh GlobalState with its time-period window starting at
// now.
func New(logger logr.Logger, now int64) *GlobalState {
	g := &GlobalState{
		logger:          logger,
		pool:            NewLongPool(),
		memFactor:       StateNothing,
		timePeriodStart: now,
	}
	g.registry = newRegistry(g)
	return g
}

// GetProcess returns the handle to record events against for
// (pkg, uid, name), creating the backing records on first use.
func (g *GlobalState) GetProcess(pkg string, uid int32, name string, now int64) *ProcessRecord {
	return g.registry.getProcess(pkg, uid, name, now)
}

// GetService returns the named service's handle within (pkg, uid),
// creating it on first use.
func (g *GlobalState) GetService(pkg string, uid int32, name string) *ServiceRecord {
	return g.registry.getService(pkg, uid, name)
}

// SetMemFactor combines factor with the screen state into the 0..AdjCount-1
// range and, if it differs from the current value, accumulates elapsed
// time into the outgoing factor's bucket and re-arms every currently
// active service mode so its duration keeps accruing under the new
// bucket. Process records are not refreshed here; callers are expected to
// reissue SetState per process after a memory-factor change. Returns
// whether the factor actually changed.
func (g *GlobalState) SetMemFactor(factor int, screenOn bool, now int64) bool {
	mf := int32(factor)
	if screenOn {
		mf += ScreenOn
	}
	if mf == g.memFactor {
		return false
	}

	if g.memFactor != StateNothing {
		delta := now - g.memFactorStartTime
		if delta < 0 {
			delta = 0 // protect against clock skew
		}
		g.memFactorDurations[g.memFactor] += delta
	}
	g.memFactor = mf
	g.memFactorStartTime = now

	for _, pr := range g.registry.packages {
		for _, svc := range pr.services {
			if svc.Started.curState != StateNothing {
				svc.SetStarted(true, int(mf), now)
			}
			if svc.Bound.curState != StateNothing {
				svc.SetBound(true, int(mf), now)
			}
			if svc.Executing.curState != StateNothing {
				svc.SetExecuting(true, int(mf), now)
			}
		}
	}
	return true
}

// MemFactor returns the current combined memory-factor, or StateNothing
// if none has been set yet.
func (g *GlobalState) MemFactor() int32 { return g.memFactor }

// MemFactorDuration returns the accumulated duration for a raw
// memory-factor bucket (0..AdjCount-1), including the currently-running
// delta if it is the active bucket.
func (g *GlobalState) MemFactorDuration(adj int, now int64) int64 {
	total := g.memFactorDurations[adj]
	if int(g.memFactor) == adj {
		if delta := now - g.memFactorStartTime; delta > 0 {
			total += delta
		}
	}
	return total
}

// ShouldWriteNow reports whether now is far enough past the last
// successful write that a scheduled write is due.
func (g *GlobalState) ShouldWriteNow(lastWriteTime, now int64) bool {
	return now > lastWriteTime+WriteIntervalMs
}

// Reset drops all records, clears the LongPool, and restarts the
// time-period window at now. Calling Reset twice in a row is equivalent
// to calling it once.
func (g *GlobalState) Reset(now int64) {
	g.pool.Reset()
	g.registry.reset()
	g.memFactor = StateNothing
	g.memFactorStartTime = 0
	g.memFactorDurations = [AdjCount]int64{}
	g.timePeriodStart = now
	g.timePeriodEnd = 0
}

// Shutdown marks the state as shutting down. The core itself takes no
// further action; it is the host's/Persistor's responsibility to stop
// scheduling writes once this is true.
func (g *GlobalState) Shutdown() { g.shuttingDown = true }

// ShuttingDown reports whether Shutdown has been called.
func (g *GlobalState) ShuttingDown() bool { return g.shuttingDown }

// TimePeriodStart returns the start of the current accumulation window.
func (g *GlobalState) TimePeriodStart() int64 { return g.timePeriodStart }

// TimePeriodEnd returns the end of the window as of the last successful
// Marshal, or zero if none has happened yet.
func (g *GlobalState) TimePeriodEnd() int64 { return g.timePeriodEnd }

// commitBeforeWrite folds every process's and service's currently-running
// interval into its duration tables, as required before serialization
// (§4.7).
func (g *GlobalState) commitBeforeWrite(now int64) {
	for _, common := range g.registry.processes {
		common.commitStateTime(now)
	}
	for _, pr := range g.registry.packages {
		for _, entry := range pr.processes {
			if entry.isOwn {
				entry.record.commitStateTime(now)
			}
		}
		for _, svc := range pr.services {
			svc.commitBeforeWrite(now)
		}
	}
}

// ForEachPackage iterates over every package record. Iteration order is
// unspecified.
func (g *GlobalState) ForEachPackage(fn func(*PackageRecord)) {
	for _, pr := range g.registry.packages {
		fn(pr)
	}
}

// ForEachCommonProcess iterates over every canonical process record.
// Iteration order is unspecified.
func (g *GlobalState) ForEachCommonProcess(fn func(*ProcessRecord)) {
	for _, pr := range g.registry.processes {
		fn(pr)
	}
}
