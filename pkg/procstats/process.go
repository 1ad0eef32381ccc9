// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

import "math"

// ProcessRecord is the lifecycle state machine for one process. Every
// ProcessRecord has a "common" record: the canonical copy for its
// (name, uid) pair, which every package that hosts the process can share.
// A ProcessRecord whose common field points at itself IS the common
// record.
//
// Unlike the source this design is adapted from, ProcessRecord's common
// link is a plain pointer rather than an arena index: Go's garbage
// collector reclaims reference cycles on its own, so the self-reference
// on the common record and the back-reference from every clone are safe
// as ordinary pointers (see the "Cyclic ownership" design note).
type ProcessRecord struct {
	owner *GlobalState

	Package string
	UID     int32
	Name    string

	common       *ProcessRecord
	multiPackage bool

	curState  int32
	startTime int64

	durations SparseStateTable
	pss       SparseStateTable

	lastPSSState int32
	lastPSSTime  int64

	excessiveWakeCount int32
	excessiveCPUCount  int32
}

func newProcessRecord(owner *GlobalState, pkg string, uid int32, name string) *ProcessRecord {
	p := &ProcessRecord{
		owner:        owner,
		Package:      pkg,
		UID:          uid,
		Name:         name,
		curState:     StateNothing,
		lastPSSState: StateNothing,
	}
	p.common = p
	return p
}

// IsCommon reports whether p is the canonical record for its (name, uid).
func (p *ProcessRecord) IsCommon() bool { return p.common == p }

// MultiPackage reports whether this process's common record has been
// upgraded to per-package clones.
func (p *ProcessRecord) MultiPackage() bool { return p.common.multiPackage }

func (p *ProcessRecord) commonRecord() *ProcessRecord {
	if p.common == nil {
		return p
	}
	return p.common
}

// SetState translates newProcState into a composite bucket with the
// supplied (already screen-combined) memFactor and applies it to the
// common record. If the common record has been upgraded to multi-package,
// the same composite state is fanned out to every per-package record
// reachable from pkgList, resolving any stale aliases via pull_fixed.
//
// Pass the sentinel StateNothing (-1) as newProcState
// to mark the process as not running.
func (p *ProcessRecord) SetState(newProcState, memFactor int, now int64, pkgList []*ProcessRecord) {
	common := p.commonRecord()
	common.applyState(newProcState, memFactor, now)
	if !common.multiPackage {
		return
	}
	for i := range pkgList {
		target := common.owner.registry.pullFixed(pkgList, i)
		target.applyState(newProcState, memFactor, now)
	}
}

func (p *ProcessRecord) applyState(newProcState, memFactor int, now int64) {
	p.commitStateTime(now)
	if newProcState == StateNothing {
		p.curState = StateNothing
		return
	}
	p.curState = int32(CompositeState(newProcState, memFactor))
}

// commitStateTime is the sole point at which durations accumulate: if the
// process is currently in a tracked state, the elapsed time since
// startTime is folded into that state's duration slot. startTime is
// unconditionally rewritten to now afterward.
func (p *ProcessRecord) commitStateTime(now int64) {
	if p.curState != StateNothing {
		delta := now - p.startTime
		if delta < 0 {
			delta = 0 // protect against clock skew
		}
		off := p.durations.Insert(p.owner.pool, uint8(p.curState), 1)
		p.owner.pool.Set(off, 0, p.owner.pool.Get(off, 0)+delta)
	}
	p.startTime = now
}

// GetDuration returns the accumulated duration for bucket, plus the
// currently-running delta if the process is presently in that bucket.
func (p *ProcessRecord) GetDuration(bucket int, now int64) int64 {
	var total int64
	if off, ok := p.durations.Get(uint8(bucket)); ok {
		total = p.owner.pool.Get(off, 0)
	}
	if int(p.curState) == bucket {
		if delta := now - p.startTime; delta > 0 {
			total += delta
		}
	}
	return total
}

// AddPSS folds a proportional-set-size sample into the table for the
// process's current composite state. Unless force is set, a sample taken
// in the same state within pssThrottleWindowMs of the previous one is
// discarded.
func (p *ProcessRecord) AddPSS(pss int64, force bool, now int64) {
	if !force && p.lastPSSTime != 0 && p.curState == p.lastPSSState &&
		now-p.lastPSSTime < pssThrottleWindowMs {
		return
	}

	off := p.pss.Insert(p.owner.pool, uint8(p.curState), PssCount)
	count := p.owner.pool.Get(off, pssIdxCount)
	if count == 0 {
		p.owner.pool.Set(off, pssIdxCount, 1)
		p.owner.pool.Set(off, pssIdxMin, pss)
		p.owner.pool.Set(off, pssIdxAvg, pss)
		p.owner.pool.Set(off, pssIdxMax, pss)
	} else {
		avg := p.owner.pool.Get(off, pssIdxAvg)
		min := p.owner.pool.Get(off, pssIdxMin)
		max := p.owner.pool.Get(off, pssIdxMax)

		newCount := count + 1
		// Running mean computed in double precision and truncated, to
		// match existing data bit-for-bit (§9 open question); this is
		// deliberately not reformulated as integer arithmetic.
		newAvg := int64(math.Trunc((float64(avg)*float64(count) + float64(pss)) / float64(newCount)))
		if pss < min {
			min = pss
		}
		if pss > max {
			max = pss
		}

		p.owner.pool.Set(off, pssIdxCount, newCount)
		p.owner.pool.Set(off, pssIdxMin, min)
		p.owner.pool.Set(off, pssIdxAvg, newAvg)
		p.owner.pool.Set(off, pssIdxMax, max)
	}

	p.lastPSSState = p.curState
	p.lastPSSTime = now
}

// ReportExcessiveWake increments the common record's excessive-wake
// counter and, if multi-package, fans the increment out to every
// per-package record reachable from pkgList.
func (p *ProcessRecord) ReportExcessiveWake(pkgList []*ProcessRecord) {
	common := p.commonRecord()
	common.excessiveWakeCount++
	if !common.multiPackage {
		return
	}
	for i := range pkgList {
		common.owner.registry.pullFixed(pkgList, i).excessiveWakeCount++
	}
}

// ReportExcessiveCPU is the CPU-side analogue of ReportExcessiveWake.
func (p *ProcessRecord) ReportExcessiveCPU(pkgList []*ProcessRecord) {
	common := p.commonRecord()
	common.excessiveCPUCount++
	if !common.multiPackage {
		return
	}
	for i := range pkgList {
		common.owner.registry.pullFixed(pkgList, i).excessiveCPUCount++
	}
}

// ExcessiveWakeCount returns the process's excessive-wake-up count.
func (p *ProcessRecord) ExcessiveWakeCount() int32 { return p.excessiveWakeCount }

// ExcessiveCPUCount returns the process's excessive-CPU-usage count.
func (p *ProcessRecord) ExcessiveCPUCount() int32 { return p.excessiveCPUCount }

// CurState returns the process's current composite state, or StateNothing.
func (p *ProcessRecord) CurState() int32 { return p.curState }

// clone produces a per-package copy of the common record p for newPkg.
// Duration slots are deep-copied into freshly allocated LongPool entries;
// the PSS table is intentionally left empty (§9: PSS is high-frequency
// and considered low-value once split across packages). Excessive-event
// counters are copied as of this moment only — events reported after this
// point fan out separately and are not retroactively merged, so pre-clone
// events end up double-counted across the common and per-package totals.
// This is specified behavior, not a defect.
func (p *ProcessRecord) clone(newPkg string, now int64) *ProcessRecord {
	c := newProcessRecord(p.owner, newPkg, p.UID, p.Name)
	c.common = p
	c.curState = p.curState
	c.startTime = now
	c.excessiveWakeCount = p.excessiveWakeCount
	c.excessiveCPUCount = p.excessiveCPUCount

	for _, off := range p.durations.Entries() {
		newOff := c.durations.Insert(p.owner.pool, off.Tag(), 1)
		c.owner.pool.Set(newOff, 0, p.owner.pool.Get(off, 0))
	}
	return c
}
