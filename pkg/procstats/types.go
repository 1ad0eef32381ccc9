// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package procstats accumulates per-process and per-service runtime
// behavior of an application-hosting operating system: time spent in each
// lifecycle state broken down by memory pressure and screen state, samples
// of resident memory footprint, and counts of excessive-behavior events.
//
// The package assumes single-writer access: callers are expected to hold
// their own outer lock around every mutation (state transitions, PSS
// samples, service events, memory-factor changes, resets) the same way the
// host process manager would serialize these calls. Nothing here re-enters
// or manages that lock itself.
package procstats

// StateNothing is the sentinel composite state meaning "not running / not
// tracked". It is never a valid bucket index.
const StateNothing = -1

// Dimensions of the composite state space. These values are part of the
// on-disk wire format (§4.7 of the governing spec) and must not change
// without bumping the codec version.
const (
	// ProcStateCount is the number of coarse process lifecycle states.
	ProcStateCount = 10
	// AdjCount is the number of memory-factor x screen-state combinations,
	// also the dense duration-array length for ServiceRecord.
	AdjCount = 8
	// PssCount is the number of longs reserved per PSS table entry
	// (sample count, min, running average, max).
	PssCount = 4
	// ScreenOn is added to a raw memory factor (0..3) to select the
	// screen-on half of the combined 0..7 memory-factor range.
	ScreenOn = 4
)

// Process lifecycle states. A composite bucket is ProcState + MemFactor*ProcStateCount.
const (
	ProcStatePersistent = iota
	ProcStateTop
	ProcStateForeground
	ProcStateVisible
	ProcStatePerceptible
	ProcStateBackup
	ProcStateService
	ProcStateHome
	ProcStatePrevious
	ProcStateCached
)

// Raw memory pressure levels, before folding in screen state.
const (
	MemFactorNormal = iota
	MemFactorModerate
	MemFactorLow
	MemFactorCritical
)

// CompositeState folds a process lifecycle state and a combined
// memory-factor (0..AdjCount-1, already including screen state) into the
// 8-bit bucket used to index duration and PSS tables.
func CompositeState(procState, memFactor int) int {
	return procState + memFactor*ProcStateCount
}

// pssIdx enumerates the four longs held by a PSS table entry.
const (
	pssIdxCount = iota
	pssIdxMin
	pssIdxAvg
	pssIdxMax
)

// pssThrottleWindowMs is the minimum gap, in milliseconds, between two
// unforced PSS samples taken in the same composite state.
const pssThrottleWindowMs = 30_000

// WriteIntervalMs is the default interval ShouldWriteNow uses to decide
// whether a scheduled write is due (§6: "true when now > last_write_time + 30 minutes").
const WriteIntervalMs = 30 * 60 * 1000
