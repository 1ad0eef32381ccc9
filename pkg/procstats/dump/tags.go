// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package dump renders a GlobalState's accumulated data in the three
// human/tooling-facing formats named in §6: a grouped human-readable
// dump, a line-oriented "checkin" format, and a tab-separated CSV. These
// formats are documented only as an external-interface summary; this
// package covers the documented shapes, not an exhaustive reimplementation
// of a production dumper.
package dump

import "github.com/sysrecord/procstats/pkg/procstats"

// screenTag is the single-character encoding of screen state.
func screenTag(screenOn bool) string {
	if screenOn {
		return "1"
	}
	return "0"
}

// memTag encodes a raw memory-factor level (0..3) as a single letter.
func memTag(memFactor int) string {
	switch memFactor {
	case procstats.MemFactorNormal:
		return "n"
	case procstats.MemFactorModerate:
		return "m"
	case procstats.MemFactorLow:
		return "l"
	case procstats.MemFactorCritical:
		return "c"
	default:
		return "?"
	}
}

// procTag encodes a process lifecycle state as a single letter.
func procTag(procState int) string {
	switch procState {
	case procstats.ProcStatePersistent:
		return "y"
	case procstats.ProcStateTop:
		return "t"
	case procstats.ProcStateForeground:
		return "f"
	case procstats.ProcStateVisible:
		return "v"
	case procstats.ProcStatePerceptible:
		return "r"
	case procstats.ProcStateBackup:
		return "b"
	case procstats.ProcStateService:
		return "s"
	case procstats.ProcStateHome:
		return "h"
	case procstats.ProcStatePrevious:
		return "p"
	case procstats.ProcStateCached:
		return "c"
	default:
		return "?"
	}
}

// stateTag returns the composite tag a checkin record uses to key a
// bucket: screen x mem x proc, e.g. "0ny" for screen-off, normal memory,
// persistent.
func stateTag(bucket int) string {
	memFactor := bucket / procstats.ProcStateCount
	procState := bucket % procstats.ProcStateCount
	screenOn := memFactor >= procstats.ScreenOn
	raw := memFactor
	if screenOn {
		raw -= procstats.ScreenOn
	}
	return screenTag(screenOn) + memTag(raw) + procTag(procState)
}
