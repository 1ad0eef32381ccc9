// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dump

import (
	"fmt"
	"strings"

	"github.com/sysrecord/procstats/pkg/procstats"
)

// Dim is one axis of a CSV dump's column cross-product: either broken out
// into separate columns (Summed == false) or folded into a single summed
// column (Summed == true), per §6's `,` vs `+` list separators.
type Dim struct {
	Values []string
	Summed bool
}

// ParseDimList parses a --csv-screen/--csv-mem/--csv-proc flag value.
// Mixing ',' and '+' in one list is a CLI argument error (§7).
func ParseDimList(s string) (Dim, error) {
	hasComma := strings.Contains(s, ",")
	hasPlus := strings.Contains(s, "+")
	if hasComma && hasPlus {
		return Dim{}, fmt.Errorf("dump: dimension list %q mixes ',' and '+'", s)
	}
	if hasPlus {
		return Dim{Values: strings.Split(s, "+"), Summed: true}, nil
	}
	return Dim{Values: strings.Split(s, ",")}, nil
}

// column is one output column: the tag values selecting it, and whether
// it aggregates (summed dims contribute every matching bucket).
type column struct {
	screen string
	mem    string
	proc   string
}

func crossProduct(screen, mem, proc Dim) []column {
	var cols []column
	screenVals := screen.Values
	if screen.Summed {
		screenVals = []string{"*"}
	}
	memVals := mem.Values
	if mem.Summed {
		memVals = []string{"*"}
	}
	procVals := proc.Values
	if proc.Summed {
		procVals = []string{"*"}
	}
	for _, s := range screenVals {
		for _, m := range memVals {
			for _, p := range procVals {
				cols = append(cols, column{s, m, p})
			}
		}
	}
	return cols
}

func (c column) header() string {
	return c.screen + c.mem + c.proc
}

func (c column) matches(screen, mem, proc string) bool {
	return (c.screen == "*" || c.screen == screen) &&
		(c.mem == "*" || c.mem == mem) &&
		(c.proc == "*" || c.proc == proc)
}

// CSV renders a tab-separated dump for filter's processes (all processes
// if filter is empty), with one row per process and columns built from
// the cross-product of screen/mem/proc selected by screen, mem, and proc.
func CSV(g *procstats.GlobalState, now int64, screen, mem, proc Dim, filter string) string {
	cols := crossProduct(screen, mem, proc)

	var b strings.Builder
	b.WriteString("process")
	for _, c := range cols {
		b.WriteString("\t")
		b.WriteString(c.header())
	}
	b.WriteString("\n")

	g.ForEachCommonProcess(func(rec *procstats.ProcessRecord) {
		if filter != "" && rec.Name != filter {
			return
		}
		fmt.Fprintf(&b, "%s", rec.Name)
		totals := make([]int64, len(cols))
		for bucket := 0; bucket < procstats.ProcStateCount*procstats.AdjCount; bucket++ {
			d := rec.GetDuration(bucket, now)
			if d == 0 {
				continue
			}
			mf := bucket / procstats.ProcStateCount
			ps := bucket % procstats.ProcStateCount
			screenOn := mf >= procstats.ScreenOn
			raw := mf
			if screenOn {
				raw -= procstats.ScreenOn
			}
			sTag, mTag, pTag := screenTag(screenOn), memTag(raw), procTag(ps)
			for i, c := range cols {
				if c.matches(sTag, mTag, pTag) {
					totals[i] += d
				}
			}
		}
		for _, t := range totals {
			fmt.Fprintf(&b, "\t%d", t)
		}
		b.WriteString("\n")
	})

	return b.String()
}
