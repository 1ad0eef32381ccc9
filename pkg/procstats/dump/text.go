// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dump

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sysrecord/procstats/pkg/procstats"
)

func formatDuration(ms int64) string {
	return time.Duration(ms * int64(time.Millisecond)).String()
}

// Text renders the human-readable dump described in §6: grouped by
// package, then process/service, durations via a duration formatter,
// per-group totals, and a trailing memory-factor runtime block. filter,
// if non-empty, restricts output to the named package (an unrecognized
// name yields an empty package section, per §6's filter semantics).
func Text(g *procstats.GlobalState, now int64, filter string) string {
	var b strings.Builder

	g.ForEachPackage(func(pr *procstats.PackageRecord) {
		if filter != "" && pr.Name != filter {
			return
		}
		fmt.Fprintf(&b, "PACKAGE %s (uid=%d)\n", pr.Name, pr.UID)

		var total int64
		procNames := []string{}
		pr.ForEachProcess(func(name string, rec *procstats.ProcessRecord, isOwn bool) {
			procNames = append(procNames, name)
		})
		sort.Strings(procNames)
		for _, name := range procNames {
			rec, _ := pr.Process(name)
			fmt.Fprintf(&b, "  PROC %s\n", name)
			for bucket := 0; bucket < procstats.ProcStateCount*procstats.AdjCount; bucket++ {
				d := rec.GetDuration(bucket, now)
				if d == 0 {
					continue
				}
				fmt.Fprintf(&b, "    %s: %s\n", stateTag(bucket), formatDuration(d))
				total += d
			}
		}

		svcNames := []string{}
		pr.ForEachService(func(name string, rec *procstats.ServiceRecord) {
			svcNames = append(svcNames, name)
		})
		sort.Strings(svcNames)
		for _, name := range svcNames {
			svc, _ := pr.Service(name)
			fmt.Fprintf(&b, "  SVC %s\n", name)
			printServiceMode(&b, "started", &svc.Started, now)
			printServiceMode(&b, "bound", &svc.Bound, now)
			printServiceMode(&b, "executing", &svc.Executing, now)
		}

		fmt.Fprintf(&b, "  TOTAL %s\n", formatDuration(total))
	})

	b.WriteString("MEMORY FACTOR RUNTIME\n")
	for adj := 0; adj < procstats.AdjCount; adj++ {
		d := g.MemFactorDuration(adj, now)
		if d == 0 {
			continue
		}
		screenOn := adj >= procstats.ScreenOn
		raw := adj
		if screenOn {
			raw -= procstats.ScreenOn
		}
		fmt.Fprintf(&b, "  %s%s: %s\n", screenTag(screenOn), memTag(raw), formatDuration(d))
	}

	return b.String()
}

func printServiceMode(b *strings.Builder, label string, mode interface {
	Duration(adj int, now int64) int64
}, now int64) {
	for adj := 0; adj < procstats.AdjCount; adj++ {
		d := mode.Duration(adj, now)
		if d == 0 {
			continue
		}
		screenOn := adj >= procstats.ScreenOn
		raw := adj
		if screenOn {
			raw -= procstats.ScreenOn
		}
		fmt.Fprintf(b, "    %s %s%s: %s\n", label, screenTag(screenOn), memTag(raw), formatDuration(d))
	}
}
