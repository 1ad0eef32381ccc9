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

	"github.com/sysrecord/procstats/pkg/procstats"
)

// Checkin renders the line-oriented checkin format named in §6: a
// "vers,1" preamble followed by per-kind records, each a
// "<kind>,<uid>,<name>" line followed by space-separated tag:value pairs.
// The "pss"/"pkgpss" records carry only that header: PSS samples are not
// rendered.
func Checkin(g *procstats.GlobalState, now int64) string {
	var b strings.Builder
	b.WriteString("vers,1\n")

	g.ForEachCommonProcess(func(rec *procstats.ProcessRecord) {
		writeProcRecord(&b, "proc", rec, now)
	})

	g.ForEachPackage(func(pr *procstats.PackageRecord) {
		procNames := []string{}
		pr.ForEachProcess(func(name string, rec *procstats.ProcessRecord, isOwn bool) {
			procNames = append(procNames, name)
		})
		sort.Strings(procNames)
		for _, name := range procNames {
			rec, _ := pr.Process(name)
			writeProcRecord(&b, "pkgproc", rec, now)
		}

		svcNames := []string{}
		pr.ForEachService(func(name string, rec *procstats.ServiceRecord) {
			svcNames = append(svcNames, name)
		})
		sort.Strings(svcNames)
		for _, name := range svcNames {
			svc, _ := pr.Service(name)
			writeSvcMode(&b, "pkgsvc-start", svc.UID, name, &svc.Started, now)
			writeSvcMode(&b, "pkgsvc-bound", svc.UID, name, &svc.Bound, now)
			writeSvcMode(&b, "pkgsvc-exec", svc.UID, name, &svc.Executing, now)
		}
	})

	return b.String()
}

// prefix strips the "proc" suffix shared by the "proc"/"pkgproc" kinds so
// the sibling "pss" and "kills" record kinds ("pss"/"pkgpss",
// "kills"/"pkgkills") can be derived from it.
func prefix(kind string) string { return strings.TrimSuffix(kind, "proc") }

func writeProcRecord(b *strings.Builder, kind string, rec *procstats.ProcessRecord, now int64) {
	fmt.Fprintf(b, "%s,%d,%s", kind, rec.UID, rec.Name)
	for bucket := 0; bucket < procstats.ProcStateCount*procstats.AdjCount; bucket++ {
		d := rec.GetDuration(bucket, now)
		if d != 0 {
			fmt.Fprintf(b, " %s:%d", stateTag(bucket), d)
		}
	}
	b.WriteString("\n")

	fmt.Fprintf(b, "%spss,%d,%s\n", prefix(kind), rec.UID, rec.Name)

	fmt.Fprintf(b, "%skills,%d,%s wake:%d cpu:%d\n", prefix(kind), rec.UID, rec.Name,
		rec.ExcessiveWakeCount(), rec.ExcessiveCPUCount())
}

func writeSvcMode(b *strings.Builder, kind string, uid int32, name string, mode interface {
	Duration(adj int, now int64) int64
}, now int64) {
	fmt.Fprintf(b, "%s,%d,%s", kind, uid, name)
	for adj := 0; adj < procstats.AdjCount; adj++ {
		d := mode.Duration(adj, now)
		if d != 0 {
			screenOn := adj >= procstats.ScreenOn
			raw := adj
			if screenOn {
				raw -= procstats.ScreenOn
			}
			fmt.Fprintf(b, " %s%s:%d", screenTag(screenOn), memTag(raw), d)
		}
	}
	b.WriteString("\n")
}
