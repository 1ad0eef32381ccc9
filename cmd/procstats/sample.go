// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"github.com/sysrecord/procstats/internal/clock"
	"github.com/sysrecord/procstats/pkg/procstats"
	"github.com/sysrecord/procstats/pkg/procstats/dump"
	"github.com/sysrecord/procstats/pkg/procstats/persist"
)

var (
	sampleCount    int
	sampleInterval time.Duration
)

// newSampleCmd wires a real host into the accumulator: every tick it lists
// running processes via gopsutil, feeds their RSS through AddPSS, and
// derives a device memory-factor from system-wide memory pressure. This
// is a development/demo mode only (§1 scopes the accumulator's actual
// event sources to the programmatic API, not host scraping).
func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Drive the accumulator from live host process/memory samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample()
		},
	}
	cmd.Flags().IntVar(&sampleCount, "samples", 5, "number of samples to collect")
	cmd.Flags().DurationVar(&sampleInterval, "interval", time.Second, "sampling interval")
	return cmd
}

func runSample() error {
	logger := newLogger()
	src := clock.NewCached()
	now := src.NowMillis()

	g := procstats.New(logger, now)
	p := persist.New(logger, src, baseDir)
	if err := p.ReadFromDisk(g, now); err != nil {
		return fmt.Errorf("procstats: read from disk: %w", err)
	}

	ctx := context.Background()
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for i := 0; i < sampleCount; i++ {
		<-ticker.C
		now = src.NowMillis()

		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err == nil {
			g.SetMemFactor(memFactorFromUsage(vm.UsedPercent), false, now)
		}

		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			logger.Error(err, "sample: list processes")
			continue
		}
		for _, proc := range procs {
			name, err := proc.NameWithContext(ctx)
			if err != nil || name == "" {
				continue
			}
			rec := g.GetProcess("host", 0, name, now)
			rec.SetState(procstats.ProcStateForeground, int(g.MemFactor()), now, nil)

			if mi, err := proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
				rec.AddPSS(int64(mi.RSS), false, now)
			}
		}
	}

	if err := p.WriteSync(g); err != nil {
		return fmt.Errorf("procstats: write: %w", err)
	}
	fmt.Print(dump.Text(g, now, ""))
	return nil
}

// memFactorFromUsage maps system memory-used percentage onto the raw
// 0..3 pressure levels (§3's proc_state + mem_factor*10 composite key).
func memFactorFromUsage(usedPercent float64) int {
	switch {
	case usedPercent >= 90:
		return procstats.MemFactorCritical
	case usedPercent >= 75:
		return procstats.MemFactorLow
	case usedPercent >= 50:
		return procstats.MemFactorModerate
	default:
		return procstats.MemFactorNormal
	}
}
