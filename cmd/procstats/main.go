// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	zapcore "go.uber.org/zap"

	"github.com/sysrecord/procstats/internal/clock"
	"github.com/sysrecord/procstats/pkg/procstats"
	"github.com/sysrecord/procstats/pkg/procstats/dump"
	"github.com/sysrecord/procstats/pkg/procstats/persist"
)

var (
	baseDir string
	verbose bool

	csvScreen string
	csvMem    string
	csvProc   string

	doReset bool
	doWrite bool
	doAll   bool
	checkin bool
	csvMode bool
)

func newLogger() logr.Logger {
	if verbose {
		zapLog, _ := zapcore.NewDevelopment()
		return zapr.NewLogger(zapLog)
	}
	return logr.Discard()
}

func main() {
	root := &cobra.Command{
		Use:   "procstats [package]",
		Short: "Inspect and maintain the process/service runtime-statistics blob",
		Long: `procstats reads and renders the accumulated process and service
runtime-statistics blob recorded at <base-dir>/current.bin, optionally
resetting or forcing a write of the in-memory state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) > 0 && !doAll {
				filter = args[0]
			}
			return run(filter)
		},
	}

	root.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "directory holding current.bin")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable development-mode logging")

	root.Flags().BoolVar(&doReset, "reset", false, "reset in-memory state before dumping")
	root.Flags().BoolVar(&doWrite, "write", false, "force a synchronous write after dumping")
	root.Flags().BoolVarP(&doAll, "all", "a", false, "dump every package (default unless a package filter is given)")
	root.Flags().BoolVar(&checkin, "checkin", false, "render the checkin format instead of the human dump")
	root.Flags().BoolVar(&csvMode, "csv", false, "render the CSV format instead of the human dump")
	root.Flags().StringVar(&csvScreen, "csv-screen", "0,1", "screen-state dimension for --csv (comma=separate, plus=summed)")
	root.Flags().StringVar(&csvMem, "csv-mem", "n,m,l,c", "memory-factor dimension for --csv")
	root.Flags().StringVar(&csvProc, "csv-proc", "y+t+f+v+r+b+s+h+p+c", "process-state dimension for --csv")

	root.AddCommand(newSampleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(filter string) error {
	logger := newLogger()
	src := clock.NewCached()
	now := src.NowMillis()

	g := procstats.New(logger, now)
	p := persist.New(logger, src, baseDir)

	if err := p.ReadFromDisk(g, now); err != nil {
		return fmt.Errorf("procstats: read from disk: %w", err)
	}

	if doReset {
		g.Reset(src.NowMillis())
	}

	switch {
	case csvMode:
		screen, err := dump.ParseDimList(csvScreen)
		if err != nil {
			return err
		}
		mem, err := dump.ParseDimList(csvMem)
		if err != nil {
			return err
		}
		proc, err := dump.ParseDimList(csvProc)
		if err != nil {
			return err
		}
		fmt.Print(dump.CSV(g, src.NowMillis(), screen, mem, proc, filter))
	case checkin:
		fmt.Print(dump.Checkin(g, src.NowMillis()))
	default:
		fmt.Print(dump.Text(g, src.NowMillis(), filter))
	}

	if doWrite {
		if err := p.WriteSync(g); err != nil {
			return fmt.Errorf("procstats: write: %w", err)
		}
	}

	return nil
}
