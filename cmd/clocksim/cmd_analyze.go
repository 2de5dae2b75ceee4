package main

import (
	"flag"
	"os"

	"github.com/daviddao/clocksim/pkg/analyze"
)

// cmdAnalyze reports clock drift and queue growth for a completed run,
// from its event logs alone.
func (a *app) cmdAnalyze(args []string) int {
	flags := flag.NewFlagSet("analyze", flag.ContinueOnError)
	runDir := flags.String("run", "", "run directory holding machine_*.csv logs")
	csvPath := flags.String("csv", "", "analyze a single CSV instead (e.g. a merged archive)")
	ref := flags.Int("ref", 1, "reference machine for drift")
	record := flags.String("record", "", "also persist per-machine summaries under this run ID")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *runDir == "" && *csvPath == "" {
		errf("analyze: --run or --csv is required")
		return 1
	}

	var (
		stats *analyze.RunStats
		err   error
	)
	if *csvPath != "" {
		stats, err = analyze.Files([]string{*csvPath})
	} else {
		stats, err = analyze.Run(*runDir)
	}
	if err != nil {
		errf("analyze: %v", err)
		return 1
	}

	if *record != "" {
		store, err := a.openStore()
		if err != nil {
			errf("analyze: %v", err)
			return 1
		}
		for _, s := range stats.Summaries(*record) {
			if err := store.UpsertMachineSummary(s); err != nil {
				errf("analyze: %v", err)
				return 1
			}
		}
	}

	if *jsonOut {
		printJSON(stats.Machines)
		return 0
	}
	if err := stats.Render(os.Stdout, *ref); err != nil {
		errf("analyze: %v", err)
		return 1
	}
	return 0
}
