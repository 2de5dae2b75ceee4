package main

import (
	"flag"
	"fmt"
	"time"
)

// cmdRuns lists recorded runs, newest first.
func (a *app) cmdRuns(args []string) int {
	flags := flag.NewFlagSet("runs", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	store, err := a.openStore()
	if err != nil {
		errf("runs: %v", err)
		return 1
	}
	runs, err := store.ListRuns()
	if err != nil {
		errf("runs: %v", err)
		return 1
	}

	if *jsonOut {
		printJSON(runs)
		return 0
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return 0
	}
	for _, r := range runs {
		archived := ""
		if r.Archive != "" {
			archived = " archived:" + r.Archive
		}
		fmt.Printf("%s  %s  %d machines  %s  %s%s\n",
			r.ID[:8], r.CreatedAt.Local().Format(time.DateTime),
			r.Machines, r.Duration.Round(time.Millisecond), r.LogDir, archived)
	}
	return 0
}
