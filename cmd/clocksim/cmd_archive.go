package main

import (
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/clocksim/pkg/archive"
)

// cmdArchive merges a run's per-machine logs into one CSV ordered by
// logical time, for archival and cross-machine inspection.
func (a *app) cmdArchive(args []string) int {
	flags := flag.NewFlagSet("archive", flag.ContinueOnError)
	runDir := flags.String("run", "", "run directory holding machine_*.csv logs")
	outDir := flags.String("out", "archives", "directory to write the merged CSV into")
	record := flags.String("record", "", "also record the archive path under this run ID")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *runDir == "" {
		errf("archive: --run is required")
		return 1
	}

	res, err := archive.Run(*runDir, *outDir)
	if err != nil {
		errf("archive: %v", err)
		return 1
	}

	if *record != "" {
		store, err := a.openStore()
		if err != nil {
			errf("archive: %v", err)
			return 1
		}
		if err := store.SetArchive(*record, res.CSVPath); err != nil {
			errf("archive: %v", err)
			return 1
		}
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"path":    res.CSVPath,
			"records": res.Records,
			"bytes":   res.Bytes,
		})
	} else {
		fmt.Printf("archived %d records to %s (%s)\n",
			res.Records, res.CSVPath, humanize.IBytes(uint64(res.Bytes)))
	}
	return 0
}
