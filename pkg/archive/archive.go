// Package archive merges a run's per-machine logs into a single CSV.
//
// The merged file interleaves every machine's records in the Lamport
// total order (ascending logical time, ties broken by machine ID), so
// the archive reads as one causally consistent history of the run. The
// schema is identical to the per-machine logs, which keeps downstream
// tooling parsing one format.
package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/daviddao/clocksim/pkg/clock"
	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/model"
)

// Result describes a written archive.
type Result struct {
	CSVPath string
	Records int
	Bytes   int64
}

// Run merges every machine log under runDir into a timestamped CSV in
// outDir, creating outDir if needed.
func Run(runDir, outDir string) (*Result, error) {
	paths, err := filepath.Glob(filepath.Join(runDir, "machine_*.csv"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no machine logs under %s", runDir)
	}
	sort.Strings(paths)

	var records []model.LogRecord
	for _, path := range paths {
		recs, err := eventlog.ReadFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}

	// Stable sort: records from one machine already respect the total
	// order among themselves, ties across machines fall to machine ID.
	sort.SliceStable(records, func(i, j int) bool {
		return clock.TotalOrderLess(
			records[i].LogicalTime, records[i].MachineID,
			records[j].LogicalTime, records[j].MachineID,
		)
	})

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	// The random suffix keeps two archives of the same second apart; the
	// timestamp keeps the directory listing chronological.
	pattern := "logs_archive_" + time.Now().UTC().Format("20060102-150405") + "-*.csv"
	f, err := os.CreateTemp(outDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	outPath := f.Name()
	if err := writeCSV(f, records); err != nil {
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, err
	}
	return &Result{CSVPath: outPath, Records: len(records), Bytes: info.Size()}, nil
}

func writeCSV(f *os.File, records []model.LogRecord) error {
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(eventlog.Header + "\n"); err != nil {
		f.Close()
		return err
	}
	for _, rec := range records {
		if _, err := w.WriteString(eventlog.FormatRecord(rec) + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}
