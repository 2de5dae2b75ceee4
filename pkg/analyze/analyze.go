// Package analyze computes drift and backlog statistics from a run's
// event logs.
//
// It is the offline half of the experiment: given the per-machine logs a
// run produced, it reports how far each machine's logical clock diverged
// from a reference machine, how the inbox backlog behaved, and how the
// event mix broke down. It also verifies the structural invariant every
// log must satisfy (a machine's logical clock strictly increases at
// every record) and counts violations instead of trusting the run.
package analyze

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/model"
)

// MachineStats is one machine's aggregated log.
type MachineStats struct {
	MachineID        int
	Events           int64
	Receives         int64
	SendOnes         int64
	SendAlls         int64
	Internals        int64
	FinalClock       int64
	MaxQueue         int
	MeanQueue        float64 // mean of queue lengths over RECEIVE records
	ClockRegressions int     // records where the clock failed to strictly increase
}

// RunStats aggregates every machine of one run.
type RunStats struct {
	Machines []*MachineStats // sorted by machine ID
}

// Run analyzes every machine log (machine_*.csv) in a run directory.
func Run(runDir string) (*RunStats, error) {
	paths, err := filepath.Glob(filepath.Join(runDir, "machine_*.csv"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no machine logs under %s", runDir)
	}
	sort.Strings(paths)
	return Files(paths)
}

// Files analyzes the given logs. Records are grouped by machine ID, so
// the inputs can be per-machine logs or one merged archive CSV; within a
// file, one machine's records must appear in the order it logged them.
func Files(paths []string) (*RunStats, error) {
	byMachine := make(map[int][]model.LogRecord)
	for _, path := range paths {
		records, err := eventlog.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			byMachine[rec.MachineID] = append(byMachine[rec.MachineID], rec)
		}
	}

	stats := &RunStats{}
	for id, records := range byMachine {
		stats.Machines = append(stats.Machines, aggregate(id, records))
	}
	sort.Slice(stats.Machines, func(i, j int) bool {
		return stats.Machines[i].MachineID < stats.Machines[j].MachineID
	})
	return stats, nil
}

func aggregate(machineID int, records []model.LogRecord) *MachineStats {
	st := &MachineStats{MachineID: machineID}
	var queueSum int64
	prevClock := int64(0)
	for _, rec := range records {
		st.Events++
		switch rec.Kind {
		case model.EventReceive:
			st.Receives++
			if rec.QueueLen > st.MaxQueue {
				st.MaxQueue = rec.QueueLen
			}
			queueSum += int64(rec.QueueLen)
		case model.EventSendOne:
			st.SendOnes++
		case model.EventSendAll:
			st.SendAlls++
		case model.EventInternal:
			st.Internals++
		}
		if rec.LogicalTime <= prevClock {
			st.ClockRegressions++
		}
		prevClock = rec.LogicalTime
		st.FinalClock = rec.LogicalTime
	}
	if st.Receives > 0 {
		st.MeanQueue = float64(queueSum) / float64(st.Receives)
	}
	return st
}

// Machine returns the stats for one machine, or nil.
func (r *RunStats) Machine(id int) *MachineStats {
	for _, st := range r.Machines {
		if st.MachineID == id {
			return st
		}
	}
	return nil
}

// Drift returns each machine's final clock minus the reference
// machine's. Positive drift means the machine ran ahead of the
// reference.
func (r *RunStats) Drift(refID int) (map[int]int64, error) {
	ref := r.Machine(refID)
	if ref == nil {
		return nil, fmt.Errorf("reference machine %d not in run", refID)
	}
	drift := make(map[int]int64, len(r.Machines))
	for _, st := range r.Machines {
		drift[st.MachineID] = st.FinalClock - ref.FinalClock
	}
	return drift, nil
}

// Summaries converts the stats into index rows for a given run ID.
func (r *RunStats) Summaries(runID string) []model.MachineSummary {
	summaries := make([]model.MachineSummary, 0, len(r.Machines))
	for _, st := range r.Machines {
		summaries = append(summaries, model.MachineSummary{
			RunID:      runID,
			MachineID:  st.MachineID,
			Events:     st.Events,
			Receives:   st.Receives,
			Sends:      st.SendOnes + st.SendAlls,
			Internals:  st.Internals,
			FinalClock: st.FinalClock,
			MaxQueue:   st.MaxQueue,
		})
	}
	return summaries
}

// Render writes a plain-text report.
func (r *RunStats) Render(w io.Writer, refID int) error {
	if len(r.Machines) == 0 {
		return fmt.Errorf("no machines to report")
	}
	drift, err := r.Drift(refID)
	if err != nil {
		// Fall back to the lowest machine ID as reference.
		refID = r.Machines[0].MachineID
		drift, _ = r.Drift(refID)
	}
	fmt.Fprintf(w, "%-8s %-8s %-9s %-9s %-9s %-10s %-7s %-10s %s\n",
		"machine", "events", "receives", "sends", "internal", "clock", "drift", "max_queue", "regressions")
	for _, st := range r.Machines {
		fmt.Fprintf(w, "%-8d %-8d %-9d %-9d %-9d %-10d %-+7d %-10d %d\n",
			st.MachineID, st.Events, st.Receives, st.SendOnes+st.SendAlls, st.Internals,
			st.FinalClock, drift[st.MachineID], st.MaxQueue, st.ClockRegressions)
	}
	fmt.Fprintf(w, "drift is relative to machine %d\n", refID)
	return nil
}
