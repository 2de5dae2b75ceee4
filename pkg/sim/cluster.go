// Package sim is the cluster harness: it spawns N virtual machines in
// one process, wires their endpoints together over loopback TCP, runs
// them for a fixed duration, and stops them cooperatively.
//
// Every run gets a fresh ID and its own log directory, so sweeps can
// launch many configurations without their artifacts colliding. The
// harness binds every machine's listener before any machine enters its
// connect barrier, which keeps the rendezvous fast in-process while
// still exercising the same barrier code the multi-process mode relies
// on.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/model"
	"github.com/daviddao/clocksim/pkg/vm"
)

// Config describes a cluster run. TickRates holds one rate per machine;
// machine IDs are 1..len(TickRates).
type Config struct {
	TickRates []int
	Policy    vm.Policy
	LogDir    string
	Seed      int64 // 0 means seed machines from the wall clock
}

// Cluster is a set of wired, not-yet-running machines.
type Cluster struct {
	runID    string
	runDir   string
	machines []*vm.Machine
	loggers  []*eventlog.Logger
}

// Report is the outcome of a completed run.
type Report struct {
	RunID    string
	RunDir   string
	Duration time.Duration
	Statuses []model.MachineStatus
	// Failures maps machine ID to its terminal error, setup failures
	// included. Empty on a clean run.
	Failures map[int]error
}

// RandomTickRates draws n tick rates uniformly from [min, max]. The
// classic experiment uses 1..6.
func RandomTickRates(n, min, max int, seed int64) []int {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	rates := make([]int, n)
	for i := range rates {
		rates[i] = min + rng.Intn(max-min+1)
	}
	return rates
}

// New builds the cluster: one machine per tick rate, each with its own
// event log under a fresh run directory, listeners pre-bound on loopback
// so every machine knows every peer's address before starting.
func New(cfg Config) (*Cluster, error) {
	if len(cfg.TickRates) < 1 {
		return nil, errors.New("cluster: no machines configured")
	}

	runID := uuid.NewString()
	runDir := filepath.Join(cfg.LogDir, "run-"+runID[:8])
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	c := &Cluster{runID: runID, runDir: runDir}
	for i, rate := range cfg.TickRates {
		id := i + 1
		logger, err := eventlog.Create(c.LogPath(id), id)
		if err != nil {
			c.closeAll()
			return nil, err
		}
		c.loggers = append(c.loggers, logger)
		seed := cfg.Seed
		if seed != 0 {
			seed += int64(id)
		}
		m, err := vm.New(vm.Config{
			ID:         id,
			TickRate:   rate,
			ListenAddr: "127.0.0.1:0",
			Policy:     cfg.Policy,
			Seed:       seed,
		}, logger)
		if err != nil {
			c.closeAll()
			return nil, err
		}
		if err := m.Endpoint().Listen("127.0.0.1:0"); err != nil {
			c.closeAll()
			return nil, err
		}
		c.machines = append(c.machines, m)
	}

	// Every listener is bound; distribute the peer address map.
	for _, m := range c.machines {
		peers := make(map[int]string)
		for _, other := range c.machines {
			if other.ID() != m.ID() {
				peers[other.ID()] = other.Endpoint().Addr()
			}
		}
		m.SetPeerAddrs(peers)
	}
	return c, nil
}

// RunID returns the run's unique identifier.
func (c *Cluster) RunID() string { return c.runID }

// RunDir returns the directory holding this run's event logs.
func (c *Cluster) RunDir() string { return c.runDir }

// LogPath returns the event log path for one machine of this run.
func (c *Cluster) LogPath(machineID int) string {
	return filepath.Join(c.runDir, fmt.Sprintf("machine_%d.csv", machineID))
}

// Snapshot returns the live status of every machine, for the monitor.
func (c *Cluster) Snapshot() []model.MachineStatus {
	statuses := make([]model.MachineStatus, 0, len(c.machines))
	for _, m := range c.machines {
		statuses = append(statuses, m.Status())
	}
	return statuses
}

// Run starts every machine, lets the cluster run for the given duration
// (or until ctx is cancelled), then stops it cooperatively and reports.
// Setup failures surface in the report; Run itself errs only when no
// machine could run at all.
func (c *Cluster) Run(ctx context.Context, duration time.Duration) (*Report, error) {
	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures = make(map[int]error)
	)
	started := time.Now()
	for _, m := range c.machines {
		wg.Add(1)
		go func(m *vm.Machine) {
			defer wg.Done()
			if err := m.Run(runCtx); err != nil {
				mu.Lock()
				failures[m.ID()] = err
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	report := &Report{
		RunID:    c.runID,
		RunDir:   c.runDir,
		Duration: time.Since(started),
		Statuses: c.Snapshot(),
		Failures: failures,
	}
	if len(failures) == len(c.machines) {
		return report, fmt.Errorf("cluster: no machine completed: %w", firstFailure(failures))
	}
	return report, nil
}

func firstFailure(failures map[int]error) error {
	for _, err := range failures {
		return err
	}
	return nil
}

// closeAll releases partially constructed machines on a New failure:
// endpoints and event loggers both, so no log file is left open with an
// unflushed header.
func (c *Cluster) closeAll() {
	for _, m := range c.machines {
		m.Endpoint().Close()
	}
	for _, l := range c.loggers {
		l.Close()
	}
}
