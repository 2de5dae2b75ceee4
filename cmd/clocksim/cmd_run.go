package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daviddao/clocksim/pkg/config"
	"github.com/daviddao/clocksim/pkg/model"
	"github.com/daviddao/clocksim/pkg/monitor"
	"github.com/daviddao/clocksim/pkg/netio"
	"github.com/daviddao/clocksim/pkg/sim"
)

// cmdRun executes a whole cluster inside this process: one goroutine per
// machine, loopback TCP between them.
func (a *app) cmdRun(args []string) int {
	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	scenarioPath := flags.String("scenario", "", "YAML scenario file (default: the classic 3-machine experiment)")
	machines := flags.Int("machines", 0, "override the scenario's machine count")
	duration := flags.Duration("duration", 0, "override the scenario's run duration")
	monitorAddr := flags.String("monitor", "", "serve live cluster status on this address, e.g. :8080")
	logDir := flags.String("log-dir", "", "override the scenario's log directory")
	seed := flags.Int64("seed", 0, "seed for tick rates and draws (0 = wall clock)")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	scenario := config.DefaultScenario()
	if *scenarioPath != "" {
		var err error
		scenario, err = config.LoadScenario(*scenarioPath)
		if err != nil {
			errf("run: %v", err)
			return 1
		}
	}
	if *machines > 0 {
		scenario.Machines = *machines
	}
	if *duration > 0 {
		scenario.Duration = config.Duration(*duration)
	}
	if *logDir != "" {
		scenario.LogDir = *logDir
	}
	if *seed != 0 {
		scenario.Seed = *seed
	}
	if *monitorAddr != "" {
		scenario.Monitor = *monitorAddr
	}
	policy, err := scenario.Policy()
	if err != nil {
		errf("run: %v", err)
		return 1
	}

	rates := sim.RandomTickRates(scenario.Machines, scenario.TickRate.Min, scenario.TickRate.Max, scenario.Seed)
	cluster, err := sim.New(sim.Config{
		TickRates: rates,
		Policy:    policy,
		LogDir:    scenario.LogDir,
		Seed:      scenario.Seed,
	})
	if err != nil {
		errf("run: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mon *monitor.Server
	if scenario.Monitor != "" {
		mon = monitor.New(scenario.Monitor, cluster)
		mon.Start()
		fmt.Fprintf(os.Stderr, "monitor listening on %s\n", scenario.Monitor)
	}

	fmt.Fprintf(os.Stderr, "run %s: %d machines, tick rates %v, %s (ctrl-c to stop early)\n",
		cluster.RunID()[:8], scenario.Machines, rates, scenario.Duration)

	report, runErr := cluster.Run(ctx, scenario.Duration.Std())

	if mon != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = mon.Shutdown(shutdownCtx)
		cancel()
	}

	if store, err := a.openStore(); err == nil {
		recErr := store.RecordRun(model.Run{
			ID:        cluster.RunID(),
			CreatedAt: time.Now(),
			Machines:  scenario.Machines,
			Duration:  report.Duration,
			LogDir:    cluster.RunDir(),
		})
		if recErr != nil {
			errf("run: %v", recErr)
		}
	} else {
		errf("run: %v (run not recorded)", err)
	}

	if runErr != nil {
		errf("run: %v", runErr)
	}
	for id, ferr := range report.Failures {
		errf("run: machine %d failed: %v", id, ferr)
	}

	if *jsonOut {
		printJSON(map[string]interface{}{
			"run_id":   report.RunID,
			"run_dir":  report.RunDir,
			"duration": report.Duration.String(),
			"machines": report.Statuses,
			"failed":   len(report.Failures),
		})
	} else {
		fmt.Printf("run %s finished in %s, logs in %s\n",
			report.RunID[:8], report.Duration.Round(time.Millisecond), report.RunDir)
		for _, st := range report.Statuses {
			fmt.Printf("  machine %d: rate %d/s, %d events, clock %d, queue %d\n",
				st.ID, st.TickRate, st.Ticks, st.Clock, st.QueueLen)
		}
	}

	return failureExitCode(report.Failures)
}

// failureExitCode maps a run's per-machine failures to the process exit
// code. Any setup failure wins the distinct setup code, even when other
// machines completed: a cluster that started without its full peer mesh
// did not run the configured experiment.
func failureExitCode(failures map[int]error) int {
	code := 0
	for _, err := range failures {
		var setupErr *netio.SetupError
		if errors.As(err, &setupErr) {
			return exitSetup
		}
		code = 1
	}
	return code
}
