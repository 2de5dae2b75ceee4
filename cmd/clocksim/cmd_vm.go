package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/daviddao/clocksim/pkg/config"
	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/netio"
	"github.com/daviddao/clocksim/pkg/vm"
)

// cmdVM runs a single machine in this process, for clusters where each
// machine is its own OS process. Peers are found either through the
// base-port scheme (machine N listens on base+N) or an explicit
// --peers list. The machine dials its peers with a retry budget, so
// processes started in any order still rendezvous.
func (a *app) cmdVM(args []string) int {
	env, err := config.FromEnv()
	if err != nil {
		errf("vm: %v", err)
		return 1
	}

	flags := flag.NewFlagSet("vm", flag.ContinueOnError)
	id := flags.Int("id", env.MachineID, "machine ID (1-based)")
	rate := flags.Int("rate", env.TickRate, "ticks per second (0 = random 1..6)")
	machines := flags.Int("machines", 0, "cluster size, for the base-port peer scheme")
	peers := flags.String("peers", env.Peers, `explicit peer list, "1=host:port,2=host:port"`)
	logDir := flags.String("log-dir", env.LogDir, "event log directory")
	duration := flags.Duration("duration", env.Duration, "how long to run")
	seed := flags.Int64("seed", 0, "seed for draws (0 = wall clock)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *id < 1 {
		errf("vm: machine ID %d, want >= 1 (pass --id or set CLOCKSIM_MACHINE_ID)", *id)
		return 1
	}
	if *peers == "" && *machines < 2 {
		errf("vm: need --machines >= 2 for the base-port scheme, or an explicit --peers list")
		return 1
	}

	env.Peers = *peers
	peerAddrs, err := env.PeerAddrs(*id, *machines)
	if err != nil {
		errf("vm: %v", err)
		return 1
	}

	tickRate := *rate
	if tickRate == 0 {
		s := *seed
		if s == 0 {
			s = time.Now().UnixNano() + int64(*id)
		}
		tickRate = 1 + rand.New(rand.NewSource(s)).Intn(6)
	}

	if err := os.MkdirAll(*logDir, 0o755); err != nil {
		errf("vm: create log directory: %v", err)
		return 1
	}
	logPath := filepath.Join(*logDir, fmt.Sprintf("machine_%d.csv", *id))
	logger, err := eventlog.Create(logPath, *id)
	if err != nil {
		errf("vm: %v", err)
		return 1
	}

	m, err := vm.New(vm.Config{
		ID:         *id,
		TickRate:   tickRate,
		ListenAddr: env.ListenAddr(*id),
		Peers:      peerAddrs,
		Seed:       *seed,
		Policy:     vm.DefaultPolicy(),
	}, logger)
	if err != nil {
		logger.Close()
		errf("vm: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	fmt.Fprintf(os.Stderr, "machine %d: rate %d/s, listening on %s, peers %v\n",
		*id, tickRate, env.ListenAddr(*id), config.PeerIDs(peerAddrs))

	if err := m.Run(runCtx); err != nil {
		errf("vm: machine %d: %v", *id, err)
		var setupErr *netio.SetupError
		if errors.As(err, &setupErr) {
			return exitSetup
		}
		return 1
	}

	fmt.Fprintf(os.Stderr, "machine %d: stopped after %d events, clock %d, log %s\n",
		*id, m.Ticks(), m.Status().Clock, logPath)
	return 0
}
