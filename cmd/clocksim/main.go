// Command clocksim runs a small cluster of independently clocked virtual
// machines exchanging Lamport timestamps over TCP, then analyzes the
// logs the run produced.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

// exitSetup is returned when a machine cannot reach its peers during the
// startup barrier, to distinguish a dead cluster from an ordinary error.
const exitSetup = 2

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("clocksim", version)
		return
	}

	a := newApp()
	defer a.Close()

	switch os.Args[1] {
	case "run":
		os.Exit(a.cmdRun(os.Args[2:]))
	case "vm":
		os.Exit(a.cmdVM(os.Args[2:]))
	case "analyze":
		os.Exit(a.cmdAnalyze(os.Args[2:]))
	case "archive":
		os.Exit(a.cmdArchive(os.Args[2:]))
	case "runs":
		os.Exit(a.cmdRuns(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "clocksim: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'clocksim --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`clocksim — a model of asynchronous distributed machines

Each machine owns a Lamport clock and ticks at its own rate, sending
timestamped messages to its peers over TCP. The per-machine event logs
are the experiment's output; analyze and archive consume them.

Usage:
  clocksim <command> [flags]

Commands:
  run [--scenario FILE]     Run a whole cluster in this process
  vm --id N --machines N    Run a single machine (one per OS process)
  analyze --run DIR         Report clock drift and queue growth for a run
  archive --run DIR         Merge a run's logs into one ordered CSV
  runs                      List recorded runs from the results index

Environment:
  CLOCKSIM_DB           Results index path (default: clocksim.db)
  CLOCKSIM_MACHINE_ID   vm: machine ID
  CLOCKSIM_TICK_RATE    vm: ticks per second (default: random 1..6)
  CLOCKSIM_HOST         vm: listen host (default: 127.0.0.1)
  CLOCKSIM_BASE_PORT    vm: base port, machine N listens on base+N (default: 5000)
  CLOCKSIM_PEERS        vm: explicit peer list, "1=host:port,2=host:port"
  CLOCKSIM_LOG_DIR      vm: event log directory (default: logs)
  CLOCKSIM_DURATION     vm: run duration (default: 60s)

A .env file in the working directory is loaded if present. Flags
override environment values.

Exit codes:
  0  success
  1  error
  2  setup failure (a machine could not reach its peers)
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
