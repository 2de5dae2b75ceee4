package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/daviddao/clocksim/pkg/results"
)

const defaultDB = "clocksim.db"

// app holds shared state for all CLI subcommands. The results index is
// opened on first use so commands that never touch it pay nothing.
type app struct {
	dbPath string
	store  *results.Store
}

// newApp loads a local .env file (if any) and resolves the index path.
func newApp() *app {
	_ = godotenv.Load()
	return &app{dbPath: envOr("CLOCKSIM_DB", defaultDB)}
}

// Close releases the results index if it was opened.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// openStore opens the results index on first call.
func (a *app) openStore() (*results.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := results.New(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open results index %q: %w", a.dbPath, err)
	}
	a.store = s
	return s, nil
}

// errf prints a command error to stderr.
func errf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "clocksim: "+format+"\n", args...)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
