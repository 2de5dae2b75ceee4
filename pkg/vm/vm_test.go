package vm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/model"
)

// newIsolatedMachine returns a machine with no peers whose steps are
// driven directly by the test, plus the path of its event log.
func newIsolatedMachine(t *testing.T, policy Policy) (*Machine, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "machine.csv")
	logger, err := eventlog.Create(path, 1)
	if err != nil {
		t.Fatalf("eventlog.Create: %v", err)
	}
	m, err := New(Config{
		ID:         1,
		TickRate:   1,
		ListenAddr: "127.0.0.1:0",
		Policy:     policy,
		Seed:       7,
	}, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, path
}

// Ten internal-only ticks must produce ten INTERNAL records and a final
// clock of exactly ten, with nothing ever queued.
func TestInternalOnlyRun(t *testing.T) {
	m, path := newIsolatedMachine(t, InternalOnlyPolicy())
	now := time.Now()
	for i := 0; i < 10; i++ {
		m.step(now.Add(time.Duration(i) * time.Second))
	}
	if err := m.logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 10 {
		t.Fatalf("got %d records, want 10", len(records))
	}
	for i, rec := range records {
		if rec.Kind != model.EventInternal {
			t.Fatalf("record %d: kind %s, want INTERNAL", i, rec.Kind)
		}
		if rec.LogicalTime != int64(i+1) {
			t.Fatalf("record %d: clock %d, want %d", i, rec.LogicalTime, i+1)
		}
	}
	if m.clk.Value() != 10 {
		t.Fatalf("final clock %d, want 10", m.clk.Value())
	}
	if m.inbox.Len() != 0 {
		t.Fatalf("inbox holds %d messages, want 0", m.inbox.Len())
	}
}

// A machine at clock 1 receiving a message stamped 3 must move to
// max(1,3)+1 = 4 and log the sender and post-dequeue queue length.
func TestReceiveUpdatesClock(t *testing.T) {
	m, path := newIsolatedMachine(t, InternalOnlyPolicy())
	m.clk.Set(1)

	m.inbox.Push(model.Message{Sender: 2, LogicalTime: 3})
	m.step(time.Now())
	if err := m.logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := m.clk.Value(); got != 4 {
		t.Fatalf("clock after receive: got %d, want 4", got)
	}
	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Kind != model.EventReceive {
		t.Fatalf("kind %s, want RECEIVE", rec.Kind)
	}
	if rec.Peer != 2 {
		t.Fatalf("peer %d, want 2", rec.Peer)
	}
	if rec.QueueLen != 0 {
		t.Fatalf("queue length %d, want 0", rec.QueueLen)
	}
	if rec.LogicalTime != 4 {
		t.Fatalf("logical time %d, want 4", rec.LogicalTime)
	}
}

// Receive takes priority over generation: with a queued message, even a
// pure send-all policy must produce a RECEIVE record.
func TestReceiveHasPriorityOverSend(t *testing.T) {
	m, path := newIsolatedMachine(t, SendAllPolicy())
	m.inbox.Push(model.Message{Sender: 3, LogicalTime: 8})

	m.step(time.Now())
	if err := m.logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if records[0].Kind != model.EventReceive {
		t.Fatalf("kind %s, want RECEIVE", records[0].Kind)
	}
}

// With no peers, send bands degrade to internal events instead of
// failing or skipping the tick.
func TestSendBandsWithoutPeersFallBackToInternal(t *testing.T) {
	m, path := newIsolatedMachine(t, SendAllPolicy())
	for i := 0; i < 5; i++ {
		m.step(time.Now())
	}
	if err := m.logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("got %d records, want 5", len(records))
	}
	for i, rec := range records {
		if rec.Kind != model.EventInternal {
			t.Fatalf("record %d: kind %s, want INTERNAL", i, rec.Kind)
		}
	}
	if m.clk.Value() != 5 {
		t.Fatalf("clock %d, want 5 (one advance per tick)", m.clk.Value())
	}
}

// One record per processed event, none skipped, none duplicated.
func TestOneRecordPerTick(t *testing.T) {
	m, path := newIsolatedMachine(t, InternalOnlyPolicy())
	const n = 50
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			m.inbox.Push(model.Message{Sender: 2, LogicalTime: int64(i)})
		}
		m.step(time.Now())
	}
	if err := m.logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != n {
		t.Fatalf("got %d records, want %d", len(records), n)
	}
	if m.Ticks() != n {
		t.Fatalf("Ticks() = %d, want %d", m.Ticks(), n)
	}
	prev := int64(0)
	for i, rec := range records {
		if rec.LogicalTime <= prev {
			t.Fatalf("record %d: clock %d did not strictly increase from %d", i, rec.LogicalTime, prev)
		}
		prev = rec.LogicalTime
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m, path := newIsolatedMachine(t, InternalOnlyPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Let it pass the barrier and take at least one tick at 1 tick/s.
	deadline := time.Now().Add(5 * time.Second)
	for m.State() != model.StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("machine never reached RUNNING")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(1100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if m.State() != model.StateStopped {
		t.Fatalf("state %s, want STOPPED", m.State())
	}

	// The stop must have flushed a consistent log.
	records, err := eventlog.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if int64(len(records)) != m.Ticks() {
		t.Fatalf("%d records logged for %d ticks", len(records), m.Ticks())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.csv")
	logger, err := eventlog.Create(path, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()

	if _, err := New(Config{ID: 1, TickRate: 0, Policy: DefaultPolicy()}, logger); err == nil {
		t.Fatal("expected error for zero tick rate")
	}
	bad := Policy{DrawMax: 10, Bands: []Band{{Lo: 1, Hi: 20, Action: ActionSendAll}}}
	if _, err := New(Config{ID: 1, TickRate: 1, Policy: bad}, logger); err == nil {
		t.Fatal("expected error for invalid policy")
	}
}
