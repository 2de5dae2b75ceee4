// Package model defines the core domain types for clocksim.
//
// Clocksim runs a small fixed cluster of independently clocked virtual
// machines to study Lamport's logical clocks (1978) under varying tick
// rates and message loads. Each machine advances a scalar logical clock:
// internal and send events increment it, and a receive sets it to
// max(own, received) + 1. The per-machine event logs written during a run
// are the sole experimental artifact; everything downstream (archiving,
// drift analysis) consumes them.
package model

import "time"

// EventKind enumerates the event types a machine can log, one per tick.
type EventKind string

const (
	EventReceive  EventKind = "RECEIVE"
	EventSendOne  EventKind = "SEND_ONE"
	EventSendAll  EventKind = "SEND_ALL"
	EventInternal EventKind = "INTERNAL"
)

// Valid reports whether k is one of the four known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventReceive, EventSendOne, EventSendAll, EventInternal:
		return true
	}
	return false
}

// Message is the only thing machines exchange: the sender's identity and
// the sender's logical clock value at send time. Immutable once built.
type Message struct {
	Sender      int
	LogicalTime int64
}

// NoPeer and NoQueue are the sentinel values for LogRecord fields that do
// not apply to a given event kind. They render as empty CSV fields.
const (
	NoPeer  = -1
	NoQueue = -1
)

// LogRecord is one line of a machine's append-only event log. Exactly one
// record is written per tick. QueueLen is meaningful only for RECEIVE
// events (the inbox length immediately after the dequeue); Peer only for
// RECEIVE and SEND_ONE events.
type LogRecord struct {
	WallTime    time.Time
	MachineID   int
	Kind        EventKind
	LogicalTime int64
	QueueLen    int
	Peer        int
}

// MachineState is the lifecycle state of a virtual machine.
type MachineState string

const (
	StateStarting MachineState = "STARTING"
	StateRunning  MachineState = "RUNNING"
	StateStopping MachineState = "STOPPING"
	StateStopped  MachineState = "STOPPED"
)

// MachineStatus is a point-in-time snapshot of one machine, safe to read
// while the machine runs. Served by the monitor endpoint.
type MachineStatus struct {
	ID       int          `json:"id"`
	State    MachineState `json:"state"`
	TickRate int          `json:"tick_rate"`
	Clock    int64        `json:"clock"`
	QueueLen int          `json:"queue_len"`
	Ticks    int64        `json:"ticks"`
}

// Run describes one recorded simulation run in the results index.
type Run struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Machines  int           `json:"machines"`
	Duration  time.Duration `json:"duration"`
	LogDir    string        `json:"log_dir"`
	Archive   string        `json:"archive,omitempty"`
}

// MachineSummary is the per-machine outcome of a run, as computed by the
// analyzer and persisted in the results index.
type MachineSummary struct {
	RunID      string `json:"run_id"`
	MachineID  int    `json:"machine_id"`
	TickRate   int    `json:"tick_rate,omitempty"`
	Events     int64  `json:"events"`
	Receives   int64  `json:"receives"`
	Sends      int64  `json:"sends"`
	Internals  int64  `json:"internals"`
	FinalClock int64  `json:"final_clock"`
	MaxQueue   int    `json:"max_queue"`
}
