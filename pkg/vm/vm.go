// Package vm implements the virtual machine: one Lamport clock, one
// inbox, one network endpoint, and the fixed-rate event loop that drives
// them.
//
// The loop contract is the experiment: exactly one event per tick, with
// receive taking priority over generation. A slow machine that is sent
// more messages per second than it ticks can only fall further behind;
// that asymmetric backlog is what the logs are meant to show, so the
// priority is part of the contract, not an implementation choice.
package vm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/daviddao/clocksim/pkg/clock"
	"github.com/daviddao/clocksim/pkg/eventlog"
	"github.com/daviddao/clocksim/pkg/model"
	"github.com/daviddao/clocksim/pkg/netio"
	"github.com/daviddao/clocksim/pkg/queue"
)

// Config describes one machine. The harness fills it in; Peers maps peer
// machine IDs to their listen addresses.
type Config struct {
	ID         int
	TickRate   int // ticks per second
	ListenAddr string
	Peers      map[int]string
	Policy     Policy
	Seed       int64 // 0 means seed from the wall clock
}

// Machine is one simulated machine. Create with New, drive with Run.
type Machine struct {
	id       int
	tickRate int
	clk      *clock.Clock
	inbox    *queue.Queue
	ep       *netio.Endpoint
	logger   *eventlog.Logger
	policy   Policy
	peers    []int // sorted; filled after the barrier
	peerAddr map[int]string
	listen   string
	rng      *rand.Rand

	// Read concurrently by the monitor endpoint.
	state     atomic.Value // model.MachineState
	lastClock atomic.Int64
	ticks     atomic.Int64
}

// New builds a machine around its owned clock, inbox, endpoint, and
// event logger. The logger is owned from here on: Run closes it.
func New(cfg Config, logger *eventlog.Logger) (*Machine, error) {
	if cfg.TickRate < 1 {
		return nil, fmt.Errorf("machine %d: tick rate %d, want >= 1", cfg.ID, cfg.TickRate)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("machine %d: %w", cfg.ID, err)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(cfg.ID)
	}

	inbox := queue.New()
	m := &Machine{
		id:       cfg.ID,
		tickRate: cfg.TickRate,
		clk:      &clock.Clock{},
		inbox:    inbox,
		ep:       netio.New(cfg.ID, inbox),
		logger:   logger,
		policy:   cfg.Policy,
		peerAddr: cfg.Peers,
		listen:   cfg.ListenAddr,
		rng:      rand.New(rand.NewSource(seed)),
	}
	m.state.Store(model.StateStarting)
	return m, nil
}

// ID returns the machine's identity.
func (m *Machine) ID() int { return m.id }

// TickRate returns the configured ticks per second.
func (m *Machine) TickRate() int { return m.tickRate }

// Endpoint exposes the machine's network endpoint. The harness uses it
// to pre-bind listeners before any machine starts its barrier.
func (m *Machine) Endpoint() *netio.Endpoint { return m.ep }

// SetPeerAddrs replaces the peer address map. The harness uses this
// after pre-binding every listener, when the real addresses are known.
// Must be called before Run.
func (m *Machine) SetPeerAddrs(peers map[int]string) { m.peerAddr = peers }

// Ticks returns how many events the machine has processed while RUNNING.
func (m *Machine) Ticks() int64 { return m.ticks.Load() }

// State returns the machine's lifecycle state.
func (m *Machine) State() model.MachineState {
	return m.state.Load().(model.MachineState)
}

// Status returns a point-in-time snapshot safe for concurrent readers.
func (m *Machine) Status() model.MachineStatus {
	return model.MachineStatus{
		ID:       m.id,
		State:    m.State(),
		TickRate: m.tickRate,
		Clock:    m.lastClock.Load(),
		QueueLen: m.inbox.Len(),
		Ticks:    m.ticks.Load(),
	}
}

// Run executes the machine's full lifecycle: STARTING (bind listener,
// connect to every peer), RUNNING (one event per tick until ctx is
// cancelled), STOPPING (close connections, flush the log), STOPPED.
//
// A barrier failure returns a *netio.SetupError before any measured tick
// runs. A cancelled ctx is the normal stop signal and returns nil.
func (m *Machine) Run(ctx context.Context) error {
	defer m.state.Store(model.StateStopped)

	if !m.ep.Listening() {
		if err := m.ep.Listen(m.listen); err != nil {
			m.closeLog()
			return err
		}
	}
	if err := m.ep.ConnectAll(ctx, m.peerAddr); err != nil {
		m.ep.Close()
		m.closeLog()
		return err
	}
	m.peers = m.ep.Peers()

	m.state.Store(model.StateRunning)
	period := time.Second / time.Duration(m.tickRate)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		// Observe the stop signal at the tick boundary, ahead of any
		// pending tick.
		select {
		case <-ctx.Done():
			return m.shutdown()
		default:
		}
		select {
		case <-ctx.Done():
			return m.shutdown()
		case <-ticker.C:
			m.step(time.Now())
		}
	}
}

// shutdown runs the STOPPING transition: no further queue entries are
// drained, channels close, the log flushes.
func (m *Machine) shutdown() error {
	m.state.Store(model.StateStopping)
	closeErr := m.ep.Close()
	m.closeLog()
	return closeErr
}

func (m *Machine) closeLog() {
	if err := m.logger.Close(); err != nil {
		log.Printf("machine %d: closing event log: %v", m.id, err)
	}
}

// step processes exactly one event. Receive has priority; an empty inbox
// draws from the band policy instead.
func (m *Machine) step(now time.Time) {
	if msg, remaining, ok := m.inbox.TryPop(); ok {
		ts := m.clk.Receive(msg.LogicalTime)
		m.record(model.LogRecord{
			WallTime:    now,
			MachineID:   m.id,
			Kind:        model.EventReceive,
			LogicalTime: ts,
			QueueLen:    remaining,
			Peer:        msg.Sender,
		})
		return
	}

	draw := m.rng.Intn(m.policy.DrawMax) + 1
	action, peerIdx := m.policy.Classify(draw)

	switch action {
	case ActionSendOne:
		if len(m.peers) == 0 {
			m.internal(now)
			return
		}
		// A band aimed past the end of a small peer list folds onto the
		// last peer, so a two-machine cluster still sends on that draw.
		if peerIdx >= len(m.peers) {
			peerIdx = len(m.peers) - 1
		}
		m.sendOne(now, m.peers[peerIdx])
	case ActionSendAll:
		if len(m.peers) == 0 {
			m.internal(now)
			return
		}
		m.sendAll(now)
	default:
		m.internal(now)
	}
}

// sendOne sends the clock snapshot to one peer, then advances the clock.
// A transient send failure degrades the tick to an internal-equivalent
// event: the clock still advances, the tick is never skipped.
func (m *Machine) sendOne(now time.Time, peer int) {
	snapshot := m.clk.Value()
	err := m.ep.Send(peer, model.Message{Sender: m.id, LogicalTime: snapshot})
	ts := m.clk.Tick()
	if err != nil {
		log.Printf("machine %d: transient send failure to peer %d: %v", m.id, peer, err)
		m.record(model.LogRecord{
			WallTime:    now,
			MachineID:   m.id,
			Kind:        model.EventInternal,
			LogicalTime: ts,
			QueueLen:    model.NoQueue,
			Peer:        model.NoPeer,
		})
		return
	}
	m.record(model.LogRecord{
		WallTime:    now,
		MachineID:   m.id,
		Kind:        model.EventSendOne,
		LogicalTime: ts,
		QueueLen:    model.NoQueue,
		Peer:        peer,
	})
}

// sendAll sends one message per peer, all carrying the same clock
// snapshot, then advances the clock once. If every send fails the tick
// degrades to internal; partial failure still counts as SEND_ALL since
// traffic did go out.
func (m *Machine) sendAll(now time.Time) {
	snapshot := m.clk.Value()
	delivered := 0
	for _, peer := range m.peers {
		if err := m.ep.Send(peer, model.Message{Sender: m.id, LogicalTime: snapshot}); err != nil {
			log.Printf("machine %d: transient send failure to peer %d: %v", m.id, peer, err)
			continue
		}
		delivered++
	}
	ts := m.clk.Tick()
	kind := model.EventSendAll
	if delivered == 0 {
		kind = model.EventInternal
	}
	m.record(model.LogRecord{
		WallTime:    now,
		MachineID:   m.id,
		Kind:        kind,
		LogicalTime: ts,
		QueueLen:    model.NoQueue,
		Peer:        model.NoPeer,
	})
}

func (m *Machine) internal(now time.Time) {
	ts := m.clk.Tick()
	m.record(model.LogRecord{
		WallTime:    now,
		MachineID:   m.id,
		Kind:        model.EventInternal,
		LogicalTime: ts,
		QueueLen:    model.NoQueue,
		Peer:        model.NoPeer,
	})
}

func (m *Machine) record(rec model.LogRecord) {
	m.logger.Append(rec)
	m.lastClock.Store(rec.LogicalTime)
	m.ticks.Add(1)
}
