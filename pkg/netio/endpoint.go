// Package netio implements a machine's network endpoint: one listening
// socket accepting inbound connections from peers, and one outbound
// connection per peer for sends.
//
// The inbound path runs concurrently with the owning machine's tick loop:
// each accepted connection gets a goroutine that decodes frames and
// pushes them into the machine's inbox. TCP gives the reliable, per
// connection FIFO delivery the simulation assumes. Malformed frames are
// discarded without tearing the connection down unless corruption recurs
// or frame alignment is lost entirely.
package netio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/daviddao/clocksim/pkg/model"
	"github.com/daviddao/clocksim/pkg/queue"
	"github.com/daviddao/clocksim/pkg/wire"
)

// maxConsecutiveMalformed is how many undecodable frames in a row a
// connection may produce before it is dropped as corrupt.
const maxConsecutiveMalformed = 3

// SetupError reports a peer that could not be reached within the startup
// barrier's retry budget. It is fatal to the machine: the run must not
// begin with a missing peer link, or sends to that peer would be silently
// lost.
type SetupError struct {
	Peer     int
	Addr     string
	Attempts int
	Err      error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("peer %d at %s unreachable after %d attempts: %v", e.Peer, e.Addr, e.Attempts, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ErrNotConnected reports a send to a peer the endpoint never connected
// to (or whose connection was already closed).
var ErrNotConnected = errors.New("netio: no connection to peer")

// peerConn is one outbound link. The writer mutex keeps frames whole if
// the loop ever interleaves sends (broadcast writes several in a row).
type peerConn struct {
	mu   sync.Mutex
	conn net.Conn
	w    *wire.Writer
}

// Endpoint manages one machine's listener and outbound peer connections,
// delivering inbound messages into the machine's inbox queue.
type Endpoint struct {
	id    int
	inbox *queue.Queue
	retry retryConfig

	mu        sync.Mutex
	ln        net.Listener
	peers     map[int]*peerConn
	inbound   map[net.Conn]struct{}
	closed    bool
	acceptWG  sync.WaitGroup
	handlerWG sync.WaitGroup
}

// New creates an endpoint for machine id delivering into inbox.
func New(id int, inbox *queue.Queue) *Endpoint {
	return &Endpoint{
		id:      id,
		inbox:   inbox,
		retry:   defaultRetryConfig,
		peers:   make(map[int]*peerConn),
		inbound: make(map[net.Conn]struct{}),
	}
}

// SetRetryBudget overrides the startup-barrier dial budget. Attempts
// below one and non-positive delays keep their defaults.
func (e *Endpoint) SetRetryBudget(attempts int, base, capDelay time.Duration) {
	if attempts >= 1 {
		e.retry.maxAttempts = attempts
	}
	if base > 0 {
		e.retry.baseDelay = base
	}
	if capDelay > 0 {
		e.retry.maxDelay = capDelay
	}
}

// Listen binds the listening socket and starts accepting peer connections
// in the background. Must be called before peers dial in; the harness
// binds every machine's listener before any machine enters its barrier.
func (e *Endpoint) Listen(addr string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln != nil {
		return fmt.Errorf("endpoint %d: already listening on %s", e.id, e.ln.Addr())
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("endpoint %d: listen %s: %w", e.id, addr, err)
	}
	e.ln = ln

	e.acceptWG.Add(1)
	go e.acceptLoop(ln)
	return nil
}

// Listening reports whether the listener is bound.
func (e *Endpoint) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ln != nil
}

// Addr returns the bound listen address ("" before Listen). With a ":0"
// listen address this is how the harness learns the real port.
func (e *Endpoint) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// ConnectAll establishes an outbound connection to every configured peer,
// retrying each dial until the peer is reachable or the budget runs out.
// This is the startup rendezvous barrier: only when ConnectAll returns
// nil may the machine enter its measured run. On failure the returned
// error is a *SetupError for the first unreachable peer.
func (e *Endpoint) ConnectAll(ctx context.Context, peers map[int]string) error {
	// Deterministic dial order keeps setup failures reproducible.
	ids := make([]int, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		addr := peers[id]
		var conn net.Conn
		attempts, err := retryDial(ctx, e.retry, func() error {
			c, dialErr := net.Dial("tcp", addr)
			if dialErr != nil {
				return dialErr
			}
			conn = c
			return nil
		})
		if err != nil {
			return &SetupError{Peer: id, Addr: addr, Attempts: attempts, Err: err}
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return fmt.Errorf("endpoint %d: closed during connect", e.id)
		}
		e.peers[id] = &peerConn{conn: conn, w: wire.NewWriter(conn)}
		e.mu.Unlock()
	}
	return nil
}

// Send writes one framed message to the given peer. The frame either
// fully reaches the transport or an error is returned; there is no
// partial-send state the caller needs to clean up.
func (e *Endpoint) Send(peer int, m model.Message) error {
	e.mu.Lock()
	pc, ok := e.peers[peer]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotConnected, peer)
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if err := pc.w.WriteMessage(m); err != nil {
		return fmt.Errorf("send to peer %d: %w", peer, err)
	}
	return nil
}

// Peers returns the connected peer IDs in ascending order.
func (e *Endpoint) Peers() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]int, 0, len(e.peers))
	for id := range e.peers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Close shuts the listener and all connections, outbound and accepted
// inbound alike, and waits for the inbound goroutines to drain. Closing
// the inbound connections is what unblocks their readers: a remote peer
// that outlives this machine may never close its side.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	ln := e.ln
	outbound := make([]net.Conn, 0, len(e.peers))
	for _, pc := range e.peers {
		outbound = append(outbound, pc.conn)
	}
	inbound := make([]net.Conn, 0, len(e.inbound))
	for conn := range e.inbound {
		inbound = append(inbound, conn)
	}
	e.mu.Unlock()

	var first error
	if ln != nil {
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, conn := range outbound {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	// Best effort: a handler racing to its own deferred close is fine.
	for _, conn := range inbound {
		conn.Close()
	}
	e.acceptWG.Wait()
	e.handlerWG.Wait()
	return first
}

func (e *Endpoint) acceptLoop(ln net.Listener) {
	defer e.acceptWG.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed during shutdown, or a hard accept error;
			// either way the accept loop is done.
			return
		}
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			conn.Close()
			return
		}
		// Track the connection so Close can unblock its reader.
		e.inbound[conn] = struct{}{}
		e.handlerWG.Add(1)
		e.mu.Unlock()
		go e.handleInbound(conn)
	}
}

// handleInbound decodes frames from one peer connection into the inbox
// until the connection closes or becomes unrecoverable.
func (e *Endpoint) handleInbound(conn net.Conn) {
	defer e.handlerWG.Done()
	defer func() {
		conn.Close()
		e.mu.Lock()
		delete(e.inbound, conn)
		e.mu.Unlock()
	}()

	r := wire.NewReader(conn)
	malformed := 0
	for {
		m, err := r.ReadMessage()
		switch {
		case err == nil:
			malformed = 0
			e.inbox.Push(m)
		case errors.Is(err, wire.ErrMalformed):
			// Frame consumed, stream still aligned: discard and carry on
			// unless the peer keeps sending garbage.
			malformed++
			log.Printf("machine %d: discarding malformed message from %s (%d consecutive)",
				e.id, conn.RemoteAddr(), malformed)
			if malformed >= maxConsecutiveMalformed {
				log.Printf("machine %d: dropping corrupt connection from %s", e.id, conn.RemoteAddr())
				return
			}
		case errors.Is(err, wire.ErrFramingLost):
			log.Printf("machine %d: frame alignment lost on connection from %s: %v",
				e.id, conn.RemoteAddr(), err)
			return
		case errors.Is(err, io.EOF):
			return
		default:
			// Read error: connection reset or closed under us.
			return
		}
	}
}
