// policy.go defines the band policy: the data-driven mapping from a
// random draw to the action a machine takes on a tick whose inbox was
// empty. Widening the send bands raises message traffic and queue
// growth; narrowing them raises internal events and clock divergence.
// Keeping the mapping a table lets experiment sweeps reshape it without
// touching the loop.
package vm

import "fmt"

// Action is what a machine does on a generated (non-receive) tick.
type Action int

const (
	// ActionInternal advances the local clock with no communication.
	ActionInternal Action = iota
	// ActionSendOne sends to a single peer, chosen by position in the
	// machine's sorted peer list.
	ActionSendOne
	// ActionSendAll sends to every peer.
	ActionSendAll
)

// String returns the action name used in configuration files.
func (a Action) String() string {
	switch a {
	case ActionInternal:
		return "internal"
	case ActionSendOne:
		return "send_one"
	case ActionSendAll:
		return "send_all"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Band maps an inclusive draw range [Lo, Hi] to an action. Peer is the
// index into the machine's sorted peer list, meaningful only for
// ActionSendOne.
type Band struct {
	Lo     int
	Hi     int
	Action Action
	Peer   int
}

// Policy is the full band table over draws in [1, DrawMax]. Draws covered
// by no band are internal events; internal is the remaining mass of the
// range, not a band of its own.
type Policy struct {
	DrawMax int
	Bands   []Band
}

// DefaultPolicy mirrors the classic assignment: draws 1..10, draw 1
// sends to the first peer, draw 2 to the second, draw 3 to all, and
// draws 4..10 are internal events.
func DefaultPolicy() Policy {
	return Policy{
		DrawMax: 10,
		Bands: []Band{
			{Lo: 1, Hi: 1, Action: ActionSendOne, Peer: 0},
			{Lo: 2, Hi: 2, Action: ActionSendOne, Peer: 1},
			{Lo: 3, Hi: 3, Action: ActionSendAll},
		},
	}
}

// InternalOnlyPolicy generates no traffic at all; every tick is an
// internal event. Used by experiments isolating pure clock divergence.
func InternalOnlyPolicy() Policy {
	return Policy{DrawMax: 10}
}

// SendAllPolicy broadcasts on every generated tick. Used by experiments
// maximizing queue backlog.
func SendAllPolicy() Policy {
	return Policy{
		DrawMax: 10,
		Bands:   []Band{{Lo: 1, Hi: 10, Action: ActionSendAll}},
	}
}

// Validate checks the table is well-formed: positive draw range, bands
// inside it, and no overlapping bands.
func (p Policy) Validate() error {
	if p.DrawMax < 1 {
		return fmt.Errorf("policy: draw max %d, want >= 1", p.DrawMax)
	}
	for i, b := range p.Bands {
		if b.Lo < 1 || b.Hi > p.DrawMax || b.Lo > b.Hi {
			return fmt.Errorf("policy: band %d range [%d, %d] outside draws 1..%d", i, b.Lo, b.Hi, p.DrawMax)
		}
		if b.Action == ActionSendOne && b.Peer < 0 {
			return fmt.Errorf("policy: band %d has negative peer index", i)
		}
		for j, other := range p.Bands[:i] {
			if b.Lo <= other.Hi && other.Lo <= b.Hi {
				return fmt.Errorf("policy: bands %d and %d overlap", j, i)
			}
		}
	}
	return nil
}

// Classify maps a draw to its action. Draws in no band are internal.
// The second return value is the peer index for ActionSendOne.
func (p Policy) Classify(draw int) (Action, int) {
	for _, b := range p.Bands {
		if draw >= b.Lo && draw <= b.Hi {
			return b.Action, b.Peer
		}
	}
	return ActionInternal, 0
}
