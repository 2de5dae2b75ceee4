// Package clock implements a Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (local event): Before any internal or send event, increment
//	     the clock.
//	IR2 (message receipt): On receiving a message with timestamp t,
//	     set the clock to max(own, t) + 1.
//
// The total order function TotalOrderLess breaks ties deterministically
// using machine IDs, giving every observer the same interleaving of a
// run's merged event logs without coordination.
//
// Note: Clock is not goroutine-safe. Each virtual machine owns exactly
// one Clock and mutates it only from its own tick loop; the inbound
// network path never touches the clock, so no locking is needed.
package clock

// Clock is a Lamport logical clock. Not goroutine-safe; see package doc.
type Clock struct {
	ts int64
}

// Tick implements IR1: increment the clock before an internal or send
// event. Returns the new timestamp.
func (c *Clock) Tick() int64 {
	c.ts++
	return c.ts
}

// Receive implements IR2: on receiving a message with timestamp received,
// set the clock to max(own, received) + 1. Returns the new timestamp.
func (c *Clock) Receive(received int64) int64 {
	if received > c.ts {
		c.ts = received
	}
	c.ts++
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 { return c.ts }

// Set initializes the clock to a specific value. Used by tests and by
// analysis when replaying a machine's log.
func (c *Clock) Set(v int64) { c.ts = v }

// TotalOrderLess defines a deterministic total order over events.
// Given two events with timestamps tsA and tsB from machines a and b,
// event A is "less" (comes first) if:
//
//	tsA < tsB, or
//	tsA == tsB and a < b
//
// This is the standard Lamport total order; the archiver uses it to merge
// per-machine logs into one causally consistent sequence.
func TotalOrderLess(tsA int64, a int, tsB int64, b int) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return a < b
}
