// Package queue provides the per-machine inbox: a concurrent FIFO of
// inbound timestamped messages.
//
// Exactly two goroutines touch a queue: the network endpoint's delivery
// path pushes, and the owning machine's tick loop pops. The pop side must
// never block; an empty inbox is a normal tick outcome (the machine
// generates a send or internal event instead). The queue is unbounded;
// backlog growth under load is the thing the experiments measure, not an
// error condition.
package queue

import (
	"sync"

	"github.com/daviddao/clocksim/pkg/model"
)

// Queue is a mutex-guarded FIFO of messages.
type Queue struct {
	mu    sync.Mutex
	items []model.Message
	head  int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends a message to the tail. Safe to call concurrently with
// TryPop and Len.
func (q *Queue) Push(m model.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest message without blocking. The
// second return value is the queue length immediately after the removal,
// taken under the same lock so a RECEIVE log record reflects the state
// the moment the message left the inbox. ok is false when the queue is
// empty.
func (q *Queue) TryPop() (m model.Message, remaining int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return model.Message{}, 0, false
	}
	m = q.items[q.head]
	q.head++

	// Reclaim the drained prefix once it dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.items) {
		q.items = append([]model.Message(nil), q.items[q.head:]...)
		q.head = 0
	}
	return m, len(q.items) - q.head, true
}

// Len returns the current number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
