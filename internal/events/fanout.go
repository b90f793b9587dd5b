package events

import (
	"fmt"
	"sync"
)

// DefaultQueueLimit bounds a subscriber's undrained queue. When exceeded,
// the oldest events are dropped; delivery is at-most-once with no replay.
const DefaultQueueLimit = 256

// Fanout delivers events to independent subscribers. Each subscriber owns
// an outbound queue that grows on Publish and empties on Drain. Events are
// never delivered to subscribers that join later.
type Fanout struct {
	mu     sync.Mutex
	queues map[string][]Event
	limit  int
}

// NewFanout returns a Fanout with the given per-subscriber queue limit.
// Non-positive limits fall back to DefaultQueueLimit.
func NewFanout(limit int) *Fanout {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	return &Fanout{queues: make(map[string][]Event), limit: limit}
}

// Subscribe creates an empty queue for id and broadcasts a userAttach
// event to every subscriber, the new one included.
func (f *Fanout) Subscribe(id string) {
	f.mu.Lock()
	if _, ok := f.queues[id]; !ok {
		f.queues[id] = nil
	}
	f.mu.Unlock()
	f.Publish(New(TypeUserAttach, map[string]any{
		"message":  fmt.Sprintf("%s attached to the console", id),
		"username": id,
	}))
}

// Unsubscribe drops the subscriber's queue, discarding anything it never
// drained, and broadcasts a userDetach event to the remaining subscribers.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	_, ok := f.queues[id]
	delete(f.queues, id)
	f.mu.Unlock()
	if ok {
		f.Publish(New(TypeUserDetach, map[string]any{
			"message":  fmt.Sprintf("%s detached from the console", id),
			"username": id,
		}))
	}
}

// Publish appends the event to every currently-subscribed queue.
func (f *Fanout) Publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, q := range f.queues {
		q = append(q, e)
		if len(q) > f.limit {
			q = q[len(q)-f.limit:]
		}
		f.queues[id] = q
	}
}

// Drain returns and clears the subscriber's queue. The second result is
// false when the subscriber is unknown.
func (f *Fanout) Drain(id string) ([]Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queues[id]
	if !ok {
		return nil, false
	}
	f.queues[id] = nil
	return q, true
}

// Subscribers returns the current subscriber ids.
func (f *Fanout) Subscribers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.queues))
	for id := range f.queues {
		out = append(out, id)
	}
	return out
}
