// ABOUTME: Publisher combinators: Fanout to several publishers, Queue to hold events until commit
// ABOUTME: Recorder captures events in memory for assertions

package events

import (
	"context"
	"sync"
)

// Fanout publishes each event to every publisher in order.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev *Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, ev)
		}
	}
}

// Queue buffers events until Flush. Operations that write inside a store
// transaction publish into a Queue and flush only after commit, so clients
// never hear about state that was rolled back.
type Queue struct {
	mu      sync.Mutex
	next    Publisher
	pending []*Event
}

// NewQueue returns a queue that flushes into next.
func NewQueue(next Publisher) *Queue {
	return &Queue{next: next}
}

// Publish buffers ev.
func (q *Queue) Publish(_ context.Context, ev *Event) {
	q.mu.Lock()
	q.pending = append(q.pending, ev)
	q.mu.Unlock()
}

// Add buffers several events in order.
func (q *Queue) Add(evs ...*Event) {
	q.mu.Lock()
	q.pending = append(q.pending, evs...)
	q.mu.Unlock()
}

// Flush delivers buffered events in order and empties the queue.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, ev := range pending {
		q.next.Publish(ctx, ev)
	}
}

// Discard drops buffered events.
func (q *Queue) Discard() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Recorder is a Publisher that keeps every event, for tests.
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *Recorder) Publish(_ context.Context, ev *Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

// Names returns event names in publish order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, ev := range r.events {
		names[i] = ev.Name
	}
	return names
}

// Named returns the events called name.
func (r *Recorder) Named(name string) []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
