// ABOUTME: In-memory fan-out broadcaster routing live-update events to room subscribers
// ABOUTME: One subscription can sit in many rooms; slow subscribers drop events instead of blocking

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/inbox-gateway/internal/metrics"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

type subscription struct {
	ch    chan *Event
	rooms map[string]struct{}
}

// Broadcaster provides in-memory pub/sub keyed by room. Subscribers in
// GlobalRoom receive global events; everything else is delivered only to
// members of the event's room.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]*subscription       // subID -> subscription
	rooms  map[string]map[string]struct{} // room -> subIDs
	closed bool
	logger *slog.Logger
}

var _ Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]*subscription),
		rooms:  make(map[string]map[string]struct{}),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber in the given rooms. Returns a channel
// that receives events and a subscription ID for Join, Leave and
// Unsubscribe. The subscription is cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, rooms ...string) (<-chan *Event, string) {
	subID := uuid.New().String()
	sub := &subscription{
		ch:    make(chan *Event, subscriberBufferSize),
		rooms: make(map[string]struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, subID
	}
	b.subs[subID] = sub
	for _, room := range rooms {
		b.joinLocked(subID, sub, room)
	}
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID, "rooms", rooms)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Join adds an existing subscription to room. Unknown IDs are ignored.
func (b *Broadcaster) Join(subID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[subID]; ok {
		b.joinLocked(subID, sub, room)
	}
}

func (b *Broadcaster) joinLocked(subID string, sub *subscription, room string) {
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[room] = members
	}
	members[subID] = struct{}{}
	sub.rooms[room] = struct{}{}
}

// Leave removes a subscription from room.
func (b *Broadcaster) Leave(subID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[subID]; ok {
		b.leaveLocked(subID, sub, room)
	}
}

func (b *Broadcaster) leaveLocked(subID string, sub *subscription, room string) {
	delete(sub.rooms, room)
	if members, ok := b.rooms[room]; ok {
		delete(members, subID)
		// Clean up empty rooms
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
}

// Rooms lists the rooms a subscription is in.
func (b *Broadcaster) Rooms(subID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, ok := b.subs[subID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sub.rooms))
	for room := range sub.rooms {
		out = append(out, room)
	}
	return out
}

// Publish sends ev to every subscriber in ev.Room.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(_ context.Context, ev *Event) {
	metrics.RecordBroadcast(ev.Name)

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID := range b.rooms[ev.Room] {
		sub := b.subs[subID]
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"room", ev.Room,
				"event", ev.Name,
				"sub_id", subID)
		}
	}
}

// Unsubscribe removes a subscription from all rooms and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subID]
	if !ok {
		return
	}
	for room := range sub.rooms {
		b.leaveLocked(subID, sub, room)
	}
	delete(b.subs, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, subID)
	}
	b.rooms = make(map[string]map[string]struct{})
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
