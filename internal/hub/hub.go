// Package hub implements the Stream Hub: a publish/subscribe primitive
// that fans one leader's upstream token stream out to many subscribers,
// each with its own bounded queue and independent drain.
//
// Unlike the general-purpose backend-to-many-clients hub this package is
// adapted from, a hub here is created per coalesce key for the lifetime
// of a single dispatch's leader stream, not per static backend.
package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one item published by a leader and fanned out to subscribers.
// Payload is the already-marshaled JSON body for the named event type;
// the SSE encoder is responsible for wire framing.
type Event struct {
	Type    string
	Payload []byte
}

// Subscription is one subscriber's bounded view of a Hub's events.
type Subscription struct {
	id      uint64
	events  chan Event
	dropped atomic.Int64
	notified int64 // last dropped count a "dropped" marker was emitted for
	closed  atomic.Bool
}

var subIDCounter atomic.Uint64

func newSubscription(bufferSize int) *Subscription {
	return &Subscription{
		id:     subIDCounter.Add(1),
		events: make(chan Event, bufferSize),
	}
}

// Events returns the channel of fanned-out events. It is closed when the
// hub closes and has finished draining.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns the cumulative count of events dropped for this
// subscription due to queue overflow.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// PendingDropNotice returns the cumulative dropped count if it has grown
// since the last call that returned ok=true, so the SSE encoder can emit
// exactly one consolidating `dropped` event per overflow episode.
func (s *Subscription) PendingDropNotice() (count int64, ok bool) {
	cur := s.dropped.Load()
	last := atomic.LoadInt64(&s.notified)
	if cur == last {
		return 0, false
	}
	atomic.StoreInt64(&s.notified, cur)
	return cur, true
}

func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.events)
	}
}

// Hub is one publisher, N subscribers, keyed by a single coalesce key for
// the duration of one leader's upstream stream.
type Hub struct {
	mu        sync.RWMutex
	subs      map[uint64]*Subscription
	queueSize int
	closed    atomic.Bool
}

// New creates a Hub with the given per-subscriber queue size.
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Hub{
		subs:      make(map[uint64]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe registers a new subscription. Events published before this
// call are not replayed; the subscriber only observes events published
// after subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := newSubscription(h.queueSize)
	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub.id)
	h.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of currently registered subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish broadcasts evt to every current subscription, non-blocking. A
// subscription whose queue is full has its oldest buffered event dropped
// to make room (drop-oldest slow-consumer policy); the event is never
// dropped in favor of blocking the publisher, which would stall every
// other subscriber.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	snapshot := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		snapshot = append(snapshot, s)
	}
	h.mu.RUnlock()

	for _, sub := range snapshot {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.events <- evt:
		default:
			select {
			case <-sub.events:
			default:
			}
			sub.dropped.Add(1)
			select {
			case sub.events <- evt:
			default:
			}
		}
	}
}

// Close marks the hub closed, optionally publishes a final event, waits
// up to drainGrace for subscriber queues to drain, then force-closes
// every remaining subscription.
func (h *Hub) Close(final *Event, drainGrace time.Duration) {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	if final != nil {
		h.Publish(*final)
	}

	deadline := time.Now().Add(drainGrace)
	for time.Now().Before(deadline) {
		if h.allDrained() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) allDrained() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if len(s.events) > 0 {
			return false
		}
	}
	return true
}
