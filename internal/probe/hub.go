package probe

import (
	"sync"
	"sync/atomic"
)

// defaultSubscriberBuffer bounds how far one live subscriber may fall
// behind before it starts missing lines.
const defaultSubscriberBuffer = 5000

// Subscription is one live attachment to a port's line stream. Lines are
// delivered through a bounded channel; when the channel is full the hub
// drops the line for this subscription only and counts it.
type Subscription struct {
	identity string
	lines    chan string
	dropped  atomic.Uint64
}

// Lines returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) Lines() <-chan string {
	return s.lines
}

// Identity returns the port identity this subscription is attached to.
func (s *Subscription) Identity() string {
	return s.identity
}

// Dropped returns how many lines this subscription has missed because its
// channel was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub fans ingested lines out to live subscribers, per identity.
//
// Publishing is non-blocking: a slow subscriber misses lines rather than
// stalling the reader, and one subscriber's backlog never affects another.
// Within a subscription, delivery order equals publish order. Subscriptions
// are held in insertion order.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The mutex is held across
//     the non-blocking channel pushes, which also makes Unsubscribe's
//     channel close race-free.
type Hub struct {
	mu     sync.Mutex
	subs   map[string][]*Subscription
	buffer int
	logger Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer lines.
// A non-positive buffer selects the default (5000).
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[string][]*Subscription),
		buffer: buffer,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	h.logger = logger
}

// Subscribe attaches a new subscription to identity's line stream.
// Subscribing to an identity that has not been discovered is allowed; the
// subscription simply receives nothing until a reader publishes.
func (h *Hub) Subscribe(identity string) *Subscription {
	sub := &Subscription{
		identity: identity,
		lines:    make(chan string, h.buffer),
	}

	h.mu.Lock()
	h.subs[identity] = append(h.subs[identity], sub)
	count := len(h.subs[identity])
	h.mu.Unlock()

	h.logger.Debug("subscriber attached", "port", identity, "subscribers", count)
	return sub
}

// Unsubscribe detaches sub and closes its channel. Calling it again for an
// already-removed subscription is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.subs[sub.identity]
	for i, s := range list {
		if s == sub {
			h.subs[sub.identity] = append(list[:i], list[i+1:]...)
			if len(h.subs[sub.identity]) == 0 {
				delete(h.subs, sub.identity)
			}
			close(sub.lines)
			return
		}
	}
}

// Publish delivers line to every subscription for identity. Full
// subscriptions miss the line and have their dropped counter incremented;
// delivery to the rest is unaffected.
func (h *Hub) Publish(identity, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[identity] {
		select {
		case sub.lines <- line:
		default:
			sub.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of live subscriptions for identity.
func (h *Hub) SubscriberCount(identity string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[identity])
}
