// Package notifier fans catalog and sale events out to live subscribers,
// one stream per connected client, scoped to a single tenant.
package notifier

import (
	"errors"
	"sync"
	"time"

	"ultrapos/backend/internal/domain"
)

// subscriberBuffer bounds each subscriber's pending events. A subscriber
// that falls this far behind is disconnected rather than queued without
// limit.
const subscriberBuffer = 64

var ErrClosed = errors.New("notifier closed")

type Hub struct {
	mu      sync.Mutex
	tenants map[string]*tenantFeed
	closed  bool
}

// tenantFeed owns the subscriber set of one tenant. Its mutex serializes
// snapshot-take, registration and publishing, which is what makes the
// initial snapshot strictly ordered against incremental events.
type tenantFeed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

type Subscription struct {
	feed *tenantFeed
	ch   chan domain.Event
	once sync.Once
}

func NewHub() *Hub {
	return &Hub{tenants: make(map[string]*tenantFeed)}
}

func (h *Hub) feed(tenantID string) *tenantFeed {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.tenants[tenantID]
	if !ok {
		feed = &tenantFeed{subs: make(map[*Subscription]struct{})}
		h.tenants[tenantID] = feed
	}
	return feed
}

// Subscribe registers a new stream for the tenant. The snapshot loader runs
// while the feed is locked against publishers, so no event generated before
// the snapshot can arrive after it and no event generated after it can be
// missed. The snapshot event is always the first delivery.
func (h *Hub) Subscribe(tenantID string, snapshot func() (domain.Event, error)) (*Subscription, error) {
	feed := h.feed(tenantID)
	feed.mu.Lock()
	defer feed.mu.Unlock()

	// Re-check under the feed lock: Close sets the flag before sweeping
	// feeds, so a subscriber registered here is guaranteed to be seen by
	// the sweep or refused outright.
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	initial, err := snapshot()
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		feed: feed,
		ch:   make(chan domain.Event, subscriberBuffer),
	}
	sub.ch <- initial
	feed.subs[sub] = struct{}{}
	return sub, nil
}

// Publish delivers the event to every current subscriber of the tenant.
// Fire-and-forget: a subscriber whose buffer is full is dropped on the spot
// so it can never block the publisher or its peers.
func (h *Hub) Publish(tenantID string, event domain.Event) {
	h.mu.Lock()
	feed, ok := h.tenants[tenantID]
	h.mu.Unlock()
	if !ok {
		return
	}

	feed.mu.Lock()
	defer feed.mu.Unlock()

	for sub := range feed.subs {
		select {
		case sub.ch <- event:
		default:
			delete(feed.subs, sub)
			sub.once.Do(func() { close(sub.ch) })
		}
	}
}

// Close terminates every subscription across all tenants.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	feeds := make([]*tenantFeed, 0, len(h.tenants))
	for _, feed := range h.tenants {
		feeds = append(feeds, feed)
	}
	h.mu.Unlock()

	for _, feed := range feeds {
		feed.mu.Lock()
		for sub := range feed.subs {
			delete(feed.subs, sub)
			sub.once.Do(func() { close(sub.ch) })
		}
		feed.mu.Unlock()
	}
	return nil
}

// Events yields the subscription's ordered stream. The channel closes when
// the subscriber is dropped, cancelled or the hub shuts down.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Cancel unregisters the subscription and closes its stream. Safe to call
// more than once and safe to race with Publish.
func (s *Subscription) Cancel() {
	s.feed.mu.Lock()
	delete(s.feed.subs, s)
	s.feed.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// Envelope builds the standard wire event.
func Envelope(eventType string, payload any) domain.Event {
	return domain.Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}
}
