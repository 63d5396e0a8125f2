// Package eventbus fans committed kernel events out to subscribers with
// bounded per-subscriber backpressure (SPEC_FULL.md §4.2): a subscriber that
// keeps up with the publish rate never loses an event, while one that falls
// behind is told so explicitly via a Lagged marker instead of silently
// missing events.
package eventbus

import (
	"context"
	"sync"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

// Event is the unit published on the bus: a committed kernel event together
// with the event store id it was assigned.
type Event struct {
	ID    ids.EventId
	Event kernel.KernelEvent
}

// Lagged marks that a subscriber missed Missed events because its channel
// was full. It is delivered in place of the events it replaces, never
// silently.
type Lagged struct {
	Missed int
}

// Delivery is exactly one of Event or Lagged.
type Delivery struct {
	Event  *Event
	Lagged *Lagged
}

// Bus publishes committed events to any number of subscribers.
type Bus interface {
	// Publish fans out ev to every current subscriber. Publish never blocks
	// on a slow subscriber; it drops to that subscriber's lagged counter
	// instead.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a new subscriber with the given channel capacity.
	// The returned Subscription must be closed by the caller.
	Subscribe(capacity int) Subscription
}

// Subscription is a single subscriber's view of the bus.
type Subscription interface {
	// Deliveries returns the channel of incoming events and lag markers.
	Deliveries() <-chan Delivery
	// Close unregisters the subscription and releases its channel.
	Close()
}

// InMemoryBus is a process-local Bus backed by Go channels.
type InMemoryBus struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

// NewInMemoryBus returns a ready-to-use InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	bus     *InMemoryBus
	ch      chan Delivery
	mu      sync.Mutex
	lagging bool
	missed  int
}

// Publish implements Bus.
func (b *InMemoryBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
	return nil
}

// Subscribe implements Bus.
func (b *InMemoryBus) Subscribe(capacity int) Subscription {
	if capacity <= 0 {
		capacity = 1
	}
	s := &subscription{bus: b, ch: make(chan Delivery, capacity)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lagging {
		select {
		case s.ch <- Delivery{Lagged: &Lagged{Missed: s.missed}}:
			s.lagging = false
			s.missed = 0
		default:
			s.missed++
			return
		}
	}

	select {
	case s.ch <- Delivery{Event: &ev}:
	default:
		s.lagging = true
		s.missed++
	}
}

func (s *subscription) Deliveries() <-chan Delivery { return s.ch }

func (s *subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
}
