// Package pulsebus adapts eventbus.Bus onto goa.design/pulse streams, so
// published events are visible to every node in a cluster rather than just
// the process that published them. It mirrors the layering of the teacher's
// features/stream/pulse package: a thin Client wrapper around a Redis
// connection, Stream.Add for publishing, and one Sink per subscription for
// consuming.
package pulsebus

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/toka-systems/toka/eventbus"
	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

// Client exposes the subset of Pulse APIs the bus depends on. Implementations
// wrap goa.design/pulse/streaming; see NewRedisClient for the concrete
// adapter over *redis.Client.
type Client interface {
	Stream(name string, opts ...streamopts.Stream) (Stream, error)
	Close(ctx context.Context) error
}

// Stream exposes the operations needed to publish and consume events on a
// single Pulse stream.
type Stream interface {
	Add(ctx context.Context, event string, payload []byte) (string, error)
	NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (Sink, error)
	Destroy(ctx context.Context) error
}

// Sink represents a consumer group reading from a Pulse stream.
type Sink interface {
	Subscribe() <-chan *streaming.Event
	Ack(context.Context, *streaming.Event) error
	Close(context.Context)
}

// envelope is the JSON-serialized wire form of an eventbus.Event.
type envelope struct {
	EventID   string `json:"event_id"`
	Kind      string `json:"kind"`
	Sequence  uint64 `json:"sequence"`
	Timestamp int64  `json:"timestamp_unix_nano"`
	Payload   []byte `json:"payload"`
}

// Bus is an eventbus.Bus backed by a single Pulse stream. All subscribers
// read from independent consumer groups on that stream, so every subscriber
// sees every event regardless of how far behind the others have fallen —
// the Lagged accounting on top is purely local bookkeeping about this
// process's own consumer group.
type Bus struct {
	client     Client
	streamName string
	sinkName   string
}

const defaultSinkName = "toka_runtime"

// Option configures a Bus.
type Option func(*Bus)

// WithSinkName overrides the prefix of the Pulse consumer group names
// Subscribe creates; each subscription appends a random suffix so that it
// reads from a group of its own. Defaults to "toka_runtime".
func WithSinkName(name string) Option {
	return func(b *Bus) { b.sinkName = name }
}

// NewBus constructs a pulsebus.Bus publishing to and consuming from the
// named Pulse stream.
func NewBus(client Client, streamName string, opts ...Option) *Bus {
	b := &Bus{client: client, streamName: streamName, sinkName: defaultSinkName}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish implements eventbus.Bus by appending ev to the underlying Pulse
// stream.
func (b *Bus) Publish(ctx context.Context, ev eventbus.Event) error {
	stream, err := b.client.Stream(b.streamName)
	if err != nil {
		return fmt.Errorf("pulsebus: open stream: %w", err)
	}
	payload, err := json.Marshal(ev.Event)
	if err != nil {
		return fmt.Errorf("pulsebus: marshal event: %w", err)
	}
	env := envelope{
		EventID:   ev.ID.String(),
		Kind:      string(ev.Event.Kind),
		Sequence:  ev.Event.Sequence,
		Timestamp: ev.Event.Timestamp.UnixNano(),
		Payload:   payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulsebus: marshal envelope: %w", err)
	}
	if _, err := stream.Add(ctx, env.Kind, body); err != nil {
		return fmt.Errorf("pulsebus: publish: %w", err)
	}
	return nil
}

// Subscribe implements eventbus.Bus by opening a consumer group on the
// underlying Pulse stream and translating incoming entries into
// eventbus.Delivery values. The returned Subscription's Close stops
// consumption and closes the Pulse sink.
func (b *Bus) Subscribe(capacity int) eventbus.Subscription {
	if capacity <= 0 {
		capacity = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{ch: make(chan eventbus.Delivery, capacity), cancel: cancel}

	stream, err := b.client.Stream(b.streamName)
	if err != nil {
		sub.ch <- eventbus.Delivery{Lagged: &eventbus.Lagged{Missed: 0}}
		close(sub.ch)
		cancel()
		return sub
	}
	sink, err := stream.NewSink(ctx, b.sinkName+"_"+ids.NewEventId().String())
	if err != nil {
		close(sub.ch)
		cancel()
		return sub
	}
	sub.sink = sink
	go sub.consume(ctx)
	return sub
}

type subscription struct {
	ch     chan eventbus.Delivery
	sink   Sink
	cancel context.CancelFunc
	missed int
}

func (s *subscription) consume(ctx context.Context) {
	defer close(s.ch)
	if s.sink == nil {
		return
	}
	src := s.sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-src:
			if !ok {
				return
			}
			ev, err := decode(raw.Payload)
			if err != nil {
				s.missed++
				continue
			}
			select {
			case s.ch <- eventbus.Delivery{Event: ev}:
			case <-ctx.Done():
				return
			}
			_ = s.sink.Ack(ctx, raw)
		}
	}
}

func decode(payload []byte) (*eventbus.Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	var kev kernel.KernelEvent
	if err := json.Unmarshal(env.Payload, &kev); err != nil {
		return nil, err
	}
	var id ids.EventId
	if err := id.UnmarshalText([]byte(env.EventID)); err != nil {
		return nil, err
	}
	return &eventbus.Event{ID: id, Event: kev}, nil
}

func (s *subscription) Deliveries() <-chan eventbus.Delivery { return s.ch }

func (s *subscription) Close() {
	s.cancel()
	if s.sink != nil {
		s.sink.Close(context.Background())
	}
}
