// Package tokaruntime binds the Capability Validator, Kernel, Event Store,
// and Event Bus into the single submit/subscribe/snapshot surface external
// callers use (SPEC_FULL.md §4.5). It is the only component that mutates
// kernel.WorldState; every mutation goes through exactly one active writer.
package tokaruntime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/toka-systems/toka/capability"
	"github.com/toka-systems/toka/eventbus"
	"github.com/toka-systems/toka/eventstore"
	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
	"github.com/toka-systems/toka/telemetry"
)

// maxParents bounds how many prior heads a committed event declares as
// parents (SPEC_FULL.md §4.5 step 3: "Parents are the last committed event
// of the same origin (≤4)").
const maxParents = 4

// Runtime is the single-writer binding of kernel reduction to durable
// storage and fan-out. Construct with New; the zero value is not usable.
type Runtime struct {
	store     eventstore.Store
	bus       eventbus.Bus
	clock     kernel.Clock
	validator *capability.Validator

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	writePermit chan struct{}
	closed      chan struct{}
	closeOnce   sync.Once

	mu    sync.Mutex
	state *kernel.WorldState
	seq   uint64
	heads map[ids.EntityId][]ids.EventId
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the default SystemClock, primarily for tests.
func WithClock(c kernel.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithLogger attaches structured logging for submit outcomes.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics attaches a metrics recorder for submit outcomes.
func WithMetrics(m telemetry.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithTracer wraps every Submit in a span.
func WithTracer(t telemetry.Tracer) Option {
	return func(r *Runtime) { r.tracer = t }
}

// New constructs a Runtime over the given Event Store, Event Bus, and
// Capability Validator, starting from an empty WorldState.
func New(store eventstore.Store, bus eventbus.Bus, validator *capability.Validator, opts ...Option) *Runtime {
	r := &Runtime{
		store:       store,
		bus:         bus,
		validator:   validator,
		clock:       kernel.NewSystemClock(),
		logger:      telemetry.NewNoopLogger(),
		metrics:     telemetry.NewNoopMetrics(),
		tracer:      telemetry.NewNoopTracer(),
		writePermit: make(chan struct{}, 1),
		closed:      make(chan struct{}),
		state:       kernel.NewWorldState(),
		heads:       make(map[ids.EntityId][]ids.EventId),
	}
	r.writePermit <- struct{}{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit validates token, reduces op against the current WorldState, and on
// success commits the resulting event to the store before publishing it on
// the bus (SPEC_FULL.md §4.5 protocol, steps 1-6).
func (r *Runtime) Submit(ctx context.Context, token string, origin ids.EntityId, op kernel.Operation) (*kernel.KernelEvent, error) {
	ctx, span := r.tracer.Start(ctx, "runtime.submit")
	defer span.End()
	span.AddEvent("op", "kind", string(op.Kind))

	select {
	case <-r.writePermit:
	case <-r.closed:
		return nil, shutdownErr()
	case <-ctx.Done():
		return nil, timeoutErr()
	}
	defer func() { r.writePermit <- struct{}{} }()

	claims, err := r.validator.Validate(ctx, token)
	if err != nil {
		r.logger.Warn(ctx, "capability validation rejected", "error", err.Error())
		r.metrics.IncCounter("runtime.submit.unauthorized", 1)
		span.SetStatus(codes.Error, "unauthorized")
		return nil, unauthorizedErr(err.Error())
	}

	if ctx.Err() != nil {
		return nil, timeoutErr()
	}

	r.mu.Lock()
	before := r.state
	seq := r.seq + 1
	msg := kernel.Message{Origin: origin, Claims: claims, Op: op, Timestamp: r.clock.Now()}
	next, event, kerr := kernel.Reduce(before, msg, r.clock, seq)
	r.mu.Unlock()

	if kerr != nil {
		r.logger.Warn(ctx, "kernel rejected operation", "kind", kerr.Kind, "message", kerr.Message)
		r.metrics.IncCounter("runtime.submit.kernel_error", 1, "kind", string(kerr.Kind))
		span.SetStatus(codes.Error, string(kerr.Kind))
		return nil, kernelErr(kerr)
	}

	if ctx.Err() != nil {
		return nil, timeoutErr()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("marshal event: %w", err))
	}

	r.mu.Lock()
	parents := lastHeads(r.heads[origin])
	r.mu.Unlock()

	digest, err := ids.Digest(payload, parents)
	if err != nil {
		return nil, persistenceErr(fmt.Errorf("digest event: %w", err))
	}

	eventID, err := r.store.Append(ctx, eventstore.Record{
		Digest:      digest,
		Parents:     parents,
		Payload:     payload,
		CommittedAt: event.Timestamp,
	})
	if err != nil {
		// The kernel mutation (`next`) is discarded; `r.state` still points
		// at `before`, so the rollback is implicit — we simply never commit.
		r.logger.Error(ctx, "event store commit failed", "error", err.Error())
		r.metrics.IncCounter("runtime.submit.persistence_error", 1)
		span.SetStatus(codes.Error, "persistence")
		return nil, persistenceErr(err)
	}

	r.mu.Lock()
	r.state = next
	r.seq = seq
	r.heads[origin] = pushHead(r.heads[origin], eventID)
	r.mu.Unlock()

	if err := r.bus.Publish(ctx, eventbus.Event{ID: eventID, Event: *event}); err != nil {
		// Publish failures never fail the submit (§4.5 step 5); the bus
		// itself is responsible for marking affected subscribers lagging.
		r.logger.Warn(ctx, "bus publish failed", "error", err.Error())
	}

	r.metrics.IncCounter("runtime.submit.committed", 1, "kind", string(event.Kind))
	span.SetStatus(codes.Ok, "")
	return event, nil
}

// Subscribe returns a live feed of committed events over the Event Bus.
func (r *Runtime) Subscribe(capacity int) eventbus.Subscription {
	return r.bus.Subscribe(capacity)
}

// Snapshot returns a read-only, deep-copied view of the current
// WorldState (§6: "read-only projection; optional").
func (r *Runtime) Snapshot() *kernel.WorldState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Close stops accepting new submissions; any Submit already waiting on the
// write permit observes RuntimeError{Kind: ErrShutdown}.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func lastHeads(h []ids.EventId) []ids.EventId {
	if len(h) == 0 {
		return nil
	}
	return append([]ids.EventId(nil), h...)
}

func pushHead(h []ids.EventId, id ids.EventId) []ids.EventId {
	h = append(h, id)
	if len(h) > maxParents {
		h = h[len(h)-maxParents:]
	}
	return h
}
