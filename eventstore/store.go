// Package eventstore defines the content-addressed, causally-linked event
// log Toka's runtime appends KernelEvents to (SPEC_FULL.md §4.3). Every
// committed Record is immutable and identified by a digest over its payload
// and declared parents, so replaying the same (payload, parents) pair is
// always a no-op rather than a duplicate append.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/toka-systems/toka/ids"
)

// ErrNotFound is returned when a requested event id is not present in the
// store.
var ErrNotFound = errors.New("eventstore: event not found")

// Record is the durable unit appended to an event store: a header carrying
// identity and causal links, plus the serialized kernel.KernelEvent payload.
type Record struct {
	ID          ids.EventId
	Digest      ids.CausalDigest
	Parents     []ids.EventId
	Payload     []byte
	CommittedAt time.Time
}

// Store is the persistence layer for committed events. Implementations must
// be safe for concurrent use and must treat Append as idempotent on
// (Digest, Parents): appending a record whose digest already exists returns
// the previously stored record's ID rather than creating a duplicate.
type Store interface {
	// Append commits rec, assigning it a fresh EventId unless an existing
	// record already carries the same Digest, in which case that record's ID
	// is returned instead and rec is not duplicated.
	Append(ctx context.Context, rec Record) (ids.EventId, error)

	// Get retrieves a committed record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id ids.EventId) (Record, error)

	// Children returns the ids of every record that declared parent as one
	// of its Parents, in commit order.
	Children(ctx context.Context, parent ids.EventId) ([]ids.EventId, error)

	// Heads returns the ids of every record that is not itself a parent of
	// any other committed record — the current frontier of the causal DAG.
	Heads(ctx context.Context) ([]ids.EventId, error)
}
