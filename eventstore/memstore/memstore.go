// Package memstore provides an in-memory eventstore.Store implementation,
// suitable for development, testing, and single-node deployments where
// persistence across restarts is not required.
package memstore

import (
	"context"
	"sync"

	"github.com/toka-systems/toka/eventstore"
	"github.com/toka-systems/toka/ids"
)

// Store is an in-memory implementation of eventstore.Store. It is safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	byID      map[ids.EventId]eventstore.Record
	byDigest  map[ids.CausalDigest]ids.EventId
	children  map[ids.EventId][]ids.EventId
	isParent  map[ids.EventId]bool
	order     []ids.EventId
}

var _ eventstore.Store = (*Store)(nil)

// New creates a new in-memory event store.
func New() *Store {
	return &Store{
		byID:     make(map[ids.EventId]eventstore.Record),
		byDigest: make(map[ids.CausalDigest]ids.EventId),
		children: make(map[ids.EventId][]ids.EventId),
		isParent: make(map[ids.EventId]bool),
	}
}

// Append implements eventstore.Store.
func (s *Store) Append(ctx context.Context, rec eventstore.Record) (ids.EventId, error) {
	if err := ctx.Err(); err != nil {
		return ids.EventId{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byDigest[rec.Digest]; ok {
		return existing, nil
	}

	id := rec.ID
	if id == (ids.EventId{}) {
		id = ids.NewEventId()
	}
	rec.ID = id

	s.byID[id] = rec
	s.byDigest[rec.Digest] = id
	s.order = append(s.order, id)
	for _, parent := range rec.Parents {
		s.children[parent] = append(s.children[parent], id)
		s.isParent[parent] = true
	}
	return id, nil
}

// Get implements eventstore.Store.
func (s *Store) Get(ctx context.Context, id ids.EventId) (eventstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return eventstore.Record{}, eventstore.ErrNotFound
	}
	return rec, nil
}

// Children implements eventstore.Store.
func (s *Store) Children(ctx context.Context, parent ids.EventId) ([]ids.EventId, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.EventId, len(s.children[parent]))
	copy(out, s.children[parent])
	return out, nil
}

// Heads implements eventstore.Store.
func (s *Store) Heads(ctx context.Context) ([]ids.EventId, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.EventId, 0, len(s.order))
	for _, id := range s.order {
		if !s.isParent[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
