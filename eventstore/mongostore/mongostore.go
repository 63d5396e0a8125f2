// Package mongostore provides a MongoDB implementation of eventstore.Store,
// persisting committed events for durability across restarts in production
// deployments.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/toka-systems/toka/eventstore"
	"github.com/toka-systems/toka/ids"
)

// Store is a MongoDB implementation of eventstore.Store.
type Store struct {
	collection *mongo.Collection
}

var _ eventstore.Store = (*Store)(nil)

// recordDocument is the MongoDB document representation of a Record. The
// digest, not the generated EventId, is the natural key so Append can rely
// on a unique index to make duplicate-digest inserts idempotent even under
// concurrent writers.
type recordDocument struct {
	ID          string   `bson:"_id"`
	Digest      string   `bson:"digest"`
	Parents     []string `bson:"parents"`
	Payload     []byte   `bson:"payload"`
	CommittedAt int64    `bson:"committed_at_unix_nano"`
}

// New creates a new MongoDB-backed store using the provided collection. The
// collection should have a unique index on "digest"; EnsureIndexes creates
// it if missing.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

// EnsureIndexes creates the unique digest index backing Append's
// idempotency guarantee. Call once during startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "digest", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongostore: ensure digest index: %w", err)
	}
	return nil
}

// Append implements eventstore.Store.
func (s *Store) Append(ctx context.Context, rec eventstore.Record) (ids.EventId, error) {
	if existing, err := s.findByDigest(ctx, rec.Digest); err == nil {
		return existing, nil
	} else if !errors.Is(err, eventstore.ErrNotFound) {
		return ids.EventId{}, err
	}

	id := rec.ID
	if id == (ids.EventId{}) {
		id = ids.NewEventId()
	}
	doc := toDocument(id, rec)
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost the race to a concurrent writer with the same digest.
			if existing, ferr := s.findByDigest(ctx, rec.Digest); ferr == nil {
				return existing, nil
			}
		}
		return ids.EventId{}, fmt.Errorf("mongostore: append: %w", err)
	}
	return id, nil
}

// Get implements eventstore.Store.
func (s *Store) Get(ctx context.Context, id ids.EventId) (eventstore.Record, error) {
	var doc recordDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return eventstore.Record{}, eventstore.ErrNotFound
		}
		return eventstore.Record{}, fmt.Errorf("mongostore: get %s: %w", id, err)
	}
	return fromDocument(&doc)
}

// Children implements eventstore.Store.
func (s *Store) Children(ctx context.Context, parent ids.EventId) ([]ids.EventId, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"parents": parent.String()})
	if err != nil {
		return nil, fmt.Errorf("mongostore: children of %s: %w", parent, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode children: %w", err)
	}
	out := make([]ids.EventId, 0, len(docs))
	for _, doc := range docs {
		rec, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.ID)
	}
	return out, nil
}

// Heads implements eventstore.Store: every record id that never appears in
// another record's parents array.
func (s *Store) Heads(ctx context.Context) ([]ids.EventId, error) {
	parentsInUse, err := s.collection.Distinct(ctx, "parents", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: distinct parents: %w", err)
	}
	used := make(map[string]struct{}, len(parentsInUse))
	for _, p := range parentsInUse {
		if s, ok := p.(string); ok {
			used[s] = struct{}{}
		}
	}

	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongostore: heads scan: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongostore: decode heads: %w", err)
	}
	out := make([]ids.EventId, 0, len(docs))
	for _, doc := range docs {
		if _, ok := used[doc.ID]; ok {
			continue
		}
		rec, err := fromDocument(&doc)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.ID)
	}
	return out, nil
}

func (s *Store) findByDigest(ctx context.Context, digest ids.CausalDigest) (ids.EventId, error) {
	var doc recordDocument
	err := s.collection.FindOne(ctx, bson.M{"digest": digest.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ids.EventId{}, eventstore.ErrNotFound
		}
		return ids.EventId{}, fmt.Errorf("mongostore: find by digest: %w", err)
	}
	var id ids.EventId
	if err := id.UnmarshalText([]byte(doc.ID)); err != nil {
		return ids.EventId{}, fmt.Errorf("mongostore: decode id: %w", err)
	}
	return id, nil
}

func toDocument(id ids.EventId, rec eventstore.Record) recordDocument {
	parents := make([]string, len(rec.Parents))
	for i, p := range rec.Parents {
		parents[i] = p.String()
	}
	return recordDocument{
		ID:          id.String(),
		Digest:      rec.Digest.String(),
		Parents:     parents,
		Payload:     rec.Payload,
		CommittedAt: rec.CommittedAt.UnixNano(),
	}
}

func fromDocument(doc *recordDocument) (eventstore.Record, error) {
	var id ids.EventId
	if err := id.UnmarshalText([]byte(doc.ID)); err != nil {
		return eventstore.Record{}, fmt.Errorf("mongostore: decode id: %w", err)
	}
	var digest ids.CausalDigest
	if err := digest.UnmarshalText([]byte(doc.Digest)); err != nil {
		return eventstore.Record{}, fmt.Errorf("mongostore: decode digest: %w", err)
	}
	parents := make([]ids.EventId, len(doc.Parents))
	for i, p := range doc.Parents {
		if err := parents[i].UnmarshalText([]byte(p)); err != nil {
			return eventstore.Record{}, fmt.Errorf("mongostore: decode parent: %w", err)
		}
	}
	return eventstore.Record{
		ID:          id,
		Digest:      digest,
		Parents:     parents,
		Payload:     doc.Payload,
		CommittedAt: time.Unix(0, doc.CommittedAt).UTC(),
	}, nil
}
