package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/eventstore"
	"github.com/toka-systems/toka/eventstore/memstore"
	"github.com/toka-systems/toka/ids"
)

func TestAppendIsIdempotentOnDigest(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	digest, err := ids.Digest([]byte("payload"), nil)
	require.NoError(t, err)
	rec := eventstore.Record{Digest: digest, Payload: []byte("payload"), CommittedAt: time.Now().UTC()}

	id1, err := s.Append(ctx, rec)
	require.NoError(t, err)
	id2, err := s.Append(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestHeadsExcludesParents(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	rootDigest, err := ids.Digest([]byte("root"), nil)
	require.NoError(t, err)
	rootID, err := s.Append(ctx, eventstore.Record{Digest: rootDigest, Payload: []byte("root")})
	require.NoError(t, err)

	childDigest, err := ids.Digest([]byte("child"), []ids.EventId{rootID})
	require.NoError(t, err)
	childID, err := s.Append(ctx, eventstore.Record{Digest: childDigest, Payload: []byte("child"), Parents: []ids.EventId{rootID}})
	require.NoError(t, err)

	heads, err := s.Heads(ctx)
	require.NoError(t, err)
	require.Equal(t, []ids.EventId{childID}, heads)

	children, err := s.Children(ctx, rootID)
	require.NoError(t, err)
	require.Equal(t, []ids.EventId{childID}, children)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	s := memstore.New()
	_, err := s.Get(context.Background(), ids.NewEventId())
	require.ErrorIs(t, err, eventstore.ErrNotFound)
}
