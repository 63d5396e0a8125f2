package ids_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/ids"
)

func TestEntityIdRoot(t *testing.T) {
	assert.True(t, ids.Root.IsRoot())
	assert.False(t, ids.NewEntityId().IsRoot())
}

func TestEntityIdTextRoundTrip(t *testing.T) {
	want := ids.NewEntityId()
	b, err := want.MarshalText()
	require.NoError(t, err)

	var got ids.EntityId
	require.NoError(t, got.UnmarshalText(b))
	assert.Equal(t, want, got)
}

func TestEventIdUnique(t *testing.T) {
	a := ids.NewEventId()
	b := ids.NewEventId()
	assert.NotEqual(t, a, b)
}

func TestDigestDeterministic(t *testing.T) {
	parents := []ids.EventId{ids.NewEventId(), ids.NewEventId()}
	payload := []byte("hello world")

	d1, err := ids.Digest(payload, parents)
	require.NoError(t, err)
	d2, err := ids.Digest(payload, parents)
	require.NoError(t, err)

	assert.True(t, d1.Equal(d2), "identical (payload, parents) must yield identical digest")
}

func TestDigestDivergesOnParents(t *testing.T) {
	payload := []byte("same bytes")
	d1, err := ids.Digest(payload, []ids.EventId{ids.NewEventId()})
	require.NoError(t, err)
	d2, err := ids.Digest(payload, []ids.EventId{ids.NewEventId()})
	require.NoError(t, err)

	assert.False(t, d1.Equal(d2), "different parent sets must diverge the digest")
}

func TestDigestRejectsEmptyPayload(t *testing.T) {
	_, err := ids.Digest(nil, nil)
	assert.ErrorIs(t, err, ids.ErrEmptyPayload)
}

func TestDigestTextRoundTrip(t *testing.T) {
	d, err := ids.Digest([]byte("payload"), nil)
	require.NoError(t, err)

	b, err := d.MarshalText()
	require.NoError(t, err)

	var got ids.CausalDigest
	require.NoError(t, got.UnmarshalText(b))
	assert.Equal(t, d, got)
}

func TestTaskIdDeterministic(t *testing.T) {
	owner := ids.NewEntityId()
	a := ids.NewTaskId(owner, 3)
	b := ids.NewTaskId(owner, 3)
	c := ids.NewTaskId(owner, 4)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestTaskIdDiffersAcrossOwners(t *testing.T) {
	a := ids.NewTaskId(ids.NewEntityId(), 1)
	b := ids.NewTaskId(ids.NewEntityId(), 1)
	assert.NotEqual(t, a, b)
}
