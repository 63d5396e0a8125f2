package tokaruntime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/capability"
	"github.com/toka-systems/toka/eventbus"
	"github.com/toka-systems/toka/eventstore/memstore"
	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
	tokaruntime "github.com/toka-systems/toka/runtime/core"
)

func newTestRuntime() (*tokaruntime.Runtime, []byte) {
	secret := []byte("test-secret-test-secret")
	validator := capability.NewValidator(secret, capability.NewMemoryNonceCache())
	rt := tokaruntime.New(memstore.New(), eventbus.NewInMemoryBus(), validator)
	return rt, secret
}

func issue(t *testing.T, secret []byte, subject ids.EntityId, perms ...string) string {
	t.Helper()
	issuer := capability.NewIssuer(secret)
	token, err := issuer.Issue(subject, perms, time.Hour, "nonce-"+subject.String())
	require.NoError(t, err)
	return token
}

func TestSubmitSpawnSubAgentCommitsAndPublishes(t *testing.T) {
	rt, secret := newTestRuntime()
	token := issue(t, secret, ids.Root, "agents.spawn")

	sub := rt.Subscribe(4)
	defer sub.Close()

	digest, err := ids.Digest([]byte("agent-spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})

	event, err := rt.Submit(context.Background(), token, ids.Root, op)
	require.NoError(t, err)
	require.Equal(t, kernel.OpSpawnSubAgent, event.Kind)

	select {
	case delivery := <-sub.Deliveries():
		require.NotNil(t, delivery.Event)
		require.Equal(t, kernel.OpSpawnSubAgent, delivery.Event.Event.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a delivery on the bus")
	}

	child := ids.NewChildEntityId(ids.Root, digest)
	snap := rt.Snapshot()
	require.Contains(t, snap.Agents, child)
}

func TestSubmitRejectsMissingPermission(t *testing.T) {
	rt, secret := newTestRuntime()
	token := issue(t, secret, ids.Root, "agents.observe")

	digest, err := ids.Digest([]byte("agent-spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})

	_, err = rt.Submit(context.Background(), token, ids.Root, op)
	require.Error(t, err)

	var rerr *tokaruntime.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, tokaruntime.ErrKernel, rerr.Kind)
	require.True(t, errors.Is(rerr.Kernel, &kernel.KernelError{Kind: kernel.ErrUnauthorized}))

	snap := rt.Snapshot()
	require.Empty(t, snap.Agents)
}

func TestSubmitRejectsBadToken(t *testing.T) {
	rt, _ := newTestRuntime()
	digest, err := ids.Digest([]byte("agent-spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})

	_, err = rt.Submit(context.Background(), "not-a-real-token", ids.Root, op)
	require.Error(t, err)

	var rerr *tokaruntime.RuntimeError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, tokaruntime.ErrUnauthorized, rerr.Kind)
}

func TestSubmitAfterCloseReturnsShutdown(t *testing.T) {
	rt, secret := newTestRuntime()
	token := issue(t, secret, ids.Root, "agents.spawn")
	require.NoError(t, rt.Close(context.Background()))

	digest, err := ids.Digest([]byte("agent-spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})

	_, err = rt.Submit(context.Background(), token, ids.Root, op)
	require.ErrorIs(t, err, &tokaruntime.RuntimeError{Kind: tokaruntime.ErrShutdown})
}
