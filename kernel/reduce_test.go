package kernel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func allClaims(now time.Time) kernel.Claims {
	perms := map[string]struct{}{}
	for _, p := range []string{
		"scheduler.submit", "agents.spawn", "agents.observe",
		"agents.terminate", "agents.suspend", "agents.resume",
		"scheduler.report", "telemetry.report",
	} {
		perms[p] = struct{}{}
	}
	return kernel.Claims{
		Subject:     ids.Root,
		Permissions: perms,
		IssuedAt:    now.Add(-time.Minute),
		Expiry:      now.Add(time.Hour),
	}
}

func spawnRoot(t *testing.T, state *kernel.WorldState, clock kernel.Clock, now time.Time) ids.EntityId {
	t.Helper()
	digest, err := ids.Digest([]byte("agent-spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})
	msg := kernel.Message{Origin: ids.Root, Claims: allClaims(now), Op: op, Timestamp: now}
	next, event, kerr := kernel.Reduce(state, msg, clock, 1)
	require.Nil(t, kerr)
	require.NotNil(t, event)
	*state = *next
	return ids.NewChildEntityId(ids.Root, digest)
}

func TestReduceSpawnThenScheduleTask(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()

	agent := spawnRoot(t, state, clock, now)

	op := kernel.NewScheduleAgentTask(agent, kernel.TaskSpec{Description: "do work"})
	msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}
	next, event, kerr := kernel.Reduce(state, msg, clock, 2)
	require.Nil(t, kerr)
	require.NotNil(t, event)
	require.Len(t, next.Agents[agent].TaskIDs, 1)
}

func TestReduceRejectsMissingPermission(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()

	claims := kernel.Claims{Subject: ids.Root, Permissions: map[string]struct{}{}, IssuedAt: now.Add(-time.Minute), Expiry: now.Add(time.Hour)}
	digest, err := ids.Digest([]byte("spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})
	msg := kernel.Message{Origin: ids.Root, Claims: claims, Op: op, Timestamp: now}

	_, _, kerr := kernel.Reduce(state, msg, clock, 1)
	require.NotNil(t, kerr)
	require.Equal(t, kernel.ErrUnauthorized, kerr.Kind)
}

func TestReduceRejectsClockSkew(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()

	digest, err := ids.Digest([]byte("spec"), nil)
	require.NoError(t, err)
	op := kernel.NewSpawnSubAgent(ids.Root, kernel.AgentSpecDigest{Digest: digest})

	stale := now.Add(-kernel.ClockSkewPast - time.Second)
	msg := kernel.Message{Origin: ids.Root, Claims: allClaims(now), Op: op, Timestamp: stale}

	_, _, kerr := kernel.Reduce(state, msg, clock, 1)
	require.NotNil(t, kerr)
	require.Equal(t, kernel.ErrClockSkew, kerr.Kind)
}

func TestReduceRejectsOversizedTaskDescription(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)

	oversized := make([]byte, kernel.TaskDescriptionMaxBytes+1)
	op := kernel.NewScheduleAgentTask(agent, kernel.TaskSpec{Description: string(oversized)})
	msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}

	_, _, kerr := kernel.Reduce(state, msg, clock, 2)
	require.NotNil(t, kerr)
	require.Equal(t, kernel.ErrInputTooLarge, kerr.Kind)
}

func TestReduceAcceptsTaskDescriptionAtExactLimit(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)

	exact := make([]byte, kernel.TaskDescriptionMaxBytes)
	op := kernel.NewScheduleAgentTask(agent, kernel.TaskSpec{Description: string(exact)})
	msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}

	_, _, kerr := kernel.Reduce(state, msg, clock, 2)
	require.Nil(t, kerr)
}

func TestReduceTerminateIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)

	termOp := kernel.NewAgentTerminated(agent, kernel.ReasonCompleted, nil)
	msg := kernel.Message{Origin: agent, Claims: allClaims(now), Op: termOp, Timestamp: now}
	next, _, kerr := kernel.Reduce(state, msg, clock, 2)
	require.Nil(t, kerr)

	msg2 := kernel.Message{Origin: agent, Claims: allClaims(now), Op: termOp, Timestamp: now}
	next2, _, kerr2 := kernel.Reduce(next, msg2, clock, 3)
	require.Nil(t, kerr2)
	require.Equal(t, kernel.AgentTerminatedState, next2.Agents[agent].State)
}

func TestReduceRejectsTaskOnTerminatedAgent(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)

	termOp := kernel.NewAgentTerminated(agent, kernel.ReasonCompleted, nil)
	next, _, kerr := kernel.Reduce(state, kernel.Message{Origin: agent, Claims: allClaims(now), Op: termOp, Timestamp: now}, clock, 2)
	require.Nil(t, kerr)

	scheduleOp := kernel.NewScheduleAgentTask(agent, kernel.TaskSpec{Description: "too late"})
	_, _, kerr2 := kernel.Reduce(next, kernel.Message{Origin: agent, Claims: allClaims(now), Op: scheduleOp, Timestamp: now}, clock, 3)
	require.NotNil(t, kerr2)
	require.Equal(t, kernel.ErrIllegalTransition, kerr2.Kind)
}

func TestReduceResourceSaturatesInsteadOfOverflowing(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)

	op1 := kernel.NewReportResource(agent, kernel.ResourceMemoryBytes, ^uint64(0)-1, time.Second)
	next, _, kerr := kernel.Reduce(state, kernel.Message{Origin: agent, Claims: allClaims(now), Op: op1, Timestamp: now}, clock, 2)
	require.Nil(t, kerr)

	op2 := kernel.NewReportResource(agent, kernel.ResourceMemoryBytes, 10, time.Second)
	next2, event, kerr2 := kernel.Reduce(next, kernel.Message{Origin: agent, Claims: allClaims(now), Op: op2, Timestamp: now}, clock, 3)
	require.Nil(t, kerr2)
	require.True(t, event.OverflowWarning)
	require.Equal(t, ^uint64(0), next2.ResourceUsage[agent].MemoryBytes)
}

func TestReduceDoesNotMutateStateOnError(t *testing.T) {
	now := time.Now().UTC()
	clock := fixedClock{now}
	state := kernel.NewWorldState()
	agent := spawnRoot(t, state, clock, now)
	before := state.Clone()

	oversized := make([]byte, kernel.ObservationMaxBytes+1)
	op := kernel.NewEmitObservation(agent, oversized)
	same, _, kerr := kernel.Reduce(state, kernel.Message{Origin: agent, Claims: allClaims(now), Op: op, Timestamp: now}, clock, 2)
	require.NotNil(t, kerr)
	require.Equal(t, before.Agents[agent].State, same.Agents[agent].State)
	require.Same(t, state, same)
}
