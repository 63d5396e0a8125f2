package orchestration_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
	"github.com/toka-systems/toka/orchestration"
)

type stubRuntime struct {
	mu   sync.Mutex
	subs []kernel.Operation
}

func (s *stubRuntime) Submit(_ context.Context, _ string, _ ids.EntityId, op kernel.Operation) (*kernel.KernelEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, op)
	return &kernel.KernelEvent{Kind: op.Kind}, nil
}

func digestFor(t *testing.T, name string) ids.CausalDigest {
	t.Helper()
	d, err := ids.Digest([]byte(name), nil)
	require.NoError(t, err)
	return d
}

func TestRunCompletesIndependentAgents(t *testing.T) {
	rt := &stubRuntime{}
	engine := orchestration.EngineFunc(func(ctx context.Context, agentID string, spec orchestration.Spec) error {
		return nil
	})
	runner := orchestration.NewRunner(rt, engine, "token")

	specs := []orchestration.Spec{
		{Name: "a", Priority: orchestration.PriorityLow, SpecDigest: digestFor(t, "a")},
		{Name: "b", Requires: []string{"a"}, Priority: orchestration.PriorityLow, SpecDigest: digestFor(t, "b")},
	}
	report, err := runner.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, orchestration.StatusCompleted, report.Statuses["a"])
	require.Equal(t, orchestration.StatusCompleted, report.Statuses["b"])
}

func TestRunBlocksDependentsOnNonCriticalFailure(t *testing.T) {
	rt := &stubRuntime{}
	engine := orchestration.EngineFunc(func(ctx context.Context, agentID string, spec orchestration.Spec) error {
		if spec.Name == "a" {
			return errors.New("boom")
		}
		return nil
	})
	runner := orchestration.NewRunner(rt, engine, "token")

	specs := []orchestration.Spec{
		{Name: "a", Priority: orchestration.PriorityLow, SpecDigest: digestFor(t, "a")},
		{Name: "b", Requires: []string{"a"}, Priority: orchestration.PriorityLow, SpecDigest: digestFor(t, "b")},
	}
	report, err := runner.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, orchestration.StatusFailed, report.Statuses["a"])
	require.Equal(t, orchestration.StatusBlocked, report.Statuses["b"])
}

func TestRunCascadesCancelOnCriticalFailure(t *testing.T) {
	rt := &stubRuntime{}
	engine := orchestration.EngineFunc(func(ctx context.Context, agentID string, spec orchestration.Spec) error {
		if spec.Name == "a" {
			return errors.New("boom")
		}
		return nil
	})
	runner := orchestration.NewRunner(rt, engine, "token")

	specs := []orchestration.Spec{
		{Name: "a", Priority: orchestration.PriorityCritical, SpecDigest: digestFor(t, "a")},
		{Name: "b", Requires: []string{"a"}, Priority: orchestration.PriorityLow, SpecDigest: digestFor(t, "b")},
	}
	report, err := runner.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Equal(t, orchestration.StatusFailed, report.Statuses["a"])
	require.Equal(t, orchestration.StatusCancelled, report.Statuses["b"])
}

func TestRunReturnsCycleDetectedWithoutSubmitting(t *testing.T) {
	rt := &stubRuntime{}
	engine := orchestration.EngineFunc(func(ctx context.Context, agentID string, spec orchestration.Spec) error {
		return nil
	})
	runner := orchestration.NewRunner(rt, engine, "token")

	specs := []orchestration.Spec{
		{Name: "a", Requires: []string{"b"}},
		{Name: "b", Requires: []string{"a"}},
	}
	_, err := runner.Run(context.Background(), specs)
	require.Error(t, err)
	var cycleErr *orchestration.CycleError
	require.ErrorAs(t, err, &cycleErr)
	require.Empty(t, rt.subs)
}
