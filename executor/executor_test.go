package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/toka-systems/toka/executor"
	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
	"github.com/toka-systems/toka/tools"
	"github.com/toka-systems/toka/tools/toolerrors"
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

func (s *stubRuntime) ops(kind kernel.OperationKind) []kernel.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []kernel.Operation
	for _, op := range s.subs {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func newExecutor(t *testing.T, specJSON string, reg *tools.Registry) (*executor.Executor, *stubRuntime) {
	t.Helper()
	spec, err := executor.ParseAgentSpec([]byte(specJSON))
	require.NoError(t, err)
	rt := &stubRuntime{}
	agent := ids.NewEntityId()
	return executor.New(rt, reg, nil, "token", agent, spec, executor.Options{RetryBase: time.Millisecond}), rt
}

const oneStepSpec = `{
  "name": "researcher",
  "version": "1.0.0",
  "capabilities": ["web.search"],
  "tools": ["search"],
  "objectives": [
    {
      "name": "gather-sources",
      "steps": [{"tool": "search", "permissions": ["web.search"], "args": {}}]
    }
  ]
}`

func TestExecutorRunCompletesSuccessfulObjective(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register("search", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{Payload: []byte(`{"ok":true}`)}, nil
	}))
	exec, rt := newExecutor(t, oneStepSpec, reg)

	report, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, kernel.ReasonCompleted, report.Reason)
	require.Empty(t, report.ObjectiveErrors)
	require.Len(t, rt.ops(kernel.OpTaskCompleted), 1)
	require.Len(t, rt.ops(kernel.OpAgentTerminated), 1)
}

func TestExecutorRunFailsOnMissingPermission(t *testing.T) {
	const spec = `{
	  "name": "researcher",
	  "version": "1.0.0",
	  "tools": ["search"],
	  "objectives": [
	    {"name": "gather-sources", "steps": [{"tool": "search", "permissions": ["web.search"]}]}
	  ]
	}`
	reg := tools.NewRegistry()
	reg.Register("search", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{}, nil
	}))
	exec, rt := newExecutor(t, spec, reg)

	report, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, kernel.ReasonCrashed, report.Reason)
	require.Len(t, report.ObjectiveErrors, 1)
	failed := rt.ops(kernel.OpTaskFailed)
	require.Len(t, failed, 1)
	require.Equal(t, string(toolerrors.PermissionDenied), failed[0].TaskFailed.ErrorKind)
}

func TestExecutorRunRetriesUpstreamThenSucceeds(t *testing.T) {
	reg := tools.NewRegistry()
	attempts := 0
	reg.Register("search", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		attempts++
		if attempts <= 3 {
			return tools.Result{}, toolerrors.New(toolerrors.Upstream, "rate limited")
		}
		return tools.Result{Payload: []byte("ok")}, nil
	}))
	rt := &stubRuntime{}
	exec := executor.New(rt, reg, nil, "token", ids.NewEntityId(), mustSpec(t, oneStepSpec), executor.Options{RetryBase: time.Millisecond})

	report, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, kernel.ReasonCompleted, report.Reason)
	require.Equal(t, 4, attempts)
}

func TestExecutorRunGivesUpAfterMaxRetries(t *testing.T) {
	reg := tools.NewRegistry()
	attempts := 0
	reg.Register("search", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		attempts++
		return tools.Result{}, toolerrors.New(toolerrors.Upstream, "rate limited")
	}))
	exec, rt := newExecutor(t, oneStepSpec, reg)

	report, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, kernel.ReasonCompleted, report.Reason)
	failed := rt.ops(kernel.OpTaskFailed)
	require.Len(t, failed, 1)
	require.Equal(t, string(toolerrors.Upstream), failed[0].TaskFailed.ErrorKind)
}

func TestExecutorRunDoesNotStartNextObjectiveAfterFailure(t *testing.T) {
	const spec = `{
	  "name": "researcher",
	  "version": "1.0.0",
	  "capabilities": ["web.search"],
	  "tools": ["search"],
	  "objectives": [
	    {"name": "first", "steps": [{"tool": "search", "permissions": ["web.search"]}]},
	    {"name": "second", "steps": [{"tool": "search", "permissions": ["web.search"]}]}
	  ]
	}`
	reg := tools.NewRegistry()
	reg.Register("search", tools.ToolFunc(func(ctx context.Context, args []byte) (tools.Result, error) {
		return tools.Result{}, errors.New("boom")
	}))
	exec, rt := newExecutor(t, spec, reg)

	report, err := exec.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.ObjectiveErrors, 1)
	require.Len(t, rt.ops(kernel.OpTaskFailed), 1)
	require.Len(t, rt.ops(kernel.OpTaskCompleted), 0)
}

func mustSpec(t *testing.T, doc string) *executor.AgentSpec {
	t.Helper()
	spec, err := executor.ParseAgentSpec([]byte(doc))
	require.NoError(t, err)
	return spec
}
