// Package temporal adapts orchestration.Engine onto go.temporal.io/sdk, for
// durable, replay-safe orchestration across process restarts (SPEC_FULL.md
// §4.6), grounded on the teacher's runtime/agent/engine/temporal adapter:
// a Temporal client plus a single worker per task queue, one workflow type
// that delegates to a registered activity, and, on a client this package
// dials itself, the Temporal SDK's OpenTelemetry tracing interceptor.
package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/toka-systems/toka/orchestration"
	"github.com/toka-systems/toka/telemetry"
)

const (
	runAgentWorkflowName = "TokaRunAgent"
	runAgentActivityName = "TokaRunAgentActivity"
)

// ExecFunc carries out a single agent to its terminal state; it runs inside
// a Temporal activity, so ordinary Go I/O (tool calls, LLM requests) is
// permitted, unlike inside the workflow function itself.
type ExecFunc func(ctx context.Context, agentID string, spec orchestration.Spec) error

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions is
	// used to dial one.
	Client client.Client
	// ClientOptions configures a new client when Client is nil.
	ClientOptions client.Options
	// TaskQueue is the queue the worker polls and workflows are started on.
	TaskQueue string
	// Logger defaults to a no-op. Metrics and Tracer are accepted but not
	// used by this adapter.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine is an orchestration.Engine backed by a Temporal workflow.
type Engine struct {
	client    client.Client
	ownClient bool
	taskQueue string
	worker    worker.Worker
	logger    telemetry.Logger

	startOnce sync.Once
	startErr  error
}

// New constructs a Temporal-backed Engine and registers the single workflow
// and activity it needs. Call Start before RunAgent to begin polling; RunAgent
// calls Start lazily if it has not been called yet.
func New(opts Options, exec ExecFunc) (*Engine, error) {
	c := opts.Client
	ownClient := false
	if c == nil {
		clientOpts := opts.ClientOptions
		if clientOpts.Interceptors == nil {
			tracingInterceptor, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
			if err != nil {
				return nil, fmt.Errorf("temporal: build tracing interceptor: %w", err)
			}
			clientOpts.Interceptors = []interceptor.ClientInterceptor{tracingInterceptor}
		}
		dialed, err := client.Dial(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal: dial client: %w", err)
		}
		c, ownClient = dialed, true
	}

	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	w := worker.New(c, opts.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(runAgentWorkflow, workflow.RegisterOptions{Name: runAgentWorkflowName})
	w.RegisterActivityWithOptions(newActivity(exec), activity.RegisterOptions{Name: runAgentActivityName})

	return &Engine{client: c, ownClient: ownClient, taskQueue: opts.TaskQueue, worker: w, logger: logger}, nil
}

// Start begins polling the task queue. Safe to call multiple times.
func (e *Engine) Start() error {
	e.startOnce.Do(func() { e.startErr = e.worker.Start() })
	return e.startErr
}

// Close stops the worker and, if this Engine dialed its own client, closes it.
func (e *Engine) Close() {
	e.worker.Stop()
	if e.ownClient {
		e.client.Close()
	}
}

// RunAgent implements orchestration.Engine by starting a workflow execution
// and waiting for it to complete.
func (e *Engine) RunAgent(ctx context.Context, agentID string, spec orchestration.Spec) error {
	if err := e.Start(); err != nil {
		return fmt.Errorf("temporal: start worker: %w", err)
	}

	run, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "toka-agent-" + agentID,
		TaskQueue: e.taskQueue,
	}, runAgentWorkflowName, agentRequest{AgentID: agentID, Spec: spec})
	if err != nil {
		return fmt.Errorf("temporal: start workflow: %w", err)
	}
	return run.Get(ctx, nil)
}

type agentRequest struct {
	AgentID string
	Spec    orchestration.Spec
}

// runAgentWorkflow is the single generic workflow type: it always delegates
// to one activity, so the actual agent logic stays ordinary Go code running
// outside the deterministic workflow sandbox.
func runAgentWorkflow(ctx workflow.Context, req agentRequest) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	return workflow.ExecuteActivity(ctx, runAgentActivityName, req).Get(ctx, nil)
}

// newActivity closes exec into a Temporal activity function.
func newActivity(exec ExecFunc) func(ctx context.Context, req agentRequest) error {
	return func(ctx context.Context, req agentRequest) error {
		return exec(ctx, req.AgentID, req.Spec)
	}
}
