package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/codes"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
	"github.com/toka-systems/toka/telemetry"
	"github.com/toka-systems/toka/tools"
	"github.com/toka-systems/toka/tools/toolerrors"
)

// Error kinds an objective's TaskFailed can carry, beyond the
// toolerrors.Kind values a tool invocation itself can produce (spec.md
// §4.7 and §9: "eager cascade... one re-ask then fail for InvalidPlan").
const (
	ErrorKindResourceUnavailable = "resource_unavailable"
	ErrorKindInvalidPlan         = "invalid_plan"
)

const defaultStepTimeout = 60 * time.Second

// Runtime is the narrow slice of runtime/core.Runtime the executor depends
// on, matching the pattern orchestration.Runtime already establishes.
type Runtime interface {
	Submit(ctx context.Context, token string, origin ids.EntityId, op kernel.Operation) (*kernel.KernelEvent, error)
}

// ToolInvoker is the narrow slice of tools.Registry the executor depends on.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args []byte) (tools.Result, error)
}

// StepResult records one completed step's outcome. runObjective collects an
// objective's results for its EmitObservation progress reports. They do not
// reach the LLM-assisted planner: an objective's plan is built before its
// first step runs, and results are not carried from one objective to the
// next, so buildPlan always receives an empty list.
type StepResult struct {
	Tool    string
	Payload []byte
	Err     error
}

// Options configures a single Executor run. All fields are optional; zero
// values fall back to spec.md §4.7 defaults and no-op telemetry.
type Options struct {
	// StepTimeout is the default per-step timeout when a step does not
	// override it. Defaults to 60s.
	StepTimeout time.Duration
	// RetryBase, RetryFactor, RetryJitter configure the exponential
	// backoff applied to retryable step failures. Default 500ms / 2 / 0.2.
	RetryBase   time.Duration
	RetryFactor float64
	RetryJitter float64

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.StepTimeout <= 0 {
		out.StepTimeout = defaultStepTimeout
	}
	if out.RetryBase <= 0 {
		out.RetryBase = 500 * time.Millisecond
	}
	if out.RetryFactor <= 0 {
		out.RetryFactor = 2
	}
	if out.RetryJitter <= 0 {
		out.RetryJitter = 0.2
	}
	if out.Logger == nil {
		out.Logger = telemetry.NewNoopLogger()
	}
	if out.Metrics == nil {
		out.Metrics = telemetry.NewNoopMetrics()
	}
	if out.Tracer == nil {
		out.Tracer = telemetry.NewNoopTracer()
	}
	return out
}

// Executor carries out a single agent's AgentSpec against a Runtime handle
// (spec.md §4.7): it never holds a back-reference to the Orchestration
// Engine that spawned it (§9), communicating solely by submitting
// operations to the Runtime.
type Executor struct {
	runtime Runtime
	toolReg ToolInvoker
	gateway Gateway
	token   string
	agent   ids.EntityId
	spec    *AgentSpec
	opts    Options

	taskSeq         uint64
	usageMemory     uint64
	usageCPU        float64
	lastObservation time.Time
}

// New constructs an Executor. token must carry every permission the spec's
// steps declare plus "scheduler.submit"/"scheduler.report"/"agents.observe"/
// "agents.terminate".
func New(runtime Runtime, toolReg ToolInvoker, gateway Gateway, token string, agent ids.EntityId, spec *AgentSpec, opts Options) *Executor {
	return &Executor{
		runtime: runtime,
		toolReg: toolReg,
		gateway: gateway,
		token:   token,
		agent:   agent,
		spec:    spec,
		opts:    opts.withDefaults(),
	}
}

// Report summarizes a completed Run.
type Report struct {
	Reason          kernel.TerminationReason
	ObjectiveErrors map[string]error
}

// Run executes every objective in order (spec.md §4.7 Loop). It honors
// ctx cancellation as the external cancellation signal from Orchestration
// (§5 "cancelling an executor cancels its current tool call"), and the
// spec's resource_limits.deadline as a hard wall-clock cutoff.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	ctx, span := e.opts.Tracer.Start(ctx, "executor.run")
	defer span.End()

	if e.spec.ResourceLimits.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.spec.ResourceLimits.Deadline)
		defer cancel()
	}

	taskIDs := make(map[string]ids.TaskId, len(e.spec.Objectives))
	for _, objective := range e.spec.Objectives {
		taskID := e.nextTaskID()
		taskIDs[objective.Name] = taskID
		if _, err := e.runtime.Submit(ctx, e.token, e.agent,
			kernel.NewScheduleAgentTask(e.agent, kernel.TaskSpec{Description: objective.Description})); err != nil {
			e.opts.Logger.Warn(ctx, "schedule task failed", "objective", objective.Name, "error", err.Error())
		}
	}

	objectiveErrs := make(map[string]error)
	reason := kernel.ReasonCompleted

	for _, objective := range e.spec.Objectives {
		select {
		case <-ctx.Done():
			reason = deadlineOrCancelReason(ctx)
			e.terminate(context.Background(), reason)
			span.SetStatus(codes.Error, string(reason))
			return &Report{Reason: reason, ObjectiveErrors: objectiveErrs}, nil
		default:
		}

		objErr := e.runObjective(ctx, taskIDs[objective.Name], objective)
		if objErr != nil {
			objectiveErrs[objective.Name] = objErr.cause
			reason = failureReason(ctx, objErr.kind)
			break // spec.md §4.7 scenario 6: "the next objective does not start"
		}
	}

	e.terminate(context.Background(), reason)
	e.opts.Metrics.IncCounter("executor.run.terminated", 1, "reason", string(reason))
	if len(objectiveErrs) > 0 {
		span.SetStatus(codes.Error, string(reason))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return &Report{Reason: reason, ObjectiveErrors: objectiveErrs}, nil
}

// objectiveError carries both the message submitted in TaskFailed and the
// error kind, so Run can pick the right AgentTerminated reason without
// re-parsing strings.
type objectiveError struct {
	kind  string
	cause error
}

func (e *objectiveError) Error() string { return e.cause.Error() }

func (e *Executor) runObjective(ctx context.Context, taskID ids.TaskId, objective Objective) *objectiveError {
	var priorResults []StepResult

	plan, err := buildPlan(ctx, e.gateway, e.spec, objective, priorResults)
	if err != nil {
		e.failTask(ctx, taskID, ErrorKindInvalidPlan, err.Error())
		return &objectiveError{kind: ErrorKindInvalidPlan, cause: err}
	}

	for _, step := range plan.Steps {
		if err := e.checkPermissions(step); err != nil {
			e.failTask(ctx, taskID, string(toolerrors.PermissionDenied), err.Error())
			return &objectiveError{kind: string(toolerrors.PermissionDenied), cause: err}
		}
		if err := e.checkResources(step); err != nil {
			e.failTask(ctx, taskID, ErrorKindResourceUnavailable, err.Error())
			return &objectiveError{kind: ErrorKindResourceUnavailable, cause: err}
		}

		result, err := e.invokeWithRetry(ctx, step)
		priorResults = append(priorResults, StepResult{Tool: step.Tool, Payload: result.Payload, Err: err})
		e.maybeEmitObservation(ctx, objective, priorResults)

		if err != nil {
			kind := string(toolerrors.Upstream)
			if terr, ok := err.(*toolerrors.ToolError); ok {
				kind = string(terr.Kind)
			}
			e.failTask(ctx, taskID, kind, err.Error())
			return &objectiveError{kind: kind, cause: err}
		}

		e.usageMemory += step.MemoryBytes
		e.usageCPU += step.CPURatio
	}

	e.completeTask(ctx, taskID, plan)
	return nil
}

func (e *Executor) checkPermissions(step Step) error {
	for _, perm := range step.Permissions {
		if !e.spec.HasCapability(perm) {
			return fmt.Errorf("executor: step %q requires permission %q not in agent capabilities", step.Tool, perm)
		}
	}
	return nil
}

// checkResources enforces cumulative memory/CPU accounting (spec.md §4.7
// step 3b). Neither resource recovers over time, so there is nothing to
// wait for: a step that would exceed the budget fails immediately.
func (e *Executor) checkResources(step Step) error {
	limits := e.spec.ResourceLimits
	if limits.MemoryBytes > 0 && e.usageMemory+step.MemoryBytes > limits.MemoryBytes {
		return fmt.Errorf("executor: step %q would exceed memory_bytes budget (%d+%d > %d)",
			step.Tool, e.usageMemory, step.MemoryBytes, limits.MemoryBytes)
	}
	if limits.CPURatio > 0 && e.usageCPU+step.CPURatio > limits.CPURatio {
		return fmt.Errorf("executor: step %q would exceed cpu_ratio budget (%.2f+%.2f > %.2f)",
			step.Tool, e.usageCPU, step.CPURatio, limits.CPURatio)
	}
	return nil
}

// invokeWithRetry invokes step's tool under a per-step timeout, retrying
// toolerrors.Upstream/Timeout failures with exponential backoff (base
// 500ms, factor 2, jitter ±20%, up to max_task_retries) per spec.md §4.7
// step 3d.
func (e *Executor) invokeWithRetry(ctx context.Context, step Step) (tools.Result, error) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.opts.StepTimeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryBase
	b.Multiplier = e.opts.RetryFactor
	b.RandomizationFactor = e.opts.RetryJitter
	maxRetries := e.spec.ResourceLimits.MaxTaskRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxTaskRetries
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)

	var result tools.Result
	var lastErr error
	_ = backoff.Retry(func() error {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		result, lastErr = e.toolReg.Invoke(stepCtx, step.Tool, step.Args)
		if lastErr == nil {
			return nil
		}
		e.opts.Metrics.IncCounter("executor.step.retry", 1, "tool", step.Tool)
		if !isRetryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy)

	return result, lastErr
}

func isRetryable(err error) bool {
	terr, ok := err.(*toolerrors.ToolError)
	if !ok {
		return true // unclassified errors default to retryable (network/transient)
	}
	switch terr.Kind {
	case toolerrors.Upstream, toolerrors.Timeout:
		return true
	default:
		return false
	}
}

// maybeEmitObservation submits EmitObservation at most once per
// reporting.progress_interval (spec.md §4.7 step 4).
func (e *Executor) maybeEmitObservation(ctx context.Context, objective Objective, results []StepResult) {
	now := time.Now()
	if !e.lastObservation.IsZero() && now.Sub(e.lastObservation) < e.spec.Reporting.ProgressInterval {
		return
	}
	e.lastObservation = now

	payload, err := json.Marshal(struct {
		Objective string `json:"objective"`
		Completed int    `json:"completed_steps"`
		LastTool  string `json:"last_tool"`
		LastOK    bool   `json:"last_ok"`
	}{
		Objective: objective.Name,
		Completed: len(results),
		LastTool:  lastTool(results),
		LastOK:    lastOK(results),
	})
	if err != nil {
		return
	}
	if _, err := e.runtime.Submit(ctx, e.token, e.agent, kernel.NewEmitObservation(e.agent, payload)); err != nil {
		e.opts.Logger.Warn(ctx, "emit observation failed", "error", err.Error())
	}
}

func (e *Executor) completeTask(ctx context.Context, taskID ids.TaskId, plan Plan) {
	result, _ := json.Marshal(plan)
	if _, err := e.runtime.Submit(ctx, e.token, e.agent, kernel.NewTaskCompleted(e.agent, taskID, result)); err != nil {
		e.opts.Logger.Warn(ctx, "submit task completed failed", "error", err.Error())
	}
}

func (e *Executor) failTask(ctx context.Context, taskID ids.TaskId, kind, message string) {
	if _, err := e.runtime.Submit(ctx, e.token, e.agent, kernel.NewTaskFailed(e.agent, taskID, kind, message)); err != nil {
		e.opts.Logger.Warn(ctx, "submit task failed failed", "error", err.Error())
	}
}

func (e *Executor) terminate(ctx context.Context, reason kernel.TerminationReason) {
	if _, err := e.runtime.Submit(ctx, e.token, e.agent, kernel.NewAgentTerminated(e.agent, reason, nil)); err != nil {
		e.opts.Logger.Warn(ctx, "submit agent terminated failed", "error", err.Error())
	}
}

func (e *Executor) nextTaskID() ids.TaskId {
	id := ids.NewTaskId(e.agent, e.taskSeq)
	e.taskSeq++
	return id
}

func deadlineOrCancelReason(ctx context.Context) kernel.TerminationReason {
	if ctx.Err() == context.DeadlineExceeded {
		return kernel.ReasonTimeout
	}
	return kernel.ReasonCancelled
}

// failureReason maps an objective failure to the AgentTerminated reason
// submitted once all objectives finish (spec.md §4.7 step 6): a live
// deadline/cancellation on ctx takes precedence over the failure kind,
// since the objective may have failed only because its step's own context
// was already cut short.
func failureReason(ctx context.Context, kind string) kernel.TerminationReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return kernel.ReasonTimeout
	case context.Canceled:
		return kernel.ReasonCancelled
	}
	switch kind {
	case ErrorKindResourceUnavailable:
		return kernel.ReasonResourceLimit
	case string(toolerrors.Timeout):
		return kernel.ReasonTimeout
	case string(toolerrors.Cancelled):
		return kernel.ReasonCancelled
	default:
		return kernel.ReasonCrashed
	}
}

func lastTool(results []StepResult) string {
	if len(results) == 0 {
		return ""
	}
	return results[len(results)-1].Tool
}

func lastOK(results []StepResult) bool {
	if len(results) == 0 {
		return true
	}
	return results[len(results)-1].Err == nil
}
