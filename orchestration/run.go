package orchestration

import (
	"context"
	"fmt"
	"sync"

	"github.com/toka-systems/toka/ids"
	"github.com/toka-systems/toka/kernel"
)

// Status is an agent's orchestration-level lifecycle state, distinct from
// kernel.AgentState: it additionally tracks scheduling outcomes (Blocked,
// Cancelled) that never reach the kernel at all.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
)

// Runtime is the narrow slice of runtime/core.Runtime orchestration depends
// on, so tests can supply a stub instead of a full Runtime.
type Runtime interface {
	Submit(ctx context.Context, token string, origin ids.EntityId, op kernel.Operation) (*kernel.KernelEvent, error)
}

// Report is the outcome of a single orchestration run (spec.md §4.6
// contract: run(specs) -> OrchestrationReport).
type Report struct {
	Statuses map[string]Status
	Errors   map[string]error
	Agents   map[string]ids.EntityId
}

// Runner resolves a set of Specs into a dependency DAG and drives them to
// completion via Runtime and Engine.
type Runner struct {
	runtime     Runtime
	engine      Engine
	token       string
	parent      ids.EntityId
	concurrency int
}

// Option configures a Runner.
type Option func(*Runner)

// WithParent overrides the spawning origin (defaults to ids.Root).
func WithParent(parent ids.EntityId) Option {
	return func(r *Runner) { r.parent = parent }
}

// WithConcurrency bounds how many agents the Runner schedules at once
// (spec.md §4.6 default 8).
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewRunner constructs a Runner. token must carry the "agents.spawn"
// permission; it is used for every SpawnSubAgent submission this run issues.
func NewRunner(runtime Runtime, engine Engine, token string, opts ...Option) *Runner {
	r := &Runner{runtime: runtime, engine: engine, token: token, parent: ids.Root, concurrency: 8}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run resolves specs into a DAG and drives every agent to a terminal
// orchestration Status, per spec.md §4.6's scheduling, observation, and
// partial-failure rules.
func (r *Runner) Run(ctx context.Context, specs []Spec) (*Report, error) {
	g, err := buildGraph(specs)
	if err != nil {
		return nil, err
	}
	if _, err := topoOrder(g); err != nil {
		return nil, err // *CycleError: P6, no SpawnSubAgent submitted
	}

	run := &run{
		g:         g,
		runtime:   r.runtime,
		engine:    r.engine,
		token:     r.token,
		parent:    r.parent,
		sem:       make(chan struct{}, r.concurrency),
		status:    make(map[string]Status, len(specs)),
		errs:      make(map[string]error),
		agents:    make(map[string]ids.EntityId),
		indegree:  make(map[string]int, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}
	for name := range g.specs {
		run.status[name] = StatusPending
		run.indegree[name] = 0
	}
	for name, deps := range g.depends {
		run.indegree[name] = len(deps)
		for _, dep := range deps {
			run.dependents[dep] = append(run.dependents[dep], name)
		}
	}

	run.scheduleEligible(ctx)
	run.wg.Wait()

	return &Report{Statuses: run.status, Errors: run.errs, Agents: run.agents}, nil
}

// run tracks the mutable state of a single Runner.Run invocation.
type run struct {
	g       *graph
	runtime Runtime
	engine  Engine
	token   string
	parent  ids.EntityId
	sem     chan struct{}

	mu         sync.Mutex
	status     map[string]Status
	errs       map[string]error
	agents     map[string]ids.EntityId
	indegree   map[string]int
	dependents map[string][]string
	wg         sync.WaitGroup
}

// scheduleEligible launches a goroutine for every pending agent whose
// dependencies are all satisfied. Must be called with no lock held; it
// takes the lock internally.
func (run *run) scheduleEligible(ctx context.Context) {
	run.mu.Lock()
	var eligible []string
	for name, status := range run.status {
		if status == StatusPending && run.indegree[name] == 0 {
			eligible = append(eligible, name)
		}
	}
	sortByPriorityThenName(run.g, eligible)
	for _, name := range eligible {
		run.status[name] = StatusRunning
	}
	run.mu.Unlock()

	for _, name := range eligible {
		name := name
		run.wg.Add(1)
		go func() {
			defer run.wg.Done()
			run.runOne(ctx, name)
		}()
	}
}

func (run *run) runOne(ctx context.Context, name string) {
	select {
	case run.sem <- struct{}{}:
	case <-ctx.Done():
		run.finish(ctx, name, StatusCancelled, ctx.Err())
		return
	}
	defer func() { <-run.sem }()

	spec := run.g.specs[name]
	event, err := run.runtime.Submit(ctx, run.token, run.parent, kernel.NewSpawnSubAgent(run.parent, kernel.AgentSpecDigest{Digest: spec.SpecDigest}))
	if err != nil {
		run.finish(ctx, name, StatusFailed, fmt.Errorf("spawn %s: %w", name, err))
		return
	}
	agentID := ids.NewChildEntityId(run.parent, spec.SpecDigest)
	run.mu.Lock()
	run.agents[name] = agentID
	run.mu.Unlock()
	_ = event // AgentSpawned == the committed SpawnSubAgent KernelEvent itself

	err = run.engine.RunAgent(ctx, agentID.String(), spec)
	if err != nil {
		run.finish(ctx, name, StatusFailed, err)
		return
	}
	run.finish(ctx, name, StatusCompleted, nil)
}

// finish records name's terminal status, cascades critical-agent failure to
// its dependents (spec.md §4.6: "If a critical agent fails, dependent
// agents are preemptively cancelled... Non-critical failures do not
// cascade; dependents... are marked Blocked and not scheduled"), and
// unblocks any dependents now eligible.
func (run *run) finish(ctx context.Context, name string, status Status, err error) {
	run.mu.Lock()
	run.status[name] = status
	if err != nil {
		run.errs[name] = err
	}
	dependents := append([]string(nil), run.dependents[name]...)
	critical := run.g.specs[name].Priority == PriorityCritical
	run.mu.Unlock()

	if status == StatusFailed || status == StatusCancelled {
		for _, dep := range dependents {
			if critical {
				run.cascadeCancel(ctx, dep)
			} else {
				run.cascadeBlock(dep)
			}
		}
		return
	}

	run.mu.Lock()
	for _, dep := range dependents {
		run.indegree[dep]--
	}
	run.mu.Unlock()
	run.scheduleEligible(ctx)
}

func (run *run) cascadeBlock(name string) {
	run.mu.Lock()
	if run.status[name] != StatusPending {
		run.mu.Unlock()
		return
	}
	run.status[name] = StatusBlocked
	dependents := append([]string(nil), run.dependents[name]...)
	run.mu.Unlock()

	for _, dep := range dependents {
		run.cascadeBlock(dep)
	}
}

func (run *run) cascadeCancel(ctx context.Context, name string) {
	run.mu.Lock()
	switch run.status[name] {
	case StatusPending:
		run.status[name] = StatusCancelled
	case StatusRunning:
		agentID, spawned := run.agents[name]
		run.mu.Unlock()
		if spawned {
			_, _ = run.runtime.Submit(ctx, run.token, agentID,
				kernel.NewAgentTerminated(agentID, kernel.ReasonCancelled, nil))
		}
		run.mu.Lock()
		run.status[name] = StatusCancelled
	default:
		run.mu.Unlock()
		return
	}
	dependents := append([]string(nil), run.dependents[name]...)
	run.mu.Unlock()

	for _, dep := range dependents {
		run.cascadeCancel(ctx, dep)
	}
}
