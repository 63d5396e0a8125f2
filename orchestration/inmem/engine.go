// Package inmem is the default Engine adapter: every agent runs as a
// goroutine, bounded by a semaphore sized to the orchestrator's concurrency
// limit (spec.md §4.6 "a bounded number (default 8) run concurrently").
package inmem

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/toka-systems/toka/orchestration"
)

// ExecFunc carries out a single agent to its terminal state. Orchestration
// supplies one backed by the executor package; tests supply stubs directly.
type ExecFunc func(ctx context.Context, agentID string, spec orchestration.Spec) error

// Engine is an orchestration.Engine that runs agents as goroutines.
type Engine struct {
	exec ExecFunc
	sem  chan struct{}
}

// New constructs an Engine that runs at most concurrency agents at once.
func New(concurrency int, exec ExecFunc) *Engine {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Engine{exec: exec, sem: make(chan struct{}, concurrency)}
}

// RunAgent implements orchestration.Engine.
func (e *Engine) RunAgent(ctx context.Context, agentID string, spec orchestration.Spec) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()
	return e.exec(ctx, agentID, spec)
}

// RunAll runs every (agentID, spec) pair concurrently, bounded by the
// Engine's concurrency limit, and returns the first error encountered (if
// any) after every goroutine has finished.
func (e *Engine) RunAll(ctx context.Context, jobs map[string]orchestration.Spec) error {
	g, ctx := errgroup.WithContext(ctx)
	for id, spec := range jobs {
		id, spec := id, spec
		g.Go(func() error { return e.RunAgent(ctx, id, spec) })
	}
	return g.Wait()
}
