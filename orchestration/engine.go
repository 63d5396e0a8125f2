package orchestration

import "context"

// Engine abstracts the execution substrate an Agent Executor runs on,
// adapted from the teacher's runtime/agent/engine.Engine: an in-memory
// adapter (goroutine per agent, the default) or a Temporal adapter for
// durable, replay-safe orchestration across process restarts.
type Engine interface {
	// RunAgent drives a single spawned agent (identified by agentID) to a
	// terminal AgentTerminated event, using spec to build its executor. It
	// blocks until the agent reaches a terminal state or ctx is cancelled.
	RunAgent(ctx context.Context, agentID string, spec Spec) error
}

// EngineFunc adapts a plain function to the Engine interface, primarily for
// tests and the in-memory adapter.
type EngineFunc func(ctx context.Context, agentID string, spec Spec) error

// RunAgent implements Engine.
func (f EngineFunc) RunAgent(ctx context.Context, agentID string, spec Spec) error {
	return f(ctx, agentID, spec)
}
