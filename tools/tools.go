// Package tools exposes the name-addressed tool interface the executor
// consumes (SPEC_FULL.md §4.7/§6): invoke(tool_name, args, cancel_channel)
// -> tool_result | ToolError. Tools are identified by string name; the
// package does not prescribe an argument schema beyond a byte-size bound.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/toka-systems/toka/tools/toolerrors"
)

// MaxArgsBytes bounds the serialized size of a tool invocation's arguments,
// per SPEC_FULL.md §6's "byte-size arg bound (default 1 MiB)".
const MaxArgsBytes = 1 << 20

// Result is the outcome of a successful tool invocation.
type Result struct {
	// Payload is the tool's raw JSON result.
	Payload []byte
}

// Tool is a single invocable capability, addressed by name through a
// Registry. Invoke must be safe for concurrent use: the executor treats
// every tool as an external service shared across agents.
type Tool interface {
	// Invoke runs the tool with the given arguments. Implementations must
	// honor ctx cancellation/deadline and return a *toolerrors.ToolError of
	// Kind Cancelled or Timeout when they do, rather than blocking past it.
	Invoke(ctx context.Context, args []byte) (Result, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, args []byte) (Result, error)

// Invoke implements Tool.
func (f ToolFunc) Invoke(ctx context.Context, args []byte) (Result, error) { return f(ctx, args) }

// Registry is a name -> Tool lookup, matching the teacher's name-addressed
// tool dispatch in runtime/agent/tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces the tool under name.
func (r *Registry) Register(name string, t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Invoke dispatches to the named tool, enforcing the argument-size bound and
// translating lookup/cancellation outcomes into *toolerrors.ToolError. This
// is the entry point executors call; ctx carries the per-step timeout
// composed by the caller (SPEC_FULL.md §4.7's three-layer timeout policy).
func (r *Registry) Invoke(ctx context.Context, name string, args []byte) (Result, error) {
	if len(args) > MaxArgsBytes {
		return Result{}, toolerrors.New(toolerrors.InvalidArgs,
			fmt.Sprintf("arguments exceed %d bytes", MaxArgsBytes))
	}
	t, ok := r.Lookup(name)
	if !ok {
		return Result{}, toolerrors.New(toolerrors.NotFound, fmt.Sprintf("tool %q is not registered", name))
	}

	res, err := t.Invoke(ctx, args)
	if err == nil {
		return res, nil
	}
	if te := (*toolerrors.ToolError)(nil); asToolError(err, &te) {
		return Result{}, te
	}
	if ctx.Err() != nil {
		return Result{}, classifyContextError(ctx, err)
	}
	return Result{}, toolerrors.NewWithCause(toolerrors.Upstream, err.Error(), err)
}

func classifyContextError(ctx context.Context, err error) *toolerrors.ToolError {
	if ctx.Err() == context.DeadlineExceeded {
		return toolerrors.NewWithCause(toolerrors.Timeout, "tool invocation deadline exceeded", err)
	}
	return toolerrors.NewWithCause(toolerrors.Cancelled, "tool invocation cancelled", err)
}

func asToolError(err error, target **toolerrors.ToolError) bool {
	te, ok := err.(*toolerrors.ToolError)
	if !ok {
		return false
	}
	*target = te
	return true
}
