package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/relaymesh/chatmesh/model"
	"golang.org/x/sync/semaphore"
)

// defaultMaxConcurrency bounds concurrent tool execution across the whole
// process (shared worker pool, default 32 workers).
const defaultMaxConcurrency = 32

// Registry holds the set of tools available to agents and dispatches calls
// through a shared, bounded worker pool so concurrent external I/O across
// every in-flight request stays capped, independent of how many agents or
// requests are calling tools concurrently.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	sem   *semaphore.Weighted
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxConcurrency overrides the shared pool size (default 32).
func WithMaxConcurrency(n int) Option {
	return func(r *Registry) { r.sem = semaphore.NewWeighted(int64(n)) }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools: make(map[string]Tool),
		sem:   semaphore.NewWeighted(defaultMaxConcurrency),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes a tool callable by name. Registering a tool with a name
// already present replaces the previous registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the JSON-schema tool listing suitable for handing to
// an LLM request. The order of the returned definitions is not defined.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// Call acquires a slot in the shared pool then invokes the named tool with
// its arguments decoded from JSON. Tool panics are recovered and reported
// as a structured ToolError rather than crashing the caller. Never returns
// a bare panic: failures are always {error: kind, message}, per spec.
func (r *Registry) Call(ctx context.Context, name, argsJSON string) (result interface{}, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, &ToolError{Tool: name, Message: fmt.Sprintf("tool %q not registered", name), Code: "NOT_FOUND"}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	var args map[string]interface{}
	if argsJSON == "" {
		args = map[string]interface{}{}
	} else if uerr := json.Unmarshal([]byte(argsJSON), &args); uerr != nil {
		return nil, &ToolError{Tool: name, Message: fmt.Sprintf("invalid arguments json: %v", uerr), Code: "VALIDATION_ERROR"}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ToolError{
				Tool:    name,
				Message: "tool panicked during execution",
				Code:    "EXECUTION_ERROR",
				Details: fmt.Sprintf("%v\n%s", rec, debug.Stack()),
			}
		}
	}()

	return t.Call(ctx, args)
}
