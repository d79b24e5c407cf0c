// Package workflow implements the superstep-scheduled executor graph the
// spec's chat orchestrator runs to answer one turn: a directed graph of
// Executors connected by Edges, driven a superstep at a time until a
// terminal WorkflowOutput is yielded, max_iterations is hit, or an executor
// fails. This scheduler has no single-package analog elsewhere in the
// module (a single-agent request/response pipeline is not a DAG), so it is
// built with small interfaces, functional options, context-first methods,
// and channel-based streaming.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaymesh/chatmesh/chatmerr"
	"golang.org/x/sync/semaphore"
)

// defaultMaxIterations bounds superstep count before a run is aborted with
// IterationLimitExceeded.
const defaultMaxIterations = 10

// ErrNoOutput is returned by Executor.Process to mean "I consumed this
// envelope but have nothing to emit yet" (the aggregator pattern: buffer
// internally, produce a real Envelope only once the fan-in count is
// reached). It is not treated as a failure; the executor simply contributes
// no outgoing envelopes for this invocation.
var ErrNoOutput = errors.New("workflow: executor produced no output this step")

// Graph is an immutable-after-Build set of executors and edges. Multiple
// concurrent RunStream calls against the same built Graph are safe provided
// every registered Executor's Process method is itself safe for concurrent
// and reentrant use (a single superstep may invoke the same executor
// multiple times, once per queued envelope — this is how fan-in aggregation
// is expressed).
type Graph struct {
	executors     map[string]Executor
	edgesBySource map[string][]Edge
	entry         string
	maxIterations int
	streamingIDs  map[string]bool
	built         bool
}

// Option configures a Graph at construction time.
type Option func(*Graph)

// WithMaxIterations overrides the default superstep bound (10).
func WithMaxIterations(n int) Option {
	return func(g *Graph) { g.maxIterations = n }
}

// WithEntry names the executor that receives the workflow's external input
// at superstep 0.
func WithEntry(id string) Option {
	return func(g *Graph) { g.entry = id }
}

// NewGraph constructs an empty Graph.
func NewGraph(opts ...Option) *Graph {
	g := &Graph{
		executors:     make(map[string]Executor),
		edgesBySource: make(map[string][]Edge),
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddExecutor registers e under its own ID, replacing any prior executor
// with the same ID.
func (g *Graph) AddExecutor(e Executor) {
	g.executors[e.ID()] = e
}

// AddEdge registers edge, appending to any existing edges from the same
// source (an executor may have more than one outgoing edge group).
func (g *Graph) AddEdge(edge Edge) {
	g.edgesBySource[edge.Source] = append(g.edgesBySource[edge.Source], edge)
}

// Build validates the graph and caches the streaming-executor set. It must
// be called once after all executors and edges are registered and before
// the first RunStream. The construction-time safety check required by the
// spec lives here: any executor with OutputResponse()==true must also
// implement FinalYielder, or Build fails rather than deferring the bug to a
// runtime UI stall.
func (g *Graph) Build() error {
	if g.entry == "" {
		return fmt.Errorf("workflow: graph has no entry executor (use WithEntry)")
	}
	if _, ok := g.executors[g.entry]; !ok {
		return fmt.Errorf("workflow: entry executor %q is not registered", g.entry)
	}

	streaming := make(map[string]bool)
	for id, e := range g.executors {
		se, ok := e.(StreamingExecutor)
		if !ok || !se.OutputResponse() {
			continue
		}
		streaming[id] = true
		if _, ok := e.(FinalYielder); !ok {
			return fmt.Errorf("workflow: executor %q has OutputResponse()==true but does not implement FinalYielder", id)
		}
	}

	g.streamingIDs = streaming
	g.built = true
	return nil
}

// IsStreaming reports whether id was discovered as a StreamingExecutor with
// OutputResponse()==true during Build.
func (g *Graph) IsStreaming(id string) bool {
	return g.streamingIDs[id]
}

type stepResult struct {
	id   string
	envs []Envelope
	err  error
}

// RunStream drives the graph to completion, one superstep at a time, and
// returns a channel of Events describing progress. The channel is closed
// after the terminal WorkflowOutput or WorkflowFailed event.
func (g *Graph) RunStream(ctx context.Context, input interface{}) (<-chan Event, error) {
	if !g.built {
		return nil, fmt.Errorf("workflow: graph must be Build() before RunStream")
	}

	out := make(chan Event, 64)

	go func() {
		defer close(out)

		ready := []Envelope{{TargetID: g.entry, Payload: input, Iteration: 0}}
		var lastOutput *WorkflowOutput

		for iteration := 0; len(ready) > 0; iteration++ {
			if iteration >= g.maxIterations {
				err := chatmerr.New(chatmerr.KindIterationLimitExceeded, "workflow",
					fmt.Sprintf("exceeded max_iterations=%d", g.maxIterations))
				out <- Event{Kind: EventWorkflowFailed, Err: err}
				return
			}
			out <- Event{Kind: EventWorkflowStatus, Iteration: iteration}

			next, failed := g.runSuperstep(ctx, iteration, ready, out, &lastOutput)
			if failed != nil {
				out <- Event{Kind: EventWorkflowFailed, Err: failed}
				return
			}
			ready = next
		}

		if lastOutput != nil {
			out <- Event{Kind: EventWorkflowOutput, Result: *lastOutput}
			return
		}
		out <- Event{Kind: EventWorkflowFailed,
			Err: chatmerr.New(chatmerr.KindUnknown, "workflow", "run terminated with no final output")}
	}()

	return out, nil
}

// runSuperstep launches every queued envelope's executor concurrently,
// bounded by a semaphore sized to the batch, collects results, records any
// final yield, and computes the next superstep's envelopes by evaluating
// each completed executor's outgoing edges.
func (g *Graph) runSuperstep(
	ctx context.Context,
	iteration int,
	ready []Envelope,
	out chan<- Event,
	lastOutput **WorkflowOutput,
) ([]Envelope, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(len(ready)))
	results := make(chan stepResult, len(ready))

	for _, env := range ready {
		env := env
		ex, ok := g.executors[env.TargetID]
		if !ok {
			results <- stepResult{id: env.TargetID, err: fmt.Errorf("workflow: no executor registered for %q", env.TargetID)}
			continue
		}
		if err := sem.Acquire(runCtx, 1); err != nil {
			results <- stepResult{id: env.TargetID, err: err}
			continue
		}
		out <- Event{Kind: EventExecutorInvoked, ExecutorID: env.TargetID, Iteration: iteration}
		go func() {
			defer sem.Release(1)
			envs, err := ex.Process(runCtx, env)
			results <- stepResult{id: env.TargetID, envs: envs, err: err}
		}()
	}

	var next []Envelope
	var firstFailure error

	for i := 0; i < len(ready); i++ {
		r := <-results
		if errors.Is(r.err, ErrNoOutput) {
			out <- Event{Kind: EventExecutorCompleted, ExecutorID: r.id, Iteration: iteration}
			continue
		}
		if r.err != nil {
			out <- Event{Kind: EventExecutorFailed, ExecutorID: r.id, Iteration: iteration, Err: r.err}
			if firstFailure == nil {
				firstFailure = r.err
				cancel()
			}
			continue
		}

		var completedEnv Envelope
		if len(r.envs) > 0 {
			completedEnv = r.envs[0]
		}
		out <- Event{Kind: EventExecutorCompleted, ExecutorID: r.id, Iteration: iteration, Output: completedEnv}

		if fy, ok := g.executors[r.id].(FinalYielder); ok && len(r.envs) > 0 {
			if wo, isFinal := fy.Yield(r.envs[0]); isFinal {
				final := wo
				*lastOutput = &final
			}
		}

		if firstFailure != nil {
			continue
		}
		for _, env := range r.envs {
			if env.TargetID != "" {
				next = append(next, Envelope{TargetID: env.TargetID, Payload: env.Payload, Iteration: iteration + 1})
				continue
			}
			for _, edge := range g.edgesBySource[r.id] {
				for _, targetID := range edge.Selector(env.Payload, edge.Targets) {
					next = append(next, Envelope{TargetID: targetID, Payload: env.Payload, Iteration: iteration + 1})
				}
			}
		}
	}

	if firstFailure != nil {
		return nil, firstFailure
	}
	return next, nil
}
