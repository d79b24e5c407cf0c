package workflow

import "context"

// Envelope is a single message flowing between executors within a workflow
// run. TargetID names the executor that should receive it; Iteration
// records the superstep it is delivered in. The scheduler enforces
// max_iterations by counting supersteps itself and does not read Iteration.
type Envelope struct {
	TargetID  string
	Payload   interface{}
	Iteration int
}

// Executor is one node in a workflow graph. Process consumes an input
// Envelope addressed to it and produces zero or more output Envelopes.
// An output Envelope with an empty TargetID is routed by the graph's
// outgoing edges from this executor (edge.Selector chooses the targets,
// every selected target receives the same Payload); an output Envelope
// with TargetID already set is delivered directly to that target,
// bypassing edges entirely — this is how a dispatcher sends each sub-agent
// its own distinct payload from a single Process call. Implementations
// that call an agent stream their own incremental updates onto the
// ambient bus (see bus.FromContext) as they run; Process itself only
// returns once the executor's own turn is complete.
type Executor interface {
	ID() string
	Process(ctx context.Context, in Envelope) ([]Envelope, error)
}

// StreamingExecutor is implemented by executors whose incremental updates
// should be relayed to the UI as stream events (spec's output_response
// flag). Graph.Build enumerates the executor set for this interface to
// discover the streaming set, rather than relying on a hardcoded list.
type StreamingExecutor interface {
	Executor
	OutputResponse() bool
}

// WorkflowOutput is the terminal value produced by a workflow run.
type WorkflowOutput struct {
	Text string
	Data map[string]interface{}
}

// FinalYielder is implemented by executors that can turn their own last
// Process result into a definitive WorkflowOutput. Graph.Build requires
// every StreamingExecutor with OutputResponse()==true to also implement
// this, turning "streaming executor with no final yield" into a
// construction-time error instead of a runtime UI bug.
type FinalYielder interface {
	Yield(out Envelope) (WorkflowOutput, bool)
}
