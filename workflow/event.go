package workflow

// EventKind tags the concrete shape of a Event yielded by Graph.RunStream.
type EventKind string

const (
	// EventExecutorInvoked marks an executor starting within a superstep.
	EventExecutorInvoked EventKind = "executor_invoked"
	// EventExecutorCompleted marks an executor finishing successfully.
	EventExecutorCompleted EventKind = "executor_completed"
	// EventExecutorFailed marks an executor failing; the run terminates.
	EventExecutorFailed EventKind = "executor_failed"
	// EventWorkflowStatus reports superstep progress (iteration number).
	EventWorkflowStatus EventKind = "workflow_status"
	// EventWorkflowOutput carries the terminal value of a successful run.
	EventWorkflowOutput EventKind = "workflow_output"
	// EventWorkflowFailed carries the terminal error of a failed run.
	EventWorkflowFailed EventKind = "workflow_failed"
)

// Event is one item in the lazy sequence RunStream produces. The Message
// Orchestrator (component K) consumes these directly; only ExecutorID and
// the field matching Kind are populated for any given Event.
type Event struct {
	Kind       EventKind
	ExecutorID string
	Iteration  int
	Output     Envelope
	Result     WorkflowOutput
	Err        error
}
