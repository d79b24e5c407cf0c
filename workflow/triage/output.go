// Package triage implements the classification-routing workflow: a single
// non-streaming triage call decides whether to reject a query or dispatch
// it to one or more registered sub-agents, whose answers are aggregated
// and handed to a streaming summary agent.
package triage

// Task names one sub-agent invocation the triage agent wants dispatched.
type Task struct {
	Agent    string `json:"agent"`
	Question string `json:"question"`
}

// Output is the triage agent's structured decision.
type Output struct {
	ShouldReject bool   `json:"should_reject"`
	RejectReason string `json:"reject_reason"`
	Tasks        []Task `json:"tasks"`
}

// taskEnvelope is what the dispatcher sends a sub-agent (Question set,
// Answer empty) and what a sub-agent sends back to the aggregator (Answer
// set, AgentKey identifying who answered), plus enough bookkeeping for the
// aggregator to know when fan-in is complete.
type taskEnvelope struct {
	RunID         string
	AgentKey      string
	Question      string
	Answer        string
	ExpectedCount int
}

// section is one sub-agent's contribution to the aggregated result.
type section struct {
	Agent string
	Text  string
}

// aggregated is the aggregator's output once every expected section has
// arrived (or immediately, with zero sections, when no tasks were
// dispatched).
type aggregated struct {
	Sections []section
}

// buildTriageSchema describes the triage agent's JSON output, listing the
// registered sub-agent keys as the enum of tasks[].agent in the schema sent
// to the model. model.Complete checks only the top-level required fields,
// so a task naming an unregistered agent is not rejected or retried there;
// dispatching it fails the run because no executor has that ID.
func buildTriageSchema(agentKeys []string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"should_reject": map[string]any{"type": "boolean"},
			"reject_reason": map[string]any{"type": "string"},
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"agent":    map[string]any{"type": "string", "enum": agentKeys},
						"question": map[string]any{"type": "string"},
					},
					"required": []string{"agent", "question"},
				},
			},
		},
		"required": []string{"should_reject", "tasks"},
	}
}
