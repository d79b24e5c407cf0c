// Package dynamic implements the plan/review loop workflow: a triage step
// that either clarifies, rejects, or plans a
// multi-step, multi-agent execution; an orchestrator that runs that plan
// sequentially step-by-step (fanning each step's tasks out in parallel);
// and a review step that either accepts the result (streaming the final
// summary) or requests a replan, looping back to triage.
package dynamic

import "github.com/relaymesh/chatmesh/core"

// PlanAction is the triage agent's classification of a fresh user request.
type PlanAction string

const (
	ActionPlan    PlanAction = "plan"
	ActionClarify PlanAction = "clarify"
	ActionReject  PlanAction = "reject"
)

// Step is one unit of the plan: a sub-agent, the question to ask it, and
// the step number it belongs to. Steps sharing a number run in parallel;
// steps run in increasing step-number order.
type Step struct {
	Step     int    `json:"step"`
	Agent    string `json:"agent"`
	Question string `json:"question"`
}

// TriagePlanOutput is plan_agent's structured decision on a fresh request.
type TriagePlanOutput struct {
	Action       PlanAction `json:"action"`
	RejectReason string     `json:"reject_reason"`
	Plan         []Step     `json:"plan"`
	PlanReason   string     `json:"plan_reason"`
}

// TriageReplanOutput is replan_agent's structured decision on review
// feedback.
type TriageReplanOutput struct {
	AcceptReview    bool   `json:"accept_review"`
	NewPlan         []Step `json:"new_plan"`
	RejectionReason string `json:"rejection_reason"`
}

// ReviewOutput is review_agent's structured judgment of a completed plan's
// results.
type ReviewOutput struct {
	IsComplete        bool     `json:"is_complete"`
	MissingAspects    []string `json:"missing_aspects"`
	SuggestedApproach string   `json:"suggested_approach"`
	Confidence        float64  `json:"confidence"`
}

// stepResult is one sub-agent's answer within a single plan step.
type stepResult struct {
	Agent string
	Text  string
}

// aggregatedResults accumulates every step's combined results across an
// orchestrator run, plus enough context for a downstream replan to pick up
// where the last pass left off.
type aggregatedResults struct {
	OriginalHistory []core.Content
	PlanUsed        []Step
	Steps           [][]stepResult
}

// replanRequest is what review_executor sends back to triage_executor when
// the review judges the plan's results incomplete.
type replanRequest struct {
	OriginalHistory   []core.Content
	MissingAspects    []string
	SuggestedApproach string
	PreviousPlan      []Step
	Aggregated        aggregatedResults
}

// triageDecision is triage_executor's unified output: either branch of its
// polymorphic input populates a different subset of these fields, and the
// graph's selector edge inspects IsReplan to know which subset applies.
type triageDecision struct {
	IsReplan bool

	// Plan-branch fields (fresh user request).
	Action     PlanAction
	RejectText string
	PlanReason string

	// Replan-branch fields (review feedback).
	AcceptReview    bool
	RejectionText   string

	// Shared.
	Plan            []Step
	OriginalHistory []core.Content
	PriorAggregated aggregatedResults
}
