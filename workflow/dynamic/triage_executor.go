package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/workflow"
)

// triageExecutor is polymorphic over its input: a fresh []core.Content
// history invokes planRunner; a replanRequest (looped back from
// review_executor) invokes replanRunner. Both produce a triageDecision the
// graph's selector edge routes on.
type triageExecutor struct {
	planRunner   agent.Runner
	replanRunner agent.Runner
}

func (*triageExecutor) ID() string { return "triage_executor" }

func (t *triageExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	switch payload := in.Payload.(type) {
	case []core.Content:
		return t.processPlan(ctx, payload)
	case replanRequest:
		return t.processReplan(ctx, payload)
	default:
		return nil, chatmerr.New(chatmerr.KindPermanent, "triage_executor", "unrecognized input payload")
	}
}

func (t *triageExecutor) processPlan(ctx context.Context, history []core.Content) ([]workflow.Envelope, error) {
	resp, err := agent.Collect(t.planRunner.RunStream(ctx, history))
	if err != nil {
		return nil, err
	}

	var out TriagePlanOutput
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return nil, chatmerr.New(chatmerr.KindPermanent, "plan_agent", "plan agent produced non-conforming JSON: "+err.Error())
	}

	decision := triageDecision{
		Action:          out.Action,
		RejectText:      out.RejectReason,
		PlanReason:      out.PlanReason,
		Plan:            out.Plan,
		OriginalHistory: history,
	}
	return []workflow.Envelope{{Payload: decision}}, nil
}

func (t *triageExecutor) processReplan(ctx context.Context, req replanRequest) ([]workflow.Envelope, error) {
	resp, err := agent.Collect(t.replanRunner.RunStream(ctx, []core.Content{core.NewUserText(replanPrompt(req))}))
	if err != nil {
		return nil, err
	}

	var out TriageReplanOutput
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return nil, chatmerr.New(chatmerr.KindPermanent, "replan_agent", "replan agent produced non-conforming JSON: "+err.Error())
	}

	decision := triageDecision{
		IsReplan:        true,
		AcceptReview:    out.AcceptReview,
		RejectionText:   out.RejectionReason,
		Plan:            out.NewPlan,
		OriginalHistory: req.OriginalHistory,
		PriorAggregated: req.Aggregated,
	}
	return []workflow.Envelope{{Payload: decision}}, nil
}

// replanPrompt builds the replan_agent prompt from the review feedback and
// the results gathered so far.
func replanPrompt(req replanRequest) string {
	var b strings.Builder
	b.WriteString("The reviewer judged the plan's results incomplete.\n")
	if req.SuggestedApproach != "" {
		fmt.Fprintf(&b, "Suggested approach: %s\n", req.SuggestedApproach)
	}
	if len(req.MissingAspects) > 0 {
		fmt.Fprintf(&b, "Missing aspects: %s\n", strings.Join(req.MissingAspects, ", "))
	}
	b.WriteString("\n")
	writeAggregated(&b, req.Aggregated)
	b.WriteString("\nDecide whether to accept the review and propose a new plan to cover the gaps, or reject the review and keep the existing results.")
	return b.String()
}

// selectTriageRoute routes a triageDecision to the correct downstream
// executor depending on which branch produced it.
func selectTriageRoute(payload interface{}, targets []string) []string {
	d, ok := payload.(triageDecision)
	if !ok {
		return nil
	}

	var want string
	switch {
	case !d.IsReplan && d.Action == ActionClarify:
		want = "clarify_executor"
	case !d.IsReplan && d.Action == ActionReject:
		want = "reject_query"
	case !d.IsReplan:
		want = "orchestrator"
	case d.IsReplan && d.AcceptReview && len(d.Plan) > 0:
		want = "orchestrator"
	default:
		want = "streaming_summary"
	}

	for _, t := range targets {
		if t == want {
			return []string{t}
		}
	}
	return nil
}
