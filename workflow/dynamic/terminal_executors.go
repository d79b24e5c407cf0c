package dynamic

import (
	"context"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/workflow"
)

// storeQueryExecutor is the graph's fixed entry point, forwarding whatever
// history it's handed unchanged.
type storeQueryExecutor struct{}

func (storeQueryExecutor) ID() string { return "store_query" }
func (storeQueryExecutor) Process(_ context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	return []workflow.Envelope{{Payload: in.Payload}}, nil
}

// clarifyExecutor terminates the run with a clarifying question when
// plan_agent judges the request too ambiguous to plan.
type clarifyExecutor struct{}

func (clarifyExecutor) ID() string           { return "clarify_executor" }
func (clarifyExecutor) OutputResponse() bool { return true }

func (clarifyExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	d, _ := in.Payload.(triageDecision)
	text := d.PlanReason
	if text == "" {
		text = "Could you clarify what you'd like help with?"
	}
	bus.Emit(ctx, bus.NewStreamEvent("clarify_executor", text, 0))
	return []workflow.Envelope{{Payload: text}}, nil
}

func (clarifyExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, _ := out.Payload.(string)
	return workflow.WorkflowOutput{Text: text}, true
}

// rejectQueryExecutor terminates the run with a rejection reply when
// plan_agent judges the request out of scope.
type rejectQueryExecutor struct {
	capabilitySummary string
}

func (rejectQueryExecutor) ID() string           { return "reject_query" }
func (rejectQueryExecutor) OutputResponse() bool { return true }

func (r rejectQueryExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	d, _ := in.Payload.(triageDecision)
	text := d.RejectText
	if text == "" {
		text = "I can't help with that request."
	}
	if r.capabilitySummary != "" {
		text += "\n\nHere's what I can help with instead: " + r.capabilitySummary
	}
	bus.Emit(ctx, bus.NewStreamEvent("reject_query", text, 0))
	return []workflow.Envelope{{Payload: text}}, nil
}

func (rejectQueryExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, _ := out.Payload.(string)
	return workflow.WorkflowOutput{Text: text}, true
}

// streamingSummaryExecutor is the standalone streaming path taken when a
// replan rejects the review outcome: it streams the aggregated results
// gathered so far as the final answer instead of running another
// review/plan pass.
type streamingSummaryExecutor struct {
	summaryRunner agent.Runner
}

func (*streamingSummaryExecutor) ID() string           { return "streaming_summary" }
func (*streamingSummaryExecutor) OutputResponse() bool { return true }

func (s *streamingSummaryExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	d, _ := in.Payload.(triageDecision)
	text, err := streamSummary(ctx, s.summaryRunner, "streaming_summary", summaryPromptFor(d.PriorAggregated))
	if err != nil {
		return nil, err
	}
	return []workflow.Envelope{{Payload: text}}, nil
}

func (*streamingSummaryExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, _ := out.Payload.(string)
	return workflow.WorkflowOutput{Text: text}, true
}
