package dynamic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/workflow"
)

// reviewExecutor performs two internal LLM calls as one node: a buffered
// JSON call to review_agent judging
// completeness, followed — only when complete — by a streaming call to
// summary_agent whose text is both relayed live and yielded as the
// workflow's final output. An incomplete review produces a replanRequest
// routed directly back to triage_executor, bypassing edges.
type reviewExecutor struct {
	reviewRunner  agent.Runner
	summaryRunner agent.Runner
}

func (*reviewExecutor) ID() string       { return "review_executor" }
func (*reviewExecutor) OutputResponse() bool { return true }

func (r *reviewExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	agg, _ := in.Payload.(aggregatedResults)

	reviewResp, err := agent.Collect(r.reviewRunner.RunStream(ctx, []core.Content{core.NewUserText(reviewPrompt(agg))}))
	if err != nil {
		return nil, err
	}

	var review ReviewOutput
	if err := json.Unmarshal([]byte(reviewResp.Text), &review); err != nil {
		return nil, chatmerr.New(chatmerr.KindPermanent, "review_agent", "review agent produced non-conforming JSON: "+err.Error())
	}

	if !review.IsComplete {
		return []workflow.Envelope{{
			TargetID: "triage_executor",
			Payload: replanRequest{
				OriginalHistory:   agg.OriginalHistory,
				MissingAspects:    review.MissingAspects,
				SuggestedApproach: review.SuggestedApproach,
				PreviousPlan:      agg.PlanUsed,
				Aggregated:        agg,
			},
		}}, nil
	}

	text, err := streamSummary(ctx, r.summaryRunner, "summary_agent", summaryPromptFor(agg))
	if err != nil {
		return nil, err
	}
	return []workflow.Envelope{{Payload: text}}, nil
}

// Yield reports a final answer only for the completed-review branch: a
// replanRequest payload fails the type assertion and correctly signals
// "not final" back to the scheduler.
func (*reviewExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, ok := out.Payload.(string)
	if !ok {
		return workflow.WorkflowOutput{}, false
	}
	return workflow.WorkflowOutput{Text: text}, true
}

// streamSummary drives runner's streaming reply, relaying every text delta
// as a bus stream event tagged with executorID, and returns the final text.
func streamSummary(ctx context.Context, runner agent.Runner, executorID, prompt string) (string, error) {
	updates, errs := runner.RunStream(ctx, []core.Content{core.NewUserText(prompt)})
	var final *agent.Response
	seq := 0
	for u := range updates {
		if u.DeltaText != "" {
			bus.Emit(ctx, bus.NewStreamEvent(executorID, u.DeltaText, seq))
			seq++
		}
		if u.Final != nil {
			final = u.Final
		}
	}
	if err := <-errs; err != nil {
		return "", err
	}
	if final == nil {
		return "", chatmerr.New(chatmerr.KindUnknown, executorID, "run terminated without a final response")
	}
	return final.Text, nil
}

func reviewPrompt(agg aggregatedResults) string {
	var b strings.Builder
	b.WriteString("Judge whether the following findings fully answer the original request.\n\n")
	writeAggregated(&b, agg)
	return b.String()
}

func summaryPromptFor(agg aggregatedResults) string {
	var b strings.Builder
	b.WriteString("Write the final reply shown to the user, combining these findings into one coherent answer:\n\n")
	writeAggregated(&b, agg)
	return b.String()
}

func writeAggregated(b *strings.Builder, agg aggregatedResults) {
	if len(agg.Steps) == 0 {
		b.WriteString("No findings were gathered yet.\n")
		return
	}
	for i, step := range agg.Steps {
		fmt.Fprintf(b, "Step %d:\n", i+1)
		for _, r := range step {
			fmt.Fprintf(b, "  %s: %s\n", r.Agent, r.Text)
		}
	}
}
