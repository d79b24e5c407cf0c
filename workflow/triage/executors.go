package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/workflow"
)

// storeQueryExecutor forwards the conversation history it's handed
// unchanged; it exists so the graph has a stable, named entry point
// independent of what precedes it (the input is a []core.Content history).
type storeQueryExecutor struct{}

func (storeQueryExecutor) ID() string { return "store_query" }
func (storeQueryExecutor) Process(_ context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	return []workflow.Envelope{{Payload: in.Payload}}, nil
}

// triageAgentExecutor runs the classification call and parses its
// schema-constrained JSON output into an Output.
type triageAgentExecutor struct {
	runner agent.Runner
}

func (triageAgentExecutor) ID() string { return "triage_agent" }

func (t *triageAgentExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	history, _ := in.Payload.([]core.Content)
	resp, err := agent.Collect(t.runner.RunStream(ctx, history))
	if err != nil {
		return nil, err
	}

	var out Output
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return nil, chatmerr.New(chatmerr.KindPermanent, "triage_agent",
			fmt.Sprintf("triage agent produced non-conforming JSON: %v", err))
	}
	return []workflow.Envelope{{Payload: out}}, nil
}

// selectRejectOrDispatch is the edge selector deciding whether triage's
// output routes to the rejection path or the dispatcher.
func selectRejectOrDispatch(payload interface{}, targets []string) []string {
	out, ok := payload.(Output)
	if !ok {
		return nil
	}
	want := "dispatcher"
	if out.ShouldReject {
		want = "reject_query"
	}
	for _, t := range targets {
		if t == want {
			return []string{t}
		}
	}
	return nil
}

// rejectQueryExecutor turns a rejection decision into the same
// single-update-then-final-output shape a dispatched answer would
// produce, so downstream code (the summary stream, persistence) never
// needs to special-case a rejected turn.
type rejectQueryExecutor struct {
	capabilitySummary string
}

func (rejectQueryExecutor) ID() string { return "reject_query" }
func (rejectQueryExecutor) OutputResponse() bool { return true }

func (r rejectQueryExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	out, _ := in.Payload.(Output)
	text := out.RejectReason
	if text == "" {
		text = "I can't help with that request."
	}
	if r.capabilitySummary != "" {
		text = fmt.Sprintf("%s\n\nHere's what I can help with instead: %s", text, r.capabilitySummary)
	}
	bus.Emit(ctx, bus.NewStreamEvent("reject_query", text, 0))
	return []workflow.Envelope{{Payload: text}}, nil
}

func (rejectQueryExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, _ := out.Payload.(string)
	return workflow.WorkflowOutput{Text: text}, true
}

// dispatcherExecutor splits a triage Output's tasks across the named
// sub-agents, computing the fan-in count the aggregator must wait for and
// attaching it to every dispatched envelope (spec's "dispatcher computes
// and attaches the expected count" note). Zero tasks routes straight to
// the aggregator so a should_reject=false, zero-task decision still
// completes instead of stalling on a fan-in that will never arrive.
type dispatcherExecutor struct{}

func (dispatcherExecutor) ID() string { return "dispatcher" }

func (dispatcherExecutor) Process(_ context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	out, _ := in.Payload.(Output)
	runID := uuid.NewString()

	if len(out.Tasks) == 0 {
		return []workflow.Envelope{{
			TargetID: "aggregator",
			Payload:  taskEnvelope{RunID: runID, ExpectedCount: 0},
		}}, nil
	}

	envs := make([]workflow.Envelope, 0, len(out.Tasks))
	for _, task := range out.Tasks {
		envs = append(envs, workflow.Envelope{
			TargetID: task.Agent,
			Payload: taskEnvelope{
				RunID:         runID,
				Question:      task.Question,
				ExpectedCount: len(out.Tasks),
			},
		})
	}
	return envs, nil
}

// subAgentExecutor runs one registered sub-agent against the question the
// dispatcher assigned it and forwards its answer to the aggregator by
// setting TargetID directly; no edge is registered from a sub-agent.
type subAgentExecutor struct {
	key    string
	runner agent.Runner
}

func (s *subAgentExecutor) ID() string { return s.key }

func (s *subAgentExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	te, _ := in.Payload.(taskEnvelope)
	history := []core.Content{core.NewUserText(te.Question)}

	resp, err := agent.Collect(s.runner.RunStream(ctx, history))
	if err != nil {
		return nil, err
	}

	return []workflow.Envelope{{
		TargetID: "aggregator",
		Payload: taskEnvelope{
			RunID:         te.RunID,
			AgentKey:      s.key,
			Answer:        resp.Text,
			ExpectedCount: te.ExpectedCount,
		},
	}}, nil
}

// runState buffers one run's fan-in progress. The aggregator keeps one of
// these per in-flight run so concurrent turns against the same built graph
// never share buffering state.
type runState struct {
	mu       sync.Mutex
	parts    []section
	expected int
}

// aggregatorExecutor buffers sub-agent answers keyed by run ID until the
// dispatcher's expected count is reached, then emits the combined
// aggregated result. A zero-task run completes on its first (and only)
// invocation.
type aggregatorExecutor struct {
	runs sync.Map // runID -> *runState
}

func newAggregatorExecutor() *aggregatorExecutor { return &aggregatorExecutor{} }

func (a *aggregatorExecutor) ID() string { return "aggregator" }

func (a *aggregatorExecutor) Process(_ context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	te, _ := in.Payload.(taskEnvelope)

	if te.ExpectedCount == 0 {
		a.runs.Delete(te.RunID)
		return []workflow.Envelope{{Payload: aggregated{}}}, nil
	}

	value, _ := a.runs.LoadOrStore(te.RunID, &runState{expected: te.ExpectedCount})
	st := value.(*runState)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.parts = append(st.parts, section{Agent: te.AgentKey, Text: te.Answer})
	if len(st.parts) < st.expected {
		return nil, workflow.ErrNoOutput
	}

	a.runs.Delete(te.RunID)
	return []workflow.Envelope{{Payload: aggregated{Sections: st.parts}}}, nil
}

// summaryAgentExecutor synthesizes the aggregated sub-agent answers (or the
// bare original question, for a zero-task run) into one streamed reply and
// is the graph's terminal node.
type summaryAgentExecutor struct {
	runner agent.Runner
}

func (summaryAgentExecutor) ID() string { return "summary_agent" }
func (summaryAgentExecutor) OutputResponse() bool { return true }

func (s *summaryAgentExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	agg, _ := in.Payload.(aggregated)
	prompt := summaryPrompt(agg)
	history := []core.Content{core.NewUserText(prompt)}

	updates, errs := s.runner.RunStream(ctx, history)
	var final *agent.Response
	seq := 0
	for u := range updates {
		if u.DeltaText != "" {
			bus.Emit(ctx, bus.NewStreamEvent("summary_agent", u.DeltaText, seq))
			seq++
		}
		if u.Final != nil {
			final = u.Final
		}
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if final == nil {
		return nil, chatmerr.New(chatmerr.KindUnknown, "summary_agent", "run terminated without a final response")
	}
	return []workflow.Envelope{{Payload: final.Text}}, nil
}

func (summaryAgentExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, _ := out.Payload.(string)
	return workflow.WorkflowOutput{Text: text}, true
}

func summaryPrompt(agg aggregated) string {
	if len(agg.Sections) == 0 {
		return "No specialist was consulted for this request. Answer directly and helpfully."
	}
	var b strings.Builder
	b.WriteString("Combine the following specialist findings into one coherent answer for the user:\n\n")
	for _, s := range agg.Sections {
		fmt.Fprintf(&b, "From %s:\n%s\n\n", s.Agent, s.Text)
	}
	return b.String()
}
