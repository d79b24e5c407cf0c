package triage_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/workflow"
	"github.com/relaymesh/chatmesh/workflow/triage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays one buffered Response per Generate call, ignoring
// req.Stream — every response is emitted as a single non-partial item, so it
// exercises both agent.Agent's buffered (schema) and streaming code paths.
type scriptedModel struct {
	name      string
	responses []model.Response
	calls     int
}

func (m *scriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	resp := m.responses[m.calls%len(m.responses)]
	m.calls++
	out <- resp
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: m.name} }

func dispatchDecision(agentKey string) model.Response {
	out, _ := json.Marshal(map[string]any{
		"should_reject": false,
		"reject_reason": "",
		"tasks": []map[string]any{
			{"agent": agentKey, "question": "help with billing"},
		},
	})
	return model.Response{Content: core.NewAssistantText(string(out))}
}

func rejectDecision(reason string) model.Response {
	out, _ := json.Marshal(map[string]any{
		"should_reject": true,
		"reject_reason": reason,
		"tasks":         []map[string]any{},
	})
	return model.Response{Content: core.NewAssistantText(string(out))}
}

func drainOutput(t *testing.T, events <-chan workflow.Event) workflow.WorkflowOutput {
	t.Helper()
	var result workflow.WorkflowOutput
	var failed error
	for ev := range events {
		if ev.Kind == workflow.EventWorkflowOutput {
			result = ev.Result
		}
		if ev.Kind == workflow.EventWorkflowFailed {
			failed = ev.Err
		}
	}
	require.NoError(t, failed)
	return result
}

func TestTriageDispatchesToSingleAgentAndSummarizes(t *testing.T) {
	triageModel := &scriptedModel{name: "triage-model", responses: []model.Response{dispatchDecision("billing_agent")}}
	billingModel := &scriptedModel{name: "billing-model", responses: []model.Response{
		{Content: core.NewAssistantText("Your invoice was refunded.")},
	}}
	summaryModel := &scriptedModel{name: "summary-model", responses: []model.Response{
		{Content: core.NewAssistantText("Your refund has been processed.")},
	}}

	g, err := triage.New(triage.Config{
		TriageModel:  triageModel,
		SummaryModel: summaryModel,
		SubAgents: map[string]*agent.Agent{
			"billing_agent": agent.New("billing_agent", billingModel),
		},
	})
	require.NoError(t, err)

	events, err := g.RunStream(context.Background(), []core.Content{core.NewUserText("why was I charged twice")})
	require.NoError(t, err)

	result := drainOutput(t, events)
	assert.Equal(t, "Your refund has been processed.", result.Text)
}

func TestTriageRejectsOutOfScopeRequestWithoutDispatching(t *testing.T) {
	triageModel := &scriptedModel{name: "triage-model", responses: []model.Response{
		rejectDecision("This system only handles billing questions."),
	}}
	summaryModel := &scriptedModel{name: "summary-model"}

	g, err := triage.New(triage.Config{
		TriageModel:       triageModel,
		SummaryModel:      summaryModel,
		CapabilitySummary: "billing questions",
		SubAgents: map[string]*agent.Agent{
			"billing_agent": agent.New("billing_agent", &scriptedModel{name: "billing-model"}),
		},
	})
	require.NoError(t, err)

	events, err := g.RunStream(context.Background(), []core.Content{core.NewUserText("what's the weather")})
	require.NoError(t, err)

	result := drainOutput(t, events)
	assert.Contains(t, result.Text, "This system only handles billing questions.")
	assert.Contains(t, result.Text, "billing questions")
	assert.Equal(t, 0, summaryModel.calls)
}

func TestNewFailsWithoutAnySubAgents(t *testing.T) {
	_, err := triage.New(triage.Config{
		TriageModel:  &scriptedModel{name: "t"},
		SummaryModel: &scriptedModel{name: "s"},
	})
	require.Error(t, err)
}
