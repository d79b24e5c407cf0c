package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/memoryservice"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/orchestrator"
	"github.com/relaymesh/chatmesh/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoExecutor is a minimal single-node graph: it yields a fixed reply
// immediately, or blocks until ctx is cancelled when block is set, to
// exercise the cancellation path without a real model call.
type echoExecutor struct {
	reply string
	block bool
}

func (e *echoExecutor) ID() string { return "echo" }

func (e *echoExecutor) Process(ctx context.Context, in workflow.Envelope) ([]workflow.Envelope, error) {
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []workflow.Envelope{{Payload: e.reply}}, nil
}

func (e *echoExecutor) OutputResponse() bool { return true }

func (e *echoExecutor) Yield(out workflow.Envelope) (workflow.WorkflowOutput, bool) {
	text, ok := out.Payload.(string)
	if !ok {
		return workflow.WorkflowOutput{}, false
	}
	return workflow.WorkflowOutput{Text: text}, true
}

func buildGraph(t *testing.T, e *echoExecutor) *workflow.Graph {
	t.Helper()
	g := workflow.NewGraph(workflow.WithEntry("echo"))
	g.AddExecutor(e)
	require.NoError(t, g.Build())
	return g
}

func newTestOrchestrator(t *testing.T, g *workflow.Graph, durable *convstore.InMemoryDurable) *orchestrator.Orchestrator {
	t.Helper()
	store := convstore.NewWriteThroughStore(durable, convstore.NewInMemoryCache(), nil)
	memStore := memoryservice.NewInMemoryStore()
	mem := memoryservice.New(memoryservice.Config{
		Store:           memStore,
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", &scriptedModel{}),
	})
	return orchestrator.New(orchestrator.Config{
		Conversations:   store,
		Memory:          mem,
		TriageWorkflow:  g,
		DynamicWorkflow: g,
		WorkflowTimeout: 2 * time.Second,
	})
}

// scriptedModel never actually gets invoked in these tests (the seeded
// conversations stay below the summarization threshold), but the memory
// service's Config requires a non-nil summarizer agent.
type scriptedModel struct{}

func (m *scriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error)
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func seedConversation(t *testing.T, durable *convstore.InMemoryDurable, conversationID, userClientID string) {
	t.Helper()
	require.NoError(t, durable.CreateConversation(context.Background(), convstore.ConversationMeta{
		ConversationID: conversationID,
		UserClientID:   userClientID,
		Title:          convstore.DefaultTitle,
		CreatedAt:      time.Now(),
		LastModified:   time.Now(),
	}))
}

// drain collects events up to and including the terminal done event; the
// bus never closes its channel, so done is the end-of-stream marker.
func drain(ch <-chan bus.Event) []bus.Event {
	var out []bus.Event
	for ev := range ch {
		out = append(out, ev)
		if ev.Type == bus.EventDone {
			break
		}
	}
	return out
}

func TestHandleMessagePersistsAssistantReplyAndUpdatesTitle(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-1", "user-1")

	g := buildGraph(t, &echoExecutor{reply: "Hello there, how can I help?"})
	o := newTestOrchestrator(t, g, durable)

	events, err := o.Handle(context.Background(), orchestrator.Request{
		UserClientID:   "user-1",
		ConversationID: "conv-1",
		Message:        "hi",
	})
	require.NoError(t, err)

	got := drain(events)
	require.NotEmpty(t, got)
	assert.Equal(t, bus.EventUserMessage, got[0].Type)

	var sawAssistant, sawDone bool
	for _, ev := range got {
		if ev.Type == bus.EventAssistantMessage {
			sawAssistant = true
			assert.Equal(t, "Hello there, how can I help?", ev.AssistantMessage.Content)
			require.NotNil(t, ev.AssistantMessage.Title)
			assert.Equal(t, "hi", *ev.AssistantMessage.Title)
		}
		if ev.Type == bus.EventDone {
			sawDone = true
		}
	}
	assert.True(t, sawAssistant, "expected an assistant_message event")
	assert.True(t, sawDone, "expected a terminal done event")

	conv, err := durable.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, convstore.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, convstore.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Hello there, how can I help?", conv.Messages[1].Content)
	assert.Equal(t, "hi", conv.Meta.Title)
}

func TestHandleMessageCancellationPersistsNoAssistantMessage(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-2", "user-1")

	g := buildGraph(t, &echoExecutor{block: true})
	o := newTestOrchestrator(t, g, durable)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Handle(ctx, orchestrator.Request{
		UserClientID:   "user-1",
		ConversationID: "conv-2",
		Message:        "hi",
	})
	require.NoError(t, err)

	// Let the workflow observe the user_message before disconnecting.
	<-events
	cancel()

	got := drain(events)
	for _, ev := range got {
		assert.NotEqual(t, bus.EventAssistantMessage, ev.Type, "cancelled turn must not emit an assistant message")
	}

	conv, err := durable.GetConversation(context.Background(), "conv-2")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1, "only the user message should be persisted")
	assert.Equal(t, convstore.RoleUser, conv.Messages[0].Role)
}

func TestHandleReactModeSelectsWorkflowGraph(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-3", "user-1")

	triage := buildGraph(t, &echoExecutor{reply: "triage reply"})
	dynamic := buildGraph(t, &echoExecutor{reply: "dynamic reply"})
	store := convstore.NewWriteThroughStore(durable, convstore.NewInMemoryCache(), nil)
	mem := memoryservice.New(memoryservice.Config{
		Store:           memoryservice.NewInMemoryStore(),
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", &scriptedModel{}),
	})
	o := orchestrator.New(orchestrator.Config{
		Conversations:   store,
		Memory:          mem,
		TriageWorkflow:  triage,
		DynamicWorkflow: dynamic,
		WorkflowTimeout: 2 * time.Second,
	})

	events, err := o.Handle(context.Background(), orchestrator.Request{
		UserClientID:   "user-1",
		ConversationID: "conv-3",
		Message:        "hi",
		ReactMode:      true,
	})
	require.NoError(t, err)
	drain(events)

	conv, err := durable.GetConversation(context.Background(), "conv-3")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "dynamic reply", conv.Messages[1].Content)
}

func TestHandleMemoryDisabledSkipsTrigger(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-4", "user-1")

	g := buildGraph(t, &echoExecutor{reply: "reply"})
	memStore := memoryservice.NewInMemoryStore()
	store := convstore.NewWriteThroughStore(durable, convstore.NewInMemoryCache(), nil)
	mem := memoryservice.New(memoryservice.Config{
		Store:             memStore,
		Conversations:     durable,
		SummarizerAgent:   agent.New("memory_summarizer", &scriptedModel{}),
		SummarizeAfterSeq: 0, // trigger would fire on any assistant sequence if not disabled
	})
	o := orchestrator.New(orchestrator.Config{
		Conversations:   store,
		Memory:          mem,
		TriageWorkflow:  g,
		DynamicWorkflow: g,
		WorkflowTimeout: 2 * time.Second,
	})

	disabled := false
	events, err := o.Handle(context.Background(), orchestrator.Request{
		UserClientID:   "user-1",
		ConversationID: "conv-4",
		Message:        "hi",
		MemoryEnabled:  &disabled,
	})
	require.NoError(t, err)
	drain(events)

	time.Sleep(20 * time.Millisecond) // let any wrongly-fired background trigger settle
	has, err := memStore.HasProcessing(context.Background(), "conv-4")
	require.NoError(t, err)
	assert.False(t, has, "memory trigger must not fire when memory_enabled=false")
}

func TestHandlePersistsAgentModelMappingOverride(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-5", "user-1")

	g := buildGraph(t, &echoExecutor{reply: "reply"})
	o := newTestOrchestrator(t, g, durable)

	events, err := o.Handle(context.Background(), orchestrator.Request{
		UserClientID:      "user-1",
		ConversationID:    "conv-5",
		Message:           "hi",
		WorkflowModel:     "gpt-4.1",
		AgentModelMapping: map[string]string{"triage_agent": "gpt-4.1-mini"},
	})
	require.NoError(t, err)
	drain(events)

	conv, err := durable.GetConversation(context.Background(), "conv-5")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", conv.Meta.Model)
	assert.Equal(t, "gpt-4.1-mini", conv.Meta.AgentLevelLLMOverwrite["triage_agent"])
}
