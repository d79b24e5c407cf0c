package memoryservice_test

import (
	"context"
	"testing"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/memoryservice"
	"github.com/relaymesh/chatmesh/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays one buffered Response per Generate call, matching
// the pattern used across the other package test suites in this repo.
type scriptedModel struct {
	responses []model.Response
	calls     int
}

func (m *scriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	resp := m.responses[m.calls]
	m.calls++
	out <- resp
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func seedConversation(t *testing.T, durable *convstore.InMemoryDurable, conversationID string, messageCount int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, durable.CreateConversation(ctx, convstore.ConversationMeta{
		ConversationID: conversationID,
		UserClientID:   "user-1",
		CreatedAt:      time.Now(),
		LastModified:   time.Now(),
	}))
	messages := make([]convstore.Message, messageCount)
	for i := 0; i < messageCount; i++ {
		role := convstore.RoleUser
		if i%2 == 1 {
			role = convstore.RoleAssistant
		}
		messages[i] = convstore.Message{SequenceNumber: i, Role: role, Content: "message"}
	}
	require.NoError(t, durable.ReplaceMessages(ctx, conversationID, messages))
}

// TestTriggerBelowThresholdIsNoOp exercises trigger step 1.
func TestTriggerBelowThresholdIsNoOp(t *testing.T) {
	store := memoryservice.NewInMemoryStore()
	durable := convstore.NewInMemoryDurable()
	summarizerModel := &scriptedModel{}
	svc := memoryservice.New(memoryservice.Config{
		Store:           store,
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", summarizerModel),
	})

	seedConversation(t, durable, "conv-1", 4)
	require.NoError(t, svc.Trigger(context.Background(), "conv-1", 3)) // 3 < default threshold of 5

	has, err := store.HasProcessing(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.False(t, has)
}

// TestTriggerWithExistingProcessingIsNoOp exercises trigger step 2.
func TestTriggerWithExistingProcessingIsNoOp(t *testing.T) {
	store := memoryservice.NewInMemoryStore()
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-1", 20)
	_, err := store.InsertProcessing(context.Background(), "conv-1", 0, 5, nil)
	require.NoError(t, err)

	svc := memoryservice.New(memoryservice.Config{
		Store:           store,
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", &scriptedModel{}),
	})

	require.NoError(t, svc.Trigger(context.Background(), "conv-1", 17))

	// still exactly one processing record — the second trigger was a no-op
	has, err := store.HasProcessing(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.True(t, has)
}

// TestTriggerSlidingWindowScenario exercises the exact literal values of
// the memory sliding-window scenario: 18 seeded messages (seq 0..17, the
// ninth round ending at assistant seq 17), trigger at assistant seq 17,
// expect start_sequence=4, end_sequence=17.
func TestTriggerSlidingWindowScenario(t *testing.T) {
	store := memoryservice.NewInMemoryStore()
	durable := convstore.NewInMemoryDurable()
	seedConversation(t, durable, "conv-1", 18) // sequence numbers 0..17

	summarizerModel := &scriptedModel{responses: []model.Response{
		{Content: core.NewAssistantText("rolling summary covering rounds 3..9")},
	}}
	svc := memoryservice.New(memoryservice.Config{
		Store:           store,
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", summarizerModel),
	})

	require.NoError(t, svc.Trigger(context.Background(), "conv-1", 17))

	require.Eventually(t, func() bool {
		latest, err := store.LatestCompleted(context.Background(), "conv-1")
		return err == nil && latest != nil
	}, time.Second, time.Millisecond, "background summarization did not complete")

	latest, err := store.LatestCompleted(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 4, latest.StartSequence)
	assert.Equal(t, 17, latest.EndSequence)
	assert.Nil(t, latest.BaseMemoryID)
	assert.Equal(t, "rolling summary covering rounds 3..9", latest.MemoryText)
}

// TestReadWithNoCompletedMemoryReturnsAllButCurrentMessage exercises read
// step 1's graceful-degradation branch.
func TestReadWithNoCompletedMemoryReturnsAllButCurrentMessage(t *testing.T) {
	store := memoryservice.NewInMemoryStore()
	durable := convstore.NewInMemoryDurable()
	svc := memoryservice.New(memoryservice.Config{Store: store, Conversations: durable, SummarizerAgent: agent.New("m", &scriptedModel{})})

	messages := []convstore.Message{
		{SequenceNumber: 0, Role: convstore.RoleUser, Content: "hi"},
		{SequenceNumber: 1, Role: convstore.RoleAssistant, Content: "hello"},
		{SequenceNumber: 2, Role: convstore.RoleUser, Content: "current question"},
	}
	ctx, err := svc.Read(context.Background(), "conv-1", messages)
	require.NoError(t, err)
	assert.Nil(t, ctx.MemoryText)
	require.Len(t, ctx.GapMessages, 2)
	assert.Equal(t, "hi", ctx.GapMessages[0].Content)
	assert.Equal(t, "hello", ctx.GapMessages[1].Content)
}

// TestReadWithCompletedMemoryReturnsGapExcludingCurrentMessage exercises
// read steps 2-3.
func TestReadWithCompletedMemoryReturnsGapExcludingCurrentMessage(t *testing.T) {
	store := memoryservice.NewInMemoryStore()
	durable := convstore.NewInMemoryDurable()
	_, err := store.InsertProcessing(context.Background(), "conv-1", 0, 5, nil)
	require.NoError(t, err)
	require.NoError(t, store.CompleteMemory(context.Background(), 1, "summary of rounds 0..2", 10))

	svc := memoryservice.New(memoryservice.Config{Store: store, Conversations: durable, SummarizerAgent: agent.New("m", &scriptedModel{})})

	messages := []convstore.Message{
		{SequenceNumber: 0, Role: convstore.RoleUser},
		{SequenceNumber: 5, Role: convstore.RoleAssistant},
		{SequenceNumber: 6, Role: convstore.RoleUser, Content: "gap message"},
		{SequenceNumber: 7, Role: convstore.RoleAssistant, Content: "gap reply"},
		{SequenceNumber: 8, Role: convstore.RoleUser, Content: "current question"},
	}
	ctxResult, err := svc.Read(context.Background(), "conv-1", messages)
	require.NoError(t, err)
	require.NotNil(t, ctxResult.MemoryText)
	assert.Equal(t, "summary of rounds 0..2", *ctxResult.MemoryText)
	require.Len(t, ctxResult.GapMessages, 2)
	assert.Equal(t, "gap message", ctxResult.GapMessages[0].Content)
	assert.Equal(t, "gap reply", ctxResult.GapMessages[1].Content)
}
