package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/httpapi"
	"github.com/relaymesh/chatmesh/memoryservice"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/orchestrator"
	"github.com/relaymesh/chatmesh/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoExecutor struct{ reply string }

func (e *echoExecutor) ID() string { return "echo" }

func (e *echoExecutor) Process(_ context.Context, _ workflow.Envelope) ([]workflow.Envelope, error) {
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

type scriptedModel struct{}

func (m *scriptedModel) Generate(_ context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error)
	close(out)
	close(errCh)
	return out, errCh
}

func (m *scriptedModel) Info() model.Info { return model.Info{Name: "scripted"} }

func newTestHandlers(t *testing.T, durable *convstore.InMemoryDurable) *httpapi.Handlers {
	t.Helper()
	g := workflow.NewGraph(workflow.WithEntry("echo"))
	g.AddExecutor(&echoExecutor{reply: "hello from the assistant"})
	require.NoError(t, g.Build())

	store := convstore.NewWriteThroughStore(durable, convstore.NewInMemoryCache(), nil)
	mem := memoryservice.New(memoryservice.Config{
		Store:           memoryservice.NewInMemoryStore(),
		Conversations:   durable,
		SummarizerAgent: agent.New("memory_summarizer", &scriptedModel{}),
	})
	orch := orchestrator.New(orchestrator.Config{
		Conversations:   store,
		Memory:          mem,
		TriageWorkflow:  g,
		DynamicWorkflow: g,
		WorkflowTimeout: 2 * time.Second,
	})
	return &httpapi.Handlers{
		Orchestrator:   orch,
		Conversations:  store,
		Models:         []string{"gpt-4.1", "gpt-4.1-mini"},
		TriageAgents:   []string{"triage_agent"},
		DynamicAgents:  []string{"planner_agent", "executor_agent"},
		ShowFuncResult: true,
	}
}

func TestGetUserAnonymousWithoutHeaders(t *testing.T) {
	h := newTestHandlers(t, convstore.NewInMemoryDurable())
	router := httpapi.NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httpapi.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "anonymous", resp.UserID)
	assert.False(t, resp.IsAuthenticated)
}

func TestGetUserFromHeaders(t *testing.T) {
	h := newTestHandlers(t, convstore.NewInMemoryDurable())
	router := httpapi.NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set(httpapi.HeaderUserID, "u-42")
	req.Header.Set(httpapi.HeaderUserName, "ada")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp httpapi.UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u-42", resp.UserID)
	assert.Equal(t, "ada", resp.UserName)
	assert.True(t, resp.IsAuthenticated)
}

func TestGetModelsAndAgents(t *testing.T) {
	h := newTestHandlers(t, convstore.NewInMemoryDurable())
	router := httpapi.NewRouter(h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var models httpapi.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &models))
	assert.Equal(t, []string{"gpt-4.1", "gpt-4.1-mini"}, models.Models)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents", nil))
	var agents httpapi.AgentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Equal(t, []string{"triage_agent"}, agents.Agents)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/agents?react_mode=true", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Equal(t, []string{"planner_agent", "executor_agent"}, agents.Agents)
}

func TestConversationLifecycle(t *testing.T) {
	h := newTestHandlers(t, convstore.NewInMemoryDurable())
	router := httpapi.NewRouter(h)
	userHdr := func(r *http.Request) {
		r.Header.Set(httpapi.HeaderUserID, "u-1")
	}

	createBody, _ := json.Marshal(httpapi.CreateConversationRequest{Model: "gpt-4.1"})
	req := httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewReader(createBody))
	userHdr(req)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created httpapi.ConversationMetaDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ConversationID)
	assert.Equal(t, convstore.DefaultTitle, created.Title)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/"+created.ConversationID, nil)
	userHdr(req)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched httpapi.ConversationDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Empty(t, fetched.Messages)

	newTitle := "Renamed"
	updateBody, _ := json.Marshal(httpapi.UpdateConversationRequest{Title: &newTitle})
	req = httptest.NewRequest(http.MethodPut, "/api/conversations/"+created.ConversationID, bytes.NewReader(updateBody))
	userHdr(req)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	userHdr(req)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []httpapi.ConversationMetaDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)

	req = httptest.NewRequest(http.MethodDelete, "/api/conversations/"+created.ConversationID, nil)
	userHdr(req)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/"+created.ConversationID, nil)
	userHdr(req)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPostMessageStreamsSSEAndPersistsReply(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	require.NoError(t, durable.CreateConversation(context.Background(), convstore.ConversationMeta{
		ConversationID: "conv-1",
		UserClientID:   "u-1",
		Title:          convstore.DefaultTitle,
		CreatedAt:      time.Now(),
		LastModified:   time.Now(),
	}))
	h := newTestHandlers(t, durable)
	router := httpapi.NewRouter(h)

	body, _ := json.Marshal(httpapi.PostMessageRequest{Message: "hi there"})
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/messages", bytes.NewReader(body))
	req.Header.Set(httpapi.HeaderUserID, "u-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	out := rec.Body.String()
	assert.Contains(t, out, "event: message\n")
	assert.Contains(t, out, `"type":"user"`)
	assert.Contains(t, out, `"type":"assistant"`)
	assert.Contains(t, out, "hello from the assistant")
	assert.True(t, strings.HasSuffix(out, "event: done\ndata: {}\n\n"))

	conv, err := durable.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
}

func TestPostMessageRejectsEmptyMessage(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	require.NoError(t, durable.CreateConversation(context.Background(), convstore.ConversationMeta{
		ConversationID: "conv-2",
		UserClientID:   "u-1",
		Title:          convstore.DefaultTitle,
		CreatedAt:      time.Now(),
		LastModified:   time.Now(),
	}))
	h := newTestHandlers(t, durable)
	router := httpapi.NewRouter(h)

	body, _ := json.Marshal(httpapi.PostMessageRequest{Message: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-2/messages", bytes.NewReader(body))
	req.Header.Set(httpapi.HeaderUserID, "u-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAndClearEvaluation(t *testing.T) {
	durable := convstore.NewInMemoryDurable()
	require.NoError(t, durable.CreateConversation(context.Background(), convstore.ConversationMeta{
		ConversationID: "conv-3",
		UserClientID:   "u-1",
		Title:          convstore.DefaultTitle,
		CreatedAt:      time.Now(),
		LastModified:   time.Now(),
	}))
	require.NoError(t, durable.ReplaceMessages(context.Background(), "conv-3", []convstore.Message{
		{ConversationID: "conv-3", SequenceNumber: 1, Role: convstore.RoleUser, Content: "hi", Timestamp: time.Now()},
	}))
	h := newTestHandlers(t, durable)
	router := httpapi.NewRouter(h)

	comment := "great answer"
	body, _ := json.Marshal(httpapi.EvaluationRequest{IsSatisfy: true, Comment: &comment})
	req := httptest.NewRequest(http.MethodPatch, "/api/conversations/conv-3/messages/1/evaluation", bytes.NewReader(body))
	req.Header.Set(httpapi.HeaderUserID, "u-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	conv, err := durable.GetConversation(context.Background(), "conv-3")
	require.NoError(t, err)
	require.NotNil(t, conv.Messages[0].IsSatisfy)
	assert.True(t, *conv.Messages[0].IsSatisfy)

	req = httptest.NewRequest(http.MethodPatch, "/api/conversations/conv-3/messages/1/evaluation/clear", nil)
	req.Header.Set(httpapi.HeaderUserID, "u-1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	conv, err = durable.GetConversation(context.Background(), "conv-3")
	require.NoError(t, err)
	assert.Nil(t, conv.Messages[0].IsSatisfy)
}
