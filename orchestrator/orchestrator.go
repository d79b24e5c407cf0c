// Package orchestrator implements the per-request glue: persist the
// incoming user message, assemble workflow input from the Memory Service's
// ConversationContext, run the workflow graph with a per-request event bus
// wired into the request's context, and on completion persist the
// assistant's reply and fire the memory trigger. A background goroutine
// drives the workflow run and consumes its events itself; workflow.Event
// values are only debug-logged, while client-visible progress reaches the
// bus from executors and middleware through the context. Messages are
// persisted through convstore's write-through store.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/bus"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/core"
	"github.com/relaymesh/chatmesh/memoryservice"
	"github.com/relaymesh/chatmesh/workflow"
)

// ApologeticMessage is the fixed reply persisted and streamed when a
// workflow run fails for any reason other than client cancellation.
const ApologeticMessage = "An error occurred while processing your request. Please try again."

// DefaultWorkflowTimeout bounds a single workflow run.
const DefaultWorkflowTimeout = 180 * time.Second

// DefaultBusCapacity is the per-request event bus's bounded queue size.
const DefaultBusCapacity = bus.DefaultCapacity

// maxTitleLen bounds the auto-derived conversation title.
const maxTitleLen = 60

// Config configures an Orchestrator. Two pre-built workflow graphs are
// wired in — one per the `react_mode` toggle — rather than a single
// graph, since the workflow engine has no facility for swapping an
// executor's underlying agents mid-run; per-request `workflow_model` and
// `agent_model_mapping` therefore select nothing about *which* graph runs
// (that is react_mode alone) and are instead recorded onto the
// conversation's AgentLevelLLMOverwrite for display, per the Open Question
// decision in DESIGN.md.
type Config struct {
	Conversations   convstore.Store
	Memory          *memoryservice.Service
	TriageWorkflow  *workflow.Graph
	DynamicWorkflow *workflow.Graph
	BusCapacity     int
	WorkflowTimeout time.Duration
	Logger          *slog.Logger
}

// Orchestrator wires the built workflow graphs to the conversation store
// and memory service for every incoming chat message.
type Orchestrator struct {
	conversations   convstore.Store
	memory          *memoryservice.Service
	triageGraph     *workflow.Graph
	dynamicGraph    *workflow.Graph
	busCapacity     int
	workflowTimeout time.Duration
	log             *slog.Logger
}

// New constructs an Orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.WorkflowTimeout
	if timeout <= 0 {
		timeout = DefaultWorkflowTimeout
	}
	capacity := cfg.BusCapacity
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		conversations:   cfg.Conversations,
		memory:          cfg.Memory,
		triageGraph:     cfg.TriageWorkflow,
		dynamicGraph:    cfg.DynamicWorkflow,
		busCapacity:     capacity,
		workflowTimeout: timeout,
		log:             log,
	}
}

// Request is one POST /api/conversations/{id}/messages call.
type Request struct {
	UserClientID      string
	ConversationID    string
	Message           string
	ReactMode         bool
	WorkflowModel     string
	AgentModelMapping map[string]string
	// MemoryEnabled defaults to true when nil (memory_enabled is
	// an optional request field).
	MemoryEnabled *bool
}

func (r Request) memoryEnabled() bool {
	return r.MemoryEnabled == nil || *r.MemoryEnabled
}

// Handle implements the five-step per-request contract. It returns the
// request's event stream; the caller (httpapi) drains it to serialize
// server-sent records and cancels ctx on client disconnect, which this
// function propagates to the workflow run and the bus.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (<-chan bus.Event, error) {
	userMsg, err := o.conversations.AppendMessage(ctx, req.UserClientID, req.ConversationID, convstore.Message{
		Role:      convstore.RoleUser,
		Content:   req.Message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return nil, err
	}

	conv, err := o.conversations.GetConversation(ctx, req.UserClientID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	meta := applyOverrides(conv.Meta, req)

	memCtx := memoryservice.ConversationContext{}
	if req.memoryEnabled() {
		memCtx, err = o.memory.Read(ctx, req.ConversationID, conv.Messages)
		if err != nil {
			return nil, err
		}
	}
	input := buildWorkflowInput(memCtx, userMsg)

	graph := o.dynamicGraph
	if !req.ReactMode {
		graph = o.triageGraph
	}

	b := bus.New(o.busCapacity)
	runCtx, cancel := context.WithCancel(ctx)
	runCtx = bus.WithBus(runCtx, b)
	runCtx = agent.WithState(runCtx, map[string]any{
		"conversation_id": req.ConversationID,
		"user_client_id":  req.UserClientID,
		"date":            time.Now().UTC().Format("2006-01-02"),
	})

	if err := b.Emit(bus.NewUserMessageEvent(req.Message, userMsg.SequenceNumber, userMsg.Timestamp)); err != nil {
		o.log.Warn("orchestrator: emitting user_message failed", "conversation_id", req.ConversationID, "error", err)
	}

	go o.runWorkflow(runCtx, cancel, b, graph, req.UserClientID, req.ConversationID, meta, req.memoryEnabled(), input, req.Message)

	return b.Events(), nil
}

// applyOverrides merges a request's agent_model_mapping/workflow_model into
// the conversation's persisted override map without changing which graph
// runs this turn.
func applyOverrides(meta convstore.ConversationMeta, req Request) convstore.ConversationMeta {
	if req.WorkflowModel == "" && len(req.AgentModelMapping) == 0 {
		return meta
	}
	overrides := make(map[string]string, len(meta.AgentLevelLLMOverwrite)+len(req.AgentModelMapping)+1)
	for k, v := range meta.AgentLevelLLMOverwrite {
		overrides[k] = v
	}
	for k, v := range req.AgentModelMapping {
		overrides[k] = v
	}
	if req.WorkflowModel != "" {
		meta.Model = req.WorkflowModel
	}
	meta.AgentLevelLLMOverwrite = overrides
	return meta
}

// runWorkflow drives the workflow graph to completion, keeping its final
// output or failure, and applies the step-5 completion side effects.
func (o *Orchestrator) runWorkflow(ctx context.Context, cancel context.CancelFunc, b *bus.Bus, graph *workflow.Graph, userClientID, conversationID string, meta convstore.ConversationMeta, memoryEnabled bool, input []core.Content, userMessage string) {
	defer cancel()
	defer b.Close()

	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, o.workflowTimeout)
	defer timeoutCancel()

	events, err := graph.RunStream(timeoutCtx, input)
	if err != nil {
		o.log.Error("orchestrator: starting workflow failed", "conversation_id", conversationID, "error", err)
		return
	}

	var finalText string
	var failed bool
	var failure error
	for ev := range events {
		switch ev.Kind {
		case workflow.EventWorkflowOutput:
			finalText = ev.Result.Text
		case workflow.EventWorkflowFailed:
			failed = true
			failure = ev.Err
		default:
			// executor_invoked/completed/failed and workflow_status are
			// available for debug logging only; they never reach the client.
			o.log.Debug("orchestrator: workflow event", "kind", ev.Kind, "conversation_id", conversationID)
		}
	}

	if ctx.Err() != nil {
		o.log.Info("orchestrator: request cancelled before completion, assistant message not persisted", "conversation_id", conversationID)
		return
	}

	assistantText := finalText
	if failed {
		o.log.Error("orchestrator: workflow failed", "conversation_id", conversationID, "error", failure)
		assistantText = ApologeticMessage
	}

	assistantMsg, err := o.conversations.AppendMessage(ctx, userClientID, conversationID, convstore.Message{
		Role:      convstore.RoleAssistant,
		Content:   assistantText,
		Timestamp: time.Now(),
	})
	if err != nil {
		o.log.Error("orchestrator: persisting assistant message failed", "conversation_id", conversationID, "error", err)
		return
	}

	o.finishTurn(ctx, conversationID, meta, assistantMsg, assistantText, memoryEnabled, userMessage)
}

// finishTurn updates conversation bookkeeping and fires the memory trigger.
// The memory trigger uses context.WithoutCancel so it survives the request
// context being torn down once the response has been fully sent.
func (o *Orchestrator) finishTurn(ctx context.Context, conversationID string, meta convstore.ConversationMeta, assistantMsg convstore.Message, assistantText string, memoryEnabled bool, userMessage string) {
	updated := meta
	updated.LastModified = assistantMsg.Timestamp
	var newTitle *string
	if meta.Title == "" || meta.Title == convstore.DefaultTitle {
		title := deriveTitle(userMessage)
		updated.Title = title
		newTitle = &title
	}
	if err := o.conversations.UpdateConversationMeta(ctx, updated); err != nil {
		o.log.Error("orchestrator: updating conversation metadata failed", "conversation_id", conversationID, "error", err)
	}

	bus.Emit(ctx, bus.NewAssistantMessageEvent(assistantText, assistantMsg.SequenceNumber, assistantMsg.Timestamp, newTitle))

	if !memoryEnabled {
		return
	}
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := o.memory.Trigger(bgCtx, conversationID, assistantMsg.SequenceNumber); err != nil {
			o.log.Error("orchestrator: memory trigger failed", "conversation_id", conversationID, "error", err)
		}
	}()
}

func buildWorkflowInput(memCtx memoryservice.ConversationContext, userMsg convstore.Message) []core.Content {
	contents := make([]core.Content, 0, len(memCtx.GapMessages)+2)
	if memCtx.MemoryText != nil && *memCtx.MemoryText != "" {
		contents = append(contents, core.NewSystemText(fmt.Sprintf("Conversation memory summary:\n%s", *memCtx.MemoryText)))
	}
	for _, m := range memCtx.GapMessages {
		if m.Role == convstore.RoleAssistant {
			contents = append(contents, core.NewAssistantText(m.Content))
		} else {
			contents = append(contents, core.NewUserText(m.Content))
		}
	}
	contents = append(contents, core.NewUserText(userMsg.Content))
	return contents
}

// deriveTitle truncates the first user message to maxTitleLen runes,
// trimming back to the last word boundary so the title never ends mid-word.
func deriveTitle(userMessage string) string {
	title := strings.TrimSpace(strings.SplitN(userMessage, "\n", 2)[0])
	if title == "" {
		return convstore.DefaultTitle
	}
	runes := []rune(title)
	if len(runes) > maxTitleLen {
		truncated := string(runes[:maxTitleLen])
		if idx := strings.LastIndexByte(truncated, ' '); idx > 0 {
			truncated = truncated[:idx]
		}
		title = strings.TrimSpace(truncated)
	}
	return title
}
