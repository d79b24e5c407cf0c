package bus

import "time"

// EventType tags the concrete shape carried by an Event.
type EventType string

const (
	// EventUserMessage echoes the just-saved user message.
	EventUserMessage EventType = "user_message"
	// EventAgentInvoked marks the start of an agent invocation.
	EventAgentInvoked EventType = "agent_invoked"
	// EventAgentFinished marks the end of an agent invocation.
	EventAgentFinished EventType = "agent_finished"
	// EventFunctionStart marks the start of a tool call.
	EventFunctionStart EventType = "function_start"
	// EventFunctionEnd marks the end of a tool call.
	EventFunctionEnd EventType = "function_end"
	// EventStream carries an incremental text chunk from a streaming executor.
	EventStream EventType = "stream"
	// EventAssistantMessage carries the final answer for the turn.
	EventAssistantMessage EventType = "assistant_message"
	// EventDone is the terminator sentinel; no further events follow it.
	EventDone EventType = "done"
)

// Event is a tagged record published onto the request bus. Exactly one of
// the payload fields is populated, selected by Type.
type Event struct {
	Type EventType `json:"type"`

	UserMessage      *UserMessagePayload      `json:"user_message,omitempty"`
	AgentInvoked     *AgentInvokedPayload     `json:"agent_invoked,omitempty"`
	AgentFinished    *AgentFinishedPayload    `json:"agent_finished,omitempty"`
	FunctionStart    *FunctionStartPayload    `json:"function_start,omitempty"`
	FunctionEnd      *FunctionEndPayload      `json:"function_end,omitempty"`
	Stream           *StreamPayload           `json:"stream,omitempty"`
	AssistantMessage *AssistantMessagePayload `json:"assistant_message,omitempty"`
}

// UserMessagePayload echoes the saved user message.
type UserMessagePayload struct {
	Content string    `json:"content"`
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
}

// AgentInvokedPayload announces an agent invocation starting.
type AgentInvokedPayload struct {
	Name string `json:"name"`
}

// AgentFinishedPayload announces an agent invocation completing. Output is
// populated only for orchestration agents (triage, plan, replan, review,
// clarify, summary) so the UI can render their decision trace.
type AgentFinishedPayload struct {
	Name            string      `json:"name"`
	Model           string      `json:"model"`
	Usage           *Usage      `json:"usage,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	Output          interface{} `json:"output,omitempty"`
}

// Usage mirrors model.TokenUsage without importing the model package, so bus
// stays a leaf dependency (spec keeps the bus independent of any provider).
type Usage struct {
	PromptTokens     int `json:"input_tokens"`
	CompletionTokens int `json:"output_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FunctionStartPayload announces a tool call starting.
type FunctionStartPayload struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FunctionEndPayload announces a tool call completing, successfully or not.
type FunctionEndPayload struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// StreamPayload carries an incremental text chunk from a streaming executor.
type StreamPayload struct {
	ExecutorID string `json:"executor_id"`
	Text       string `json:"text"`
	Seq        int    `json:"seq"`
}

// AssistantMessagePayload carries the final answer for the turn.
type AssistantMessagePayload struct {
	Content string    `json:"content"`
	Seq     int       `json:"seq"`
	Time    time.Time `json:"time"`
	Title   *string   `json:"title,omitempty"`
}

// NewUserMessageEvent constructs an EventUserMessage.
func NewUserMessageEvent(content string, seq int, at time.Time) Event {
	return Event{Type: EventUserMessage, UserMessage: &UserMessagePayload{Content: content, Seq: seq, Time: at}}
}

// NewAgentInvokedEvent constructs an EventAgentInvoked.
func NewAgentInvokedEvent(name string) Event {
	return Event{Type: EventAgentInvoked, AgentInvoked: &AgentInvokedPayload{Name: name}}
}

// NewAgentFinishedEvent constructs an EventAgentFinished.
func NewAgentFinishedEvent(name, modelName string, usage *Usage, execMs int64, output interface{}) Event {
	return Event{Type: EventAgentFinished, AgentFinished: &AgentFinishedPayload{
		Name: name, Model: modelName, Usage: usage, ExecutionTimeMs: execMs, Output: output,
	}}
}

// NewFunctionStartEvent constructs an EventFunctionStart.
func NewFunctionStartEvent(name, arguments string) Event {
	return Event{Type: EventFunctionStart, FunctionStart: &FunctionStartPayload{Name: name, Arguments: arguments}}
}

// NewFunctionEndEvent constructs an EventFunctionEnd.
func NewFunctionEndEvent(name, result string) Event {
	return Event{Type: EventFunctionEnd, FunctionEnd: &FunctionEndPayload{Name: name, Result: result}}
}

// NewStreamEvent constructs an EventStream.
func NewStreamEvent(executorID, text string, seq int) Event {
	return Event{Type: EventStream, Stream: &StreamPayload{ExecutorID: executorID, Text: text, Seq: seq}}
}

// NewAssistantMessageEvent constructs an EventAssistantMessage.
func NewAssistantMessageEvent(content string, seq int, at time.Time, title *string) Event {
	return Event{Type: EventAssistantMessage, AssistantMessage: &AssistantMessagePayload{
		Content: content, Seq: seq, Time: at, Title: title,
	}}
}

// DoneEvent is the terminator sentinel.
var DoneEvent = Event{Type: EventDone}
