package chattest

import (
	"time"

	"github.com/relaymesh/chatmesh/bus"
)

// EventBuilder provides a fluent helper for constructing bus.Event values in
// tests without repeating time.Now() and zero-value payload plumbing.
//
//	ev := NewEventBuilder().Seq(3).UserMessage("hi")
type EventBuilder struct {
	seq int
	at  time.Time
}

// NewEventBuilder creates a builder defaulting Seq to 0 and At to now.
func NewEventBuilder() *EventBuilder {
	return &EventBuilder{at: time.Now()}
}

// Seq sets the sequence number used by UserMessage/AssistantMessage/Stream (chainable).
func (b *EventBuilder) Seq(seq int) *EventBuilder { b.seq = seq; return b }

// At sets the timestamp used by UserMessage/AssistantMessage (chainable).
func (b *EventBuilder) At(t time.Time) *EventBuilder { b.at = t; return b }

// UserMessage builds an EventUserMessage.
func (b *EventBuilder) UserMessage(content string) bus.Event {
	return bus.NewUserMessageEvent(content, b.seq, b.at)
}

// AssistantMessage builds an EventAssistantMessage, optionally carrying a
// derived conversation title.
func (b *EventBuilder) AssistantMessage(content string, title *string) bus.Event {
	return bus.NewAssistantMessageEvent(content, b.seq, b.at, title)
}

// AgentInvoked builds an EventAgentInvoked.
func (b *EventBuilder) AgentInvoked(name string) bus.Event {
	return bus.NewAgentInvokedEvent(name)
}

// AgentFinished builds an EventAgentFinished.
func (b *EventBuilder) AgentFinished(name, modelName string, usage *bus.Usage, execMs int64, output interface{}) bus.Event {
	return bus.NewAgentFinishedEvent(name, modelName, usage, execMs, output)
}

// FunctionStart builds an EventFunctionStart.
func (b *EventBuilder) FunctionStart(name, arguments string) bus.Event {
	return bus.NewFunctionStartEvent(name, arguments)
}

// FunctionEnd builds an EventFunctionEnd.
func (b *EventBuilder) FunctionEnd(name, result string) bus.Event {
	return bus.NewFunctionEndEvent(name, result)
}

// Stream builds an EventStream.
func (b *EventBuilder) Stream(executorID, text string) bus.Event {
	return bus.NewStreamEvent(executorID, text, b.seq)
}

// Done returns the terminator sentinel.
func (b *EventBuilder) Done() bus.Event { return bus.DoneEvent }
