package memoryservice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/chatmerr"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/core"
)

// DefaultRollingWindowSize is the number of messages a completed memory's
// window must cover before alignment (7 rounds).
const DefaultRollingWindowSize = 14

// DefaultSummarizeAfterSeq is the minimum assistant sequence number that
// triggers summarization.
const DefaultSummarizeAfterSeq = 5

// ConversationReader is the narrow read surface the summarization
// background task needs: the full, durable message list for a
// conversation, independent of any per-user cache key. Satisfied by
// convstore.Durable.
type ConversationReader interface {
	GetConversation(ctx context.Context, conversationID string) (convstore.Conversation, error)
}

// Config configures a Service.
type Config struct {
	Store             Store
	Conversations     ConversationReader
	SummarizerAgent   agent.Runner
	RollingWindowSize int
	SummarizeAfterSeq int
	Logger            *slog.Logger
}

// Service implements the memory service's trigger and read contracts.
type Service struct {
	store             Store
	conversations     ConversationReader
	summarizer        agent.Runner
	rollingWindowSize int
	summarizeAfterSeq int
	log               *slog.Logger
}

// New constructs a Service, applying default window/threshold values when
// cfg leaves them at zero.
func New(cfg Config) *Service {
	windowSize := cfg.RollingWindowSize
	if windowSize <= 0 {
		windowSize = DefaultRollingWindowSize
	}
	threshold := cfg.SummarizeAfterSeq
	if threshold <= 0 {
		threshold = DefaultSummarizeAfterSeq
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:             cfg.Store,
		conversations:     cfg.Conversations,
		summarizer:        cfg.SummarizerAgent,
		rollingWindowSize: windowSize,
		summarizeAfterSeq: threshold,
		log:               log,
	}
}

// Trigger implements the five-step trigger contract. It returns quickly:
// steps 1-4 run synchronously, step 5 (the actual summarization) is spawned
// as a detached background task not tied to ctx's cancellation, since
// summarization must survive client disconnect.
func (s *Service) Trigger(ctx context.Context, conversationID string, assistantSeq int) error {
	if assistantSeq < s.summarizeAfterSeq {
		return nil
	}

	end := assistantSeq
	start := end - s.rollingWindowSize + 1
	if start < 0 {
		start = 0
	}
	if start%2 != 0 {
		start++
	}

	base, err := s.store.LatestCompleted(ctx, conversationID)
	if err != nil {
		return err
	}
	var baseID *int64
	if base != nil {
		baseID = &base.MemoryID
	}

	memoryID, err := s.store.InsertProcessing(ctx, conversationID, start, end, baseID)
	if err != nil {
		if chatmerr.KindOf(err) == chatmerr.KindPermanent {
			return nil
		}
		return err
	}

	go s.summarize(context.WithoutCancel(ctx), conversationID, memoryID, start, end, base)
	return nil
}

func (s *Service) summarize(ctx context.Context, conversationID string, memoryID int64, start, end int, base *Record) {
	readFrom := start
	if base != nil {
		readFrom = base.EndSequence + 1
	}

	conv, err := s.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		s.log.Error("memoryservice: reading conversation for summarization failed", "conversation_id", conversationID, "memory_id", memoryID, "error", err)
		s.failMemory(ctx, memoryID)
		return
	}

	window := messagesInRange(conv.Messages, readFrom, end)

	contents := make([]core.Content, 0, len(window)+2)
	if base != nil && base.MemoryText != "" {
		contents = append(contents, core.NewUserText(fmt.Sprintf("Previous summary:\n%s", base.MemoryText)))
	}
	for _, m := range window {
		if m.Role == convstore.RoleAssistant {
			contents = append(contents, core.NewAssistantText(m.Content))
		} else {
			contents = append(contents, core.NewUserText(m.Content))
		}
	}
	contents = append(contents, core.NewUserText(fmt.Sprintf(
		"Summarize the conversation above into a concise rolling summary. Drop any content before message sequence %d.", start)))

	started := time.Now()
	resp, err := agent.Collect(s.summarizer.RunStream(ctx, contents))
	if err != nil {
		s.log.Error("memoryservice: summarization agent failed", "conversation_id", conversationID, "memory_id", memoryID, "error", err)
		s.failMemory(ctx, memoryID)
		return
	}
	generationMs := int(time.Since(started).Milliseconds())

	if err := s.store.CompleteMemory(ctx, memoryID, resp.Text, generationMs); err != nil {
		s.log.Error("memoryservice: completing memory record failed", "conversation_id", conversationID, "memory_id", memoryID, "error", err)
	}
}

func (s *Service) failMemory(ctx context.Context, memoryID int64) {
	if err := s.store.FailMemory(ctx, memoryID); err != nil {
		s.log.Error("memoryservice: marking memory record failed also failed", "memory_id", memoryID, "error", err)
	}
}

// Read implements the three-step read contract.
func (s *Service) Read(ctx context.Context, conversationID string, messages []convstore.Message) (ConversationContext, error) {
	latest, err := s.store.LatestCompleted(ctx, conversationID)
	if err != nil {
		return ConversationContext{}, err
	}
	if latest == nil {
		if len(messages) == 0 {
			return ConversationContext{GapMessages: nil}, nil
		}
		return ConversationContext{GapMessages: messages[:len(messages)-1]}, nil
	}

	uptoSeq := -1
	if len(messages) > 0 {
		uptoSeq = messages[len(messages)-1].SequenceNumber - 1
	}
	gap := messagesAfter(messages, latest.EndSequence, uptoSeq)
	text := latest.MemoryText
	return ConversationContext{MemoryText: &text, GapMessages: gap}, nil
}

func messagesInRange(messages []convstore.Message, start, end int) []convstore.Message {
	var out []convstore.Message
	for _, m := range messages {
		if m.SequenceNumber >= start && m.SequenceNumber <= end {
			out = append(out, m)
		}
	}
	return out
}

// messagesAfter returns the messages with sequence numbers in
// (afterSeq, uptoSeq], per the read contract's gap = messages[latest.end+1 .. len-2].
func messagesAfter(messages []convstore.Message, afterSeq, uptoSeq int) []convstore.Message {
	if uptoSeq < 0 {
		return nil
	}
	var out []convstore.Message
	for _, m := range messages {
		if m.SequenceNumber > afterSeq && m.SequenceNumber <= uptoSeq {
			out = append(out, m)
		}
	}
	return out
}
