// Package memoryservice implements the sliding-window summarizer: a
// background, database-serialized job that compresses old conversation
// turns into a rolling summary with a version chain and a
// graceful-degradation read path.
package memoryservice

import (
	"time"

	"github.com/relaymesh/chatmesh/convstore"
)

// Status is a memory record's lifecycle state.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one row in the memory chain for a conversation.
type Record struct {
	MemoryID         int64
	ConversationID   string
	MemoryText       string
	StartSequence    int
	EndSequence      int
	BaseMemoryID     *int64
	Status           Status
	CreatedAt        time.Time
	GenerationTimeMs *int
}

// ConversationContext is what the Read contract hands back to the
// orchestrator: the latest summary text (if any) plus the messages that
// fall in the gap between that summary and the current turn.
type ConversationContext struct {
	MemoryText  *string
	GapMessages []convstore.Message
}
