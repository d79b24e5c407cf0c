package convstore

import "context"

// Durable is the record-of-truth backend: every write must succeed here
// before the cache is touched.
type Durable interface {
	CreateConversation(ctx context.Context, meta ConversationMeta) error
	GetConversation(ctx context.Context, conversationID string) (Conversation, error)
	ListConversations(ctx context.Context, userClientID string) ([]ConversationMeta, error)
	UpdateConversationMeta(ctx context.Context, meta ConversationMeta) error
	DeleteConversation(ctx context.Context, conversationID string) error

	// ReplaceMessages atomically replaces conversationID's entire message
	// sequence with messages (delete-then-insert).
	ReplaceMessages(ctx context.Context, conversationID string, messages []Message) error
	SetEvaluation(ctx context.Context, conversationID string, seq int, isSatisfy *bool, comment *string) error
}

// Cache is the ephemeral, bounded-TTL frontend.
type Cache interface {
	GetMeta(ctx context.Context, userClientID, conversationID string) (ConversationMeta, bool)
	PutMeta(ctx context.Context, userClientID string, meta ConversationMeta)
	GetMessages(ctx context.Context, conversationID string) ([]Message, bool)
	PutMessages(ctx context.Context, conversationID string, messages []Message)
	Invalidate(ctx context.Context, userClientID, conversationID string)
}

// Store is the interface the rest of the service depends on; orchestrator
// and httpapi never talk to Durable or Cache directly.
type Store interface {
	CreateConversation(ctx context.Context, meta ConversationMeta) error
	GetConversation(ctx context.Context, userClientID, conversationID string) (Conversation, error)
	ListConversations(ctx context.Context, userClientID string) ([]ConversationMeta, error)
	UpdateConversationMeta(ctx context.Context, meta ConversationMeta) error
	DeleteConversation(ctx context.Context, userClientID, conversationID string) error
	AppendMessage(ctx context.Context, userClientID, conversationID string, msg Message) (Message, error)
	SetEvaluation(ctx context.Context, userClientID, conversationID string, seq int, isSatisfy *bool, comment *string) error
}
