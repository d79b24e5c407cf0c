package convstore

import (
	"context"
	"log/slog"
)

// WriteThroughStore composes a Durable backend of record with an Cache
// frontend, implementing exactly the read/write paths 
// durable-then-cache on write (a cache failure after a successful durable
// write is logged, not propagated); cache-then-durable-backfill on read
// (a backfill failure is logged, not propagated — the read itself still
// succeeds off the durable result).
type WriteThroughStore struct {
	durable Durable
	cache   Cache
	log     *slog.Logger
}

// NewWriteThroughStore builds a WriteThroughStore over durable and cache.
// A nil logger falls back to slog.Default().
func NewWriteThroughStore(durable Durable, cache Cache, log *slog.Logger) *WriteThroughStore {
	if log == nil {
		log = slog.Default()
	}
	return &WriteThroughStore{durable: durable, cache: cache, log: log}
}

func (s *WriteThroughStore) CreateConversation(ctx context.Context, meta ConversationMeta) error {
	if err := s.durable.CreateConversation(ctx, meta); err != nil {
		return err
	}
	s.cache.PutMeta(ctx, meta.UserClientID, meta)
	return nil
}

func (s *WriteThroughStore) GetConversation(ctx context.Context, userClientID, conversationID string) (Conversation, error) {
	meta, metaHit := s.cache.GetMeta(ctx, userClientID, conversationID)
	messages, msgHit := s.cache.GetMessages(ctx, conversationID)
	if metaHit && msgHit {
		return Conversation{Meta: meta, Messages: messages}, nil
	}

	conv, err := s.durable.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}

	s.cache.PutMeta(ctx, conv.Meta.UserClientID, conv.Meta)
	s.cache.PutMessages(ctx, conversationID, conv.Messages)
	return conv, nil
}

func (s *WriteThroughStore) ListConversations(ctx context.Context, userClientID string) ([]ConversationMeta, error) {
	return s.durable.ListConversations(ctx, userClientID)
}

func (s *WriteThroughStore) UpdateConversationMeta(ctx context.Context, meta ConversationMeta) error {
	if err := s.durable.UpdateConversationMeta(ctx, meta); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, meta.UserClientID, meta.ConversationID)
	s.cache.PutMeta(ctx, meta.UserClientID, meta)
	return nil
}

func (s *WriteThroughStore) DeleteConversation(ctx context.Context, userClientID, conversationID string) error {
	if err := s.durable.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userClientID, conversationID)
	return nil
}

// AppendMessage assigns the next sequence number, replaces the durable
// message list wholesale (delete-then-insert), and
// refreshes the cached list on success.
func (s *WriteThroughStore) AppendMessage(ctx context.Context, userClientID, conversationID string, msg Message) (Message, error) {
	conv, err := s.GetConversation(ctx, userClientID, conversationID)
	if err != nil {
		return Message{}, err
	}

	msg.ConversationID = conversationID
	msg.SequenceNumber = len(conv.Messages)
	updated := append(conv.Messages, msg)

	if err := s.durable.ReplaceMessages(ctx, conversationID, updated); err != nil {
		return Message{}, err
	}
	s.cache.PutMessages(ctx, conversationID, updated)
	return msg, nil
}

func (s *WriteThroughStore) SetEvaluation(ctx context.Context, userClientID, conversationID string, seq int, isSatisfy *bool, comment *string) error {
	if err := s.durable.SetEvaluation(ctx, conversationID, seq, isSatisfy, comment); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userClientID, conversationID)
	return nil
}
