package convstore

import (
	"context"
	"sort"
	"sync"

	"github.com/relaymesh/chatmesh/chatmerr"
)

// InMemoryDurable is a volatile Durable implementation storing conversations
// in a process-local map. It is safe for concurrent access and is the
// backend CHAT_HISTORY_MODE=local selects, and what package tests build on.
// Every returned value is a copy, so callers cannot mutate internal state.
type InMemoryDurable struct {
	mu    sync.RWMutex
	convs map[string]Conversation
}

// NewInMemoryDurable constructs an empty in-memory durable backend.
func NewInMemoryDurable() *InMemoryDurable {
	return &InMemoryDurable{convs: make(map[string]Conversation)}
}

func (d *InMemoryDurable) CreateConversation(_ context.Context, meta ConversationMeta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.convs[meta.ConversationID]; exists {
		return chatmerr.New(chatmerr.KindPermanent, "convstore", "conversation already exists")
	}
	d.convs[meta.ConversationID] = Conversation{Meta: meta}
	return nil
}

func (d *InMemoryDurable) GetConversation(_ context.Context, conversationID string) (Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conv, ok := d.convs[conversationID]
	if !ok {
		return Conversation{}, chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	return cloneConversation(conv), nil
}

func (d *InMemoryDurable) ListConversations(_ context.Context, userClientID string) ([]ConversationMeta, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	metas := make([]ConversationMeta, 0)
	for _, conv := range d.convs {
		if conv.Meta.UserClientID == userClientID {
			metas = append(metas, conv.Meta)
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].LastModified.After(metas[j].LastModified) })
	return metas, nil
}

func (d *InMemoryDurable) UpdateConversationMeta(_ context.Context, meta ConversationMeta) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.convs[meta.ConversationID]
	if !ok {
		return chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	conv.Meta = meta
	d.convs[meta.ConversationID] = conv
	return nil
}

func (d *InMemoryDurable) DeleteConversation(_ context.Context, conversationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.convs[conversationID]; !ok {
		return chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	delete(d.convs, conversationID)
	return nil
}

func (d *InMemoryDurable) ReplaceMessages(_ context.Context, conversationID string, messages []Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.convs[conversationID]
	if !ok {
		return chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	conv.Messages = append([]Message(nil), messages...)
	d.convs[conversationID] = conv
	return nil
}

func (d *InMemoryDurable) SetEvaluation(_ context.Context, conversationID string, seq int, isSatisfy *bool, comment *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	conv, ok := d.convs[conversationID]
	if !ok {
		return chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	for i := range conv.Messages {
		if conv.Messages[i].SequenceNumber == seq {
			conv.Messages[i].IsSatisfy = isSatisfy
			conv.Messages[i].Comment = comment
			d.convs[conversationID] = conv
			return nil
		}
	}
	return chatmerr.New(chatmerr.KindNotFound, "convstore", "message not found")
}

func cloneConversation(conv Conversation) Conversation {
	out := Conversation{Meta: conv.Meta, Messages: make([]Message, len(conv.Messages))}
	copy(out.Messages, conv.Messages)
	return out
}

// InMemoryCache is a volatile Cache implementation with no TTL enforcement;
// entries live until explicitly invalidated. Suitable for
// CHAT_HISTORY_MODE=local and for tests exercising WriteThroughStore without
// a real cache miss/backfill cycle.
type InMemoryCache struct {
	mu       sync.RWMutex
	meta     map[string]ConversationMeta
	messages map[string][]Message
}

// NewInMemoryCache constructs an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		meta:     make(map[string]ConversationMeta),
		messages: make(map[string][]Message),
	}
}

func (c *InMemoryCache) GetMeta(_ context.Context, _ string, conversationID string) (ConversationMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.meta[conversationID]
	return meta, ok
}

func (c *InMemoryCache) PutMeta(_ context.Context, _ string, meta ConversationMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta[meta.ConversationID] = meta
}

func (c *InMemoryCache) GetMessages(_ context.Context, conversationID string) ([]Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	messages, ok := c.messages[conversationID]
	if !ok {
		return nil, false
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out, true
}

func (c *InMemoryCache) PutMessages(_ context.Context, conversationID string, messages []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(messages))
	copy(out, messages)
	c.messages[conversationID] = out
}

func (c *InMemoryCache) Invalidate(_ context.Context, _ string, conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.meta, conversationID)
	delete(c.messages, conversationID)
}
