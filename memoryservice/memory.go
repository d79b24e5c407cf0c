package memoryservice

import (
	"context"
	"sync"

	"github.com/relaymesh/chatmesh/chatmerr"
)

// InMemoryStore is a volatile Store implementation storing memory chains in
// a process-local map, one slice per conversation ordered by insertion.
// Safe for concurrent access; selected by CHAT_HISTORY_MODE=local and used
// directly by package tests.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string][]*Record // conversationID -> records, oldest first
	nextID  int64
}

// NewInMemoryStore constructs an empty in-memory memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]*Record)}
}

func (s *InMemoryStore) LatestCompleted(_ context.Context, conversationID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Record
	for _, r := range s.records[conversationID] {
		if r.Status != StatusCompleted {
			continue
		}
		if latest == nil || r.EndSequence > latest.EndSequence {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s *InMemoryStore) HasProcessing(_ context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasProcessingLocked(conversationID), nil
}

func (s *InMemoryStore) hasProcessingLocked(conversationID string) bool {
	for _, r := range s.records[conversationID] {
		if r.Status == StatusProcessing {
			return true
		}
	}
	return false
}

func (s *InMemoryStore) InsertProcessing(_ context.Context, conversationID string, start, end int, baseMemoryID *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasProcessingLocked(conversationID) {
		return 0, chatmerr.New(chatmerr.KindPermanent, "memoryservice", "a processing memory record already exists for this conversation")
	}
	s.nextID++
	rec := &Record{
		MemoryID:       s.nextID,
		ConversationID: conversationID,
		StartSequence:  start,
		EndSequence:    end,
		BaseMemoryID:   baseMemoryID,
		Status:         StatusProcessing,
	}
	s.records[conversationID] = append(s.records[conversationID], rec)
	return rec.MemoryID, nil
}

func (s *InMemoryStore) CompleteMemory(_ context.Context, memoryID int64, text string, generationMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findLocked(memoryID)
	if rec == nil {
		return chatmerr.New(chatmerr.KindNotFound, "memoryservice", "memory record not found")
	}
	rec.Status = StatusCompleted
	rec.MemoryText = text
	ms := generationMs
	rec.GenerationTimeMs = &ms
	return nil
}

func (s *InMemoryStore) FailMemory(_ context.Context, memoryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findLocked(memoryID)
	if rec == nil {
		return chatmerr.New(chatmerr.KindNotFound, "memoryservice", "memory record not found")
	}
	rec.Status = StatusFailed
	return nil
}

func (s *InMemoryStore) findLocked(memoryID int64) *Record {
	for _, byConv := range s.records {
		for _, r := range byConv {
			if r.MemoryID == memoryID {
				return r
			}
		}
	}
	return nil
}
