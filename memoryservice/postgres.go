package memoryservice

import (
	"context"
	"database/sql"
	"errors"

	"github.com/relaymesh/chatmesh/chatmerr"
)

// PostgresStore is the Postgres Store backend selected by
// CHAT_HISTORY_MODE=postgres or CHAT_HISTORY_MODE=redis. It shares its connection pool with
// convstore's PostgresDurable rather than opening its own (via
// convstore.PostgresDurable.DB()).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB (convstore.PostgresDurable
// owns the migration that creates the memory table).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LatestCompleted(ctx context.Context, conversationID string) (*Record, error) {
	var r Record
	var status string
	var baseID sql.NullInt64
	var genMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT memory_id, conversation_id, memory_text, start_sequence, end_sequence, base_memory_id, status, created_at, generation_time_ms
		FROM memory WHERE conversation_id = $1 AND status = 'completed'
		ORDER BY end_sequence DESC LIMIT 1`, conversationID).
		Scan(&r.MemoryID, &r.ConversationID, &r.MemoryText, &r.StartSequence, &r.EndSequence, &baseID, &status, &r.CreatedAt, &genMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "querying latest completed memory", err)
	}
	r.Status = Status(status)
	if baseID.Valid {
		id := baseID.Int64
		r.BaseMemoryID = &id
	}
	if genMs.Valid {
		ms := int(genMs.Int64)
		r.GenerationTimeMs = &ms
	}
	return &r, nil
}

func (s *PostgresStore) HasProcessing(ctx context.Context, conversationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory WHERE conversation_id = $1 AND status = 'processing')`,
		conversationID).Scan(&exists)
	if err != nil {
		return false, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "checking processing memory", err)
	}
	return exists, nil
}

// InsertProcessing serializes concurrent triggers for the same conversation
// with a transaction-scoped advisory lock (pg_advisory_xact_lock), then
// performs the existence check and insert inside that lock's scope.
func (s *PostgresStore) InsertProcessing(ctx context.Context, conversationID string, start, end int, baseMemoryID *int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "beginning transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "acquiring conversation lock", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memory WHERE conversation_id = $1 AND status = 'processing')`,
		conversationID).Scan(&exists); err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "checking processing memory", err)
	}
	if exists {
		return 0, chatmerr.New(chatmerr.KindPermanent, "memoryservice", "a processing memory record already exists for this conversation")
	}

	var memoryID int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO memory (conversation_id, memory_text, start_sequence, end_sequence, base_memory_id, status)
		VALUES ($1, '', $2, $3, $4, 'processing')
		RETURNING memory_id`,
		conversationID, start, end, baseMemoryID).Scan(&memoryID); err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "inserting processing memory", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "committing processing memory insert", err)
	}
	return memoryID, nil
}

func (s *PostgresStore) CompleteMemory(ctx context.Context, memoryID int64, text string, generationMs int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memory SET status = 'completed', memory_text = $1, generation_time_ms = $2
		WHERE memory_id = $3`, text, generationMs, memoryID)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "completing memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "checking rows affected", err)
	}
	if n == 0 {
		return chatmerr.New(chatmerr.KindNotFound, "memoryservice", "memory record not found")
	}
	return nil
}

func (s *PostgresStore) FailMemory(ctx context.Context, memoryID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memory SET status = 'failed' WHERE memory_id = $1`, memoryID)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "failing memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "memoryservice", "checking rows affected", err)
	}
	if n == 0 {
		return chatmerr.New(chatmerr.KindNotFound, "memoryservice", "memory record not found")
	}
	return nil
}
