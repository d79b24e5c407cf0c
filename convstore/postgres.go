package convstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/relaymesh/chatmesh/chatmerr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresDurable is the Durable backend of record for CHAT_HISTORY_MODE=postgres.
// It owns the schema in migrations/ (conversations, messages, memory) and is
// also the connection memoryservice's Postgres backend shares.
type PostgresDurable struct {
	db *sql.DB
}

// OpenPostgresDurable opens dsn, runs pending migrations, and returns a ready
// PostgresDurable. The caller owns the returned DB's lifetime via Close.
func OpenPostgresDurable(dsn string) (*PostgresDurable, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "opening postgres connection", err)
	}
	if err := db.Ping(); err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "connecting to postgres", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "running migrations", err)
	}
	return &PostgresDurable{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("building migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("building migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying *sql.DB so memoryservice's Postgres backend can
// share this connection pool instead of opening its own.
func (d *PostgresDurable) DB() *sql.DB { return d.db }

// Close releases the underlying connection pool.
func (d *PostgresDurable) Close() error { return d.db.Close() }

func (d *PostgresDurable) CreateConversation(ctx context.Context, meta ConversationMeta) error {
	overrides, err := marshalOverrides(meta.AgentLevelLLMOverwrite)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "marshaling agent overrides", err)
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, user_client_id, title, model, agent_level_llm_overwrite, created_at, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		meta.ConversationID, meta.UserClientID, meta.Title, meta.Model, overrides, meta.CreatedAt, meta.LastModified)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "inserting conversation", err)
	}
	return nil
}

func (d *PostgresDurable) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	meta, err := d.getMeta(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	messages, err := d.getMessages(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{Meta: meta, Messages: messages}, nil
}

func (d *PostgresDurable) getMeta(ctx context.Context, conversationID string) (ConversationMeta, error) {
	var meta ConversationMeta
	var overrides sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_client_id, title, model, agent_level_llm_overwrite, created_at, last_modified
		FROM conversations WHERE conversation_id = $1`, conversationID).
		Scan(&meta.ConversationID, &meta.UserClientID, &meta.Title, &meta.Model, &overrides, &meta.CreatedAt, &meta.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return ConversationMeta{}, chatmerr.New(chatmerr.KindNotFound, "convstore", "conversation not found")
	}
	if err != nil {
		return ConversationMeta{}, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "querying conversation", err)
	}
	if overrides.Valid {
		if err := json.Unmarshal([]byte(overrides.String), &meta.AgentLevelLLMOverwrite); err != nil {
			return ConversationMeta{}, chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "unmarshaling agent overrides", err)
		}
	}
	return meta, nil
}

func (d *PostgresDurable) getMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT message_id, conversation_id, sequence_number, role, content, timestamp, is_satisfy, comment
		FROM messages WHERE conversation_id = $1 ORDER BY sequence_number ASC`, conversationID)
	if err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "querying messages", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		var role string
		if err := rows.Scan(&msg.MessageID, &msg.ConversationID, &msg.SequenceNumber, &role, &msg.Content, &msg.Timestamp, &msg.IsSatisfy, &msg.Comment); err != nil {
			return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "scanning message row", err)
		}
		msg.Role = Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "iterating message rows", err)
	}
	return messages, nil
}

func (d *PostgresDurable) ListConversations(ctx context.Context, userClientID string) ([]ConversationMeta, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT conversation_id, user_client_id, title, model, agent_level_llm_overwrite, created_at, last_modified
		FROM conversations WHERE user_client_id = $1 ORDER BY last_modified DESC`, userClientID)
	if err != nil {
		return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "querying conversations", err)
	}
	defer rows.Close()

	var metas []ConversationMeta
	for rows.Next() {
		var meta ConversationMeta
		var overrides sql.NullString
		if err := rows.Scan(&meta.ConversationID, &meta.UserClientID, &meta.Title, &meta.Model, &overrides, &meta.CreatedAt, &meta.LastModified); err != nil {
			return nil, chatmerr.Wrap(chatmerr.KindTransient, "convstore", "scanning conversation row", err)
		}
		if overrides.Valid {
			if err := json.Unmarshal([]byte(overrides.String), &meta.AgentLevelLLMOverwrite); err != nil {
				return nil, chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "unmarshaling agent overrides", err)
			}
		}
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

func (d *PostgresDurable) UpdateConversationMeta(ctx context.Context, meta ConversationMeta) error {
	overrides, err := marshalOverrides(meta.AgentLevelLLMOverwrite)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindPermanent, "convstore", "marshaling agent overrides", err)
	}
	res, err := d.db.ExecContext(ctx, `
		UPDATE conversations SET title = $1, model = $2, agent_level_llm_overwrite = $3, last_modified = $4
		WHERE conversation_id = $5`,
		meta.Title, meta.Model, overrides, meta.LastModified, meta.ConversationID)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "updating conversation", err)
	}
	return requireRowAffected(res, "conversation not found")
}

func (d *PostgresDurable) DeleteConversation(ctx context.Context, conversationID string) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "deleting conversation", err)
	}
	return requireRowAffected(res, "conversation not found")
}

// ReplaceMessages deletes conversationID's entire message list and reinserts
// messages inside a single transaction, delete-then-insert
// contract.
func (d *PostgresDurable) ReplaceMessages(ctx context.Context, conversationID string, messages []Message) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "beginning transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "deleting messages", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, sequence_number, role, content, timestamp, is_satisfy, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "preparing message insert", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		if _, err := stmt.ExecContext(ctx, msg.MessageID, conversationID, msg.SequenceNumber, string(msg.Role), msg.Content, msg.Timestamp, msg.IsSatisfy, msg.Comment); err != nil {
			return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "inserting message", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "committing message replace", err)
	}
	return nil
}

func (d *PostgresDurable) SetEvaluation(ctx context.Context, conversationID string, seq int, isSatisfy *bool, comment *string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE messages SET is_satisfy = $1, comment = $2
		WHERE conversation_id = $3 AND sequence_number = $4`,
		isSatisfy, comment, conversationID, seq)
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "updating evaluation", err)
	}
	return requireRowAffected(res, "message not found")
}

func requireRowAffected(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return chatmerr.Wrap(chatmerr.KindTransient, "convstore", "checking rows affected", err)
	}
	if n == 0 {
		return chatmerr.New(chatmerr.KindNotFound, "convstore", notFoundMsg)
	}
	return nil
}

func marshalOverrides(overrides map[string]string) (any, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(overrides)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
