package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is the bounded lifetime of a cached conversation entry.
const DefaultCacheTTL = 30 * time.Minute

// RedisCacheConfig holds the Redis connection configuration for a RedisCache.
type RedisCacheConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	TTL          time.Duration
}

// DefaultRedisCacheConfig returns sane defaults for a local Redis instance.
func DefaultRedisCacheConfig() RedisCacheConfig {
	return RedisCacheConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		TTL:          DefaultCacheTTL,
	}
}

// RedisCache is the ephemeral Cache backend CHAT_HISTORY_MODE=redis selects.
// Cache-side failures are logged and treated as a miss rather than
// propagated, per the write-through contract's "cache failures are
// always-non-fatal" design (WriteThroughStore never sees a cache error).
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewRedisCache dials cfg.Addr without blocking on connectivity; the first
// call surfaces any dial error through its own failure path.
func NewRedisCache(cfg RedisCacheConfig, log *slog.Logger) *RedisCache {
	if log == nil {
		log = slog.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return &RedisCache{client: client, ttl: ttl, log: log}
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error { return c.client.Close() }

func metaKey(userClientID, conversationID string) string {
	return fmt.Sprintf("conv:meta:%s:%s", userClientID, conversationID)
}

func messagesKey(conversationID string) string {
	return fmt.Sprintf("conv:msgs:%s", conversationID)
}

func (c *RedisCache) GetMeta(ctx context.Context, userClientID, conversationID string) (ConversationMeta, bool) {
	data, err := c.client.Get(ctx, metaKey(userClientID, conversationID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("convstore: redis meta read failed", "conversation_id", conversationID, "error", err)
		}
		return ConversationMeta{}, false
	}
	var meta ConversationMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		c.log.Warn("convstore: redis meta unmarshal failed", "conversation_id", conversationID, "error", err)
		return ConversationMeta{}, false
	}
	return meta, true
}

func (c *RedisCache) PutMeta(ctx context.Context, userClientID string, meta ConversationMeta) {
	data, err := json.Marshal(meta)
	if err != nil {
		c.log.Warn("convstore: redis meta marshal failed", "conversation_id", meta.ConversationID, "error", err)
		return
	}
	if err := c.client.Set(ctx, metaKey(userClientID, meta.ConversationID), data, c.ttl).Err(); err != nil {
		c.log.Warn("convstore: redis meta write failed", "conversation_id", meta.ConversationID, "error", err)
	}
}

func (c *RedisCache) GetMessages(ctx context.Context, conversationID string) ([]Message, bool) {
	data, err := c.client.Get(ctx, messagesKey(conversationID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("convstore: redis messages read failed", "conversation_id", conversationID, "error", err)
		}
		return nil, false
	}
	var messages []Message
	if err := json.Unmarshal(data, &messages); err != nil {
		c.log.Warn("convstore: redis messages unmarshal failed", "conversation_id", conversationID, "error", err)
		return nil, false
	}
	return messages, true
}

func (c *RedisCache) PutMessages(ctx context.Context, conversationID string, messages []Message) {
	data, err := json.Marshal(messages)
	if err != nil {
		c.log.Warn("convstore: redis messages marshal failed", "conversation_id", conversationID, "error", err)
		return
	}
	if err := c.client.Set(ctx, messagesKey(conversationID), data, c.ttl).Err(); err != nil {
		c.log.Warn("convstore: redis messages write failed", "conversation_id", conversationID, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, userClientID, conversationID string) {
	if err := c.client.Del(ctx, metaKey(userClientID, conversationID), messagesKey(conversationID)).Err(); err != nil {
		c.log.Warn("convstore: redis invalidate failed", "conversation_id", conversationID, "error", err)
	}
}
