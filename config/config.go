// Package config loads process configuration from the environment (and,
// through cmd/server, command-line flags) into a typed Config, the way
// hrygo-memos's server binds its own settings before any component starts.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relaymesh/chatmesh/chatmerr"
)

// HistoryMode selects the Conversation Store's durable/cache backend pair.
type HistoryMode string

const (
	HistoryModeLocal    HistoryMode = "local"
	HistoryModePostgres HistoryMode = "postgres"
	HistoryModeRedis    HistoryMode = "redis"
)

// Config is the fully-resolved process configuration, bound from
// environment variables plus the connection settings and per-boundary
// timeouts a deployment needs but the base environment table leaves
// unnamed.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// ChatHistoryMode selects the Conversation Store backend.
	ChatHistoryMode HistoryMode
	// DynamicPlan selects the dynamic (plan/review) workflow as the
	// default when a request does not specify react_mode.
	DynamicPlan bool
	// ShowFuncResult controls whether GET /api/settings advertises tool
	// call results to the UI.
	ShowFuncResult bool

	// MemoryRollingWindowSize is the number of messages a memory summary
	// window spans, ending at the triggering assistant message.
	MemoryRollingWindowSize int
	// MemorySummarizeAfterSeq is the minimum assistant sequence number
	// before the memory service will summarize a conversation.
	MemorySummarizeAfterSeq int
	// MemoryModel names the model the memory summarizer agent runs on.
	MemoryModel string

	// PostgresDSN configures the Postgres durable backend
	// (ChatHistoryMode == postgres or redis), which also holds the memory
	// service's records in those modes; local mode does not use it.
	PostgresDSN string

	// RedisAddr, RedisPassword, RedisDB configure the Redis cache backend
	// (ChatHistoryMode == redis).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AnthropicAPIKey and OpenAIAPIKey select which LLM adapter(s) are
	// usable; cmd/server picks a default provider from whichever is set.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// LLMTimeout, ToolTimeout, and WorkflowTimeout bound a single LLM call,
	// a single tool call, and an entire workflow run, respectively.
	LLMTimeout      time.Duration
	ToolTimeout     time.Duration
	WorkflowTimeout time.Duration
}

// Default returns Config populated with its stated defaults, before
// any environment or flag override is applied.
func Default() Config {
	return Config{
		Addr:                    ":8080",
		ChatHistoryMode:         HistoryModeLocal,
		DynamicPlan:             false,
		ShowFuncResult:          false,
		MemoryRollingWindowSize: 14,
		MemorySummarizeAfterSeq: 5,
		MemoryModel:             "claude-3-5-sonnet-20241022",
		RedisAddr:               "localhost:6379",
		LLMTimeout:              120 * time.Second,
		ToolTimeout:             60 * time.Second,
		WorkflowTimeout:         180 * time.Second,
	}
}

// Load builds a viper instance bound to the service's environment variables
// (with a CHATMESH_ prefix for the connection and timeout settings) and
// returns the resolved Config. cmd/server calls this once at startup and
// then layers any cobra flag overrides on top.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chat_history_mode", string(cfg.ChatHistoryMode))
	v.SetDefault("dynamic_plan", cfg.DynamicPlan)
	v.SetDefault("show_func_result", cfg.ShowFuncResult)
	v.SetDefault("memory_rolling_window", cfg.MemoryRollingWindowSize)
	v.SetDefault("memory_summarize_after_seq", cfg.MemorySummarizeAfterSeq)
	v.SetDefault("memory_model", cfg.MemoryModel)

	v.SetDefault("chatmesh_addr", cfg.Addr)
	v.SetDefault("chatmesh_postgres_dsn", "")
	v.SetDefault("chatmesh_redis_addr", cfg.RedisAddr)
	v.SetDefault("chatmesh_redis_password", "")
	v.SetDefault("chatmesh_redis_db", 0)
	v.SetDefault("chatmesh_anthropic_api_key", "")
	v.SetDefault("chatmesh_openai_api_key", "")
	v.SetDefault("chatmesh_llm_timeout", cfg.LLMTimeout.String())
	v.SetDefault("chatmesh_tool_timeout", cfg.ToolTimeout.String())
	v.SetDefault("chatmesh_workflow_timeout", cfg.WorkflowTimeout.String())

	mode := HistoryMode(v.GetString("chat_history_mode"))
	switch mode {
	case HistoryModeLocal, HistoryModePostgres, HistoryModeRedis:
		cfg.ChatHistoryMode = mode
	default:
		return Config{}, chatmerr.New(chatmerr.KindPermanent, "config",
			"CHAT_HISTORY_MODE must be one of local, postgres, redis, got "+string(mode))
	}

	cfg.DynamicPlan = v.GetBool("dynamic_plan")
	cfg.ShowFuncResult = v.GetBool("show_func_result")
	cfg.MemoryRollingWindowSize = v.GetInt("memory_rolling_window")
	cfg.MemorySummarizeAfterSeq = v.GetInt("memory_summarize_after_seq")
	cfg.MemoryModel = v.GetString("memory_model")

	cfg.Addr = v.GetString("chatmesh_addr")
	cfg.PostgresDSN = v.GetString("chatmesh_postgres_dsn")
	cfg.RedisAddr = v.GetString("chatmesh_redis_addr")
	cfg.RedisPassword = v.GetString("chatmesh_redis_password")
	cfg.RedisDB = v.GetInt("chatmesh_redis_db")
	cfg.AnthropicAPIKey = v.GetString("chatmesh_anthropic_api_key")
	cfg.OpenAIAPIKey = v.GetString("chatmesh_openai_api_key")

	llmTimeout, err := parseDurationField(v, "chatmesh_llm_timeout")
	if err != nil {
		return Config{}, err
	}
	toolTimeout, err := parseDurationField(v, "chatmesh_tool_timeout")
	if err != nil {
		return Config{}, err
	}
	workflowTimeout, err := parseDurationField(v, "chatmesh_workflow_timeout")
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout = llmTimeout
	cfg.ToolTimeout = toolTimeout
	cfg.WorkflowTimeout = workflowTimeout

	return cfg, nil
}

func parseDurationField(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, chatmerr.Wrap(chatmerr.KindPermanent, "config", "parsing "+key, err)
	}
	return d, nil
}
