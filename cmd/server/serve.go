package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/relaymesh/chatmesh/agent"
	"github.com/relaymesh/chatmesh/config"
	"github.com/relaymesh/chatmesh/convstore"
	"github.com/relaymesh/chatmesh/httpapi"
	"github.com/relaymesh/chatmesh/memoryservice"
	"github.com/relaymesh/chatmesh/model"
	"github.com/relaymesh/chatmesh/model/anthropic"
	"github.com/relaymesh/chatmesh/model/openai"
	"github.com/relaymesh/chatmesh/orchestrator"
	"github.com/relaymesh/chatmesh/workflow/dynamic"
	"github.com/relaymesh/chatmesh/workflow/triage"
)

// runServe wires config -> models -> agents -> workflow graphs ->
// conversation store -> memory service -> orchestrator -> HTTP router, then
// serves until ctx is cancelled (SIGINT/SIGTERM).
func runServe(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	defaultModel, err := defaultLLMModel(cfg)
	if err != nil {
		return err
	}
	memoryModel, err := namedLLMModel(cfg, cfg.MemoryModel)
	if err != nil {
		return err
	}

	subAgents := buildSubAgents(defaultModel)

	triageGraph, err := triage.New(triage.Config{
		TriageModel:       defaultModel,
		SummaryModel:      defaultModel,
		SubAgents:         subAgents,
		CapabilitySummary: capabilitySummary,
	})
	if err != nil {
		return fmt.Errorf("building triage workflow: %w", err)
	}
	dynamicGraph, err := dynamic.New(dynamic.Config{
		PlanModel:         defaultModel,
		ReplanModel:       defaultModel,
		ReviewModel:       defaultModel,
		SummaryModel:      defaultModel,
		SubAgents:         subAgents,
		CapabilitySummary: capabilitySummary,
	})
	if err != nil {
		return fmt.Errorf("building dynamic workflow: %w", err)
	}

	backend, closeBackend, err := buildBackend(cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	store := convstore.NewWriteThroughStore(backend.durable, backend.cache, log)
	mem := memoryservice.New(memoryservice.Config{
		Store:             backend.memoryStore,
		Conversations:     backend.durable,
		SummarizerAgent:   agent.New("memory_summarizer", memoryModel),
		RollingWindowSize: cfg.MemoryRollingWindowSize,
		SummarizeAfterSeq: cfg.MemorySummarizeAfterSeq,
		Logger:            log,
	})

	orch := orchestrator.New(orchestrator.Config{
		Conversations:   store,
		Memory:          mem,
		TriageWorkflow:  triageGraph,
		DynamicWorkflow: dynamicGraph,
		WorkflowTimeout: cfg.WorkflowTimeout,
		Logger:          log,
	})

	handlers := &httpapi.Handlers{
		Orchestrator:     orch,
		Conversations:    store,
		Models:           []string{defaultModel.Info().Name},
		TriageAgents:     sortedAgentKeys(subAgents),
		DynamicAgents:    sortedAgentKeys(subAgents),
		ShowFuncResult:   cfg.ShowFuncResult,
		DefaultReactMode: cfg.DynamicPlan,
		Log:              log,
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("chatmesh: listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("chatmesh: shutting down")
	return server.Shutdown(shutdownCtx)
}

// notifyContext returns a context cancelled on SIGINT/SIGTERM.
func notifyContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func defaultLLMModel(cfg config.Config) (model.Model, error) {
	switch {
	case cfg.AnthropicAPIKey != "":
		return anthropic.NewModel(func(o *anthropic.Options) { o.APIKey = cfg.AnthropicAPIKey }), nil
	case cfg.OpenAIAPIKey != "":
		return openai.NewModel(), nil
	default:
		return nil, fmt.Errorf("no LLM provider configured: set CHATMESH_ANTHROPIC_API_KEY or CHATMESH_OPENAI_API_KEY")
	}
}

// namedLLMModel resolves MEMORY_MODEL to a provider adapter by prefix
// ("claude*" -> Anthropic, anything else -> OpenAI when configured),
// falling back to whichever provider defaultLLMModel already selected. The
// adapters' own Options.Model default is used rather than parsing name into
// a provider-specific model constant.
func namedLLMModel(cfg config.Config, name string) (model.Model, error) {
	switch {
	case len(name) >= 6 && name[:6] == "claude" && cfg.AnthropicAPIKey != "":
		return anthropic.NewModel(func(o *anthropic.Options) { o.APIKey = cfg.AnthropicAPIKey }), nil
	case cfg.OpenAIAPIKey != "":
		return openai.NewModel(), nil
	default:
		return defaultLLMModel(cfg)
	}
}

// backend bundles the Conversation Store's Durable/Cache pair with the
// Memory Service's own store, sharing a single Postgres connection pool
// across both when CHAT_HISTORY_MODE selects a durable backend.
type backend struct {
	durable     convstore.Durable
	cache       convstore.Cache
	memoryStore memoryservice.Store
}

func buildBackend(cfg config.Config, log *slog.Logger) (backend, func(), error) {
	switch cfg.ChatHistoryMode {
	case config.HistoryModeLocal:
		durable := convstore.NewInMemoryDurable()
		return backend{
			durable:     durable,
			cache:       convstore.NewInMemoryCache(),
			memoryStore: memoryservice.NewInMemoryStore(),
		}, func() {}, nil
	case config.HistoryModePostgres:
		pg, err := convstore.OpenPostgresDurable(cfg.PostgresDSN)
		if err != nil {
			return backend{}, nil, err
		}
		return backend{
			durable:     pg,
			cache:       convstore.NewInMemoryCache(),
			memoryStore: memoryservice.NewPostgresStore(pg.DB()),
		}, func() { _ = pg.Close() }, nil
	case config.HistoryModeRedis:
		pg, err := convstore.OpenPostgresDurable(cfg.PostgresDSN)
		if err != nil {
			return backend{}, nil, err
		}
		cache := convstore.NewRedisCache(convstore.RedisCacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log)
		return backend{
			durable:     pg,
			cache:       cache,
			memoryStore: memoryservice.NewPostgresStore(pg.DB()),
		}, func() { _ = pg.Close() }, nil
	default:
		return backend{}, nil, fmt.Errorf("unknown chat history mode %q", cfg.ChatHistoryMode)
	}
}

func sortedAgentKeys(m map[string]*agent.Agent) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
