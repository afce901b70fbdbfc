package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/rules-qa/internal/config"
	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
	"github.com/kirillkom/rules-qa/internal/core/usecase"
	rediscache "github.com/kirillkom/rules-qa/internal/infrastructure/cache/redis"
	"github.com/kirillkom/rules-qa/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/rules-qa/internal/infrastructure/llm/factory"
	"github.com/kirillkom/rules-qa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/rules-qa/internal/infrastructure/llm/openaiapi"
	"github.com/kirillkom/rules-qa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/rules-qa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
	"github.com/kirillkom/rules-qa/internal/infrastructure/sparse/bm25"
	"github.com/kirillkom/rules-qa/internal/infrastructure/tables"
	"github.com/kirillkom/rules-qa/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/rules-qa/internal/observability/metrics"
)

// openAIModelPrefixes route models to the OpenAI backend; every other model
// is served by Ollama.
var openAIModelPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}

type App struct {
	Config config.Config

	Metrics   *metrics.HTTPServerMetrics
	RAG       *usecase.Orchestrator
	Reloader  *usecase.IndexReloader
	Syncer    *usecase.CorpusSyncer
	ReloadBus *nats.ReloadBus

	closeFns []func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	repo := postgres.NewChunkRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	app.Metrics = metrics.NewHTTPServerMetrics("rules-qa-api")
	executor := resilience.NewExecutor(resilienceConfig(cfg), resilience.WithObserver(app.Metrics))
	extractor := pdftext.NewExtractor()
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	openaiClient := newOpenAIClient(cfg)

	embedder, err := newEmbedder(ctx, cfg, app, executor, ollamaClient, openaiClient)
	if err != nil {
		return nil, err
	}

	vectors := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, executor)
	index := bm25.NewIndex(repo, usecase.Tokenize)
	if err := index.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("build bm25 index: %w", err)
	}

	loader := tables.NewLoader(cfg.SynonymsPath, cfg.TeamAliasesPath, cfg.TeamCatalogPath)
	curated, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load curated tables: %w", err)
	}

	providers := factory.New(factory.Config{
		RatePerSecond: cfg.LLMRatePerSecond,
		Burst:         cfg.LLMRateBurst,
		IdleTTL:       cfg.LLMRateIdleTTL,
	})
	providers.Register("ollama", func(model string) (ports.LLMProvider, error) {
		return ollama.NewProvider(ollamaClient, model, extractor), nil
	})
	if openaiClient != nil {
		providers.Register("openai", func(model string) (ports.LLMProvider, error) {
			return openaiapi.NewProvider(openaiClient, model, extractor), nil
		}, openAIModelPrefixes...)
	}

	retrier := resilience.NewLLMRetrier(resilience.LLMRetryConfig{
		ContentFilterRetries: cfg.LLMContentFilterRetries,
		RateLimitRetries:     cfg.LLMRateLimitRetries,
		InitialBackoff:       cfg.LLMBackoffInitial,
		BackoffFactor:        cfg.LLMBackoffFactor,
		MaxBackoff:           cfg.LLMBackoffMax,
	}, app.Metrics.ObserveBackoff)

	retriever := usecase.NewHybridRetriever(embedder, vectors, index, domain.BM25Params{K1: cfg.BM25K1, B: cfg.BM25B})
	judge := usecase.NewHopJudge(providers, retrier, usecase.HopJudgeConfig{
		Model:   cfg.JudgeModel,
		Timeout: cfg.LLMJudgeTimeout,
	})
	controller := usecase.NewMultiHopController(retriever, judge, cfg.RAGMaxHops)
	validator := usecase.NewQuoteValidator(cfg.QuoteSimilarityThreshold, slog.Default())

	app.RAG = usecase.NewOrchestrator(controller, providers, retrier, validator, app.Metrics, curated, usecase.OrchestratorConfig{
		MaxChunks:         cfg.RAGMaxChunks,
		Frontier:          cfg.RAGFrontier,
		RRFK:              cfg.RAGRRFK,
		BM25Weight:        cfg.RAGBM25Weight,
		MinRelevance:      cfg.RAGMinRelevance,
		UseMultiHop:       cfg.RAGUseMultiHop,
		DefaultModel:      cfg.DefaultModel,
		GenerationTimeout: cfg.LLMGenerationTimeout,
		MaxTokens:         cfg.LLMMaxTokens,
		Temperature:       cfg.LLMTemperature,
		Persona:           cfg.PersonaProfile,
		QuoteValidation:   cfg.QuoteValidationEnabled,
	})
	app.Reloader = usecase.NewIndexReloader(index, loader, app.RAG, app.Metrics.RecordReload)
	app.Syncer = usecase.NewCorpusSyncer(repo, repo, embedder, vectors, cfg.IndexerBatchSize)

	if strings.TrimSpace(cfg.NATSURL) != "" {
		bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSReloadSubject, nats.Options{ResilienceExecutor: executor})
		if err != nil {
			return nil, fmt.Errorf("init reload bus: %w", err)
		}
		app.ReloadBus = bus
		app.onClose(bus.Close)
	}

	ok = true
	return app, nil
}

// resilienceConfig gives embedders a longer backoff ceiling: Ollama answers
// 503 while it loads a model.
func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.Retry.MaxAttempts = cfg.DepRetryMaxAttempts
	out.Retry.InitialBackoff = cfg.DepRetryInitialBackoff
	out.Retry.MaxBackoff = cfg.DepRetryMaxBackoff
	out.Breaker.Enabled = cfg.DepBreakerEnabled
	out.Breaker.OpenTimeout = cfg.DepBreakerOpenTimeout

	embed := resilience.RetryPolicy{MaxBackoff: cfg.EmbedRetryMaxBackoff}
	out.Dependencies = map[string]resilience.RetryPolicy{
		"ollama": embed,
		"openai": embed,
	}
	return out
}

func newOpenAIClient(cfg config.Config) *openai.Client {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" && strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
		return nil
	}
	return openaiapi.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
}

func newEmbedder(
	ctx context.Context,
	cfg config.Config,
	app *App,
	executor *resilience.Executor,
	ollamaClient *ollama.Client,
	openaiClient *openai.Client,
) (ports.Embedder, error) {
	var embedder ports.Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedProvider)) {
	case "openai":
		if openaiClient == nil {
			return nil, fmt.Errorf("EMBED_PROVIDER=openai requires OPENAI_API_KEY or OPENAI_BASE_URL")
		}
		embedder = openaiapi.NewEmbedder(openaiClient, cfg.OpenAIEmbedModel, executor)
	case "", "ollama":
		embedder = ollama.NewEmbedder(ollamaClient)
	default:
		return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
	}

	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return embedder, nil
	}
	client, err := rediscache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("embedding_cache_disabled", "error", err)
		return embedder, nil
	}
	app.onClose(func() { _ = client.Close() })
	return rediscache.NewEmbeddingCache(embedder, client, cfg.RedisEmbedTTL), nil
}

func (a *App) onClose(fn func()) {
	a.closeFns = append(a.closeFns, fn)
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}
