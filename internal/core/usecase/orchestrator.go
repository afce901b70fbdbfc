package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
	"github.com/kirillkom/rules-qa/internal/core/prompt"
	"github.com/kirillkom/rules-qa/internal/core/schema"
)

type OrchestratorConfig struct {
	MaxChunks    int
	Frontier     int
	RRFK         int
	BM25Weight   float64
	MinRelevance float64
	UseMultiHop  bool

	DefaultModel      string
	GenerationTimeout time.Duration
	MaxTokens         int
	Temperature       float64
	Persona           string
	QuoteValidation   bool
}

// queryAnalyzer is the immutable view of the curated tables. It is replaced
// as a whole on reload.
type queryAnalyzer struct {
	expander *SynonymExpander
	teams    *TeamFilter
}

func newQueryAnalyzer(tables domain.Tables) *queryAnalyzer {
	return &queryAnalyzer{
		expander: NewSynonymExpander(tables.Synonyms),
		teams:    NewTeamFilter(tables),
	}
}

// Orchestrator is the retrieval-and-answer facade.
type Orchestrator struct {
	controller *MultiHopController
	factory    ports.ProviderFactory
	retry      ports.RetryPolicy
	validator  *QuoteValidator
	metrics    ports.RAGMetrics
	cfg        OrchestratorConfig

	analyzer atomic.Pointer[queryAnalyzer]
}

func NewOrchestrator(
	controller *MultiHopController,
	factory ports.ProviderFactory,
	retry ports.RetryPolicy,
	validator *QuoteValidator,
	metrics ports.RAGMetrics,
	tables domain.Tables,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 7
	}
	if cfg.Frontier <= 0 {
		cfg.Frontier = defaultFrontier
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	o := &Orchestrator{
		controller: controller,
		factory:    factory,
		retry:      retry,
		validator:  validator,
		metrics:    metrics,
		cfg:        cfg,
	}
	o.analyzer.Store(newQueryAnalyzer(tables))
	return o
}

// ReloadTables publishes new synonym, alias and catalogue tables. Requests
// already running keep the tables they started with.
func (o *Orchestrator) ReloadTables(tables domain.Tables) {
	o.analyzer.Store(newQueryAnalyzer(tables))
	slog.Info("rag_tables_reloaded",
		"synonyms", len(tables.Synonyms),
		"aliases", len(tables.Aliases),
		"teams", len(tables.Catalog.Teams),
	)
}

func (o *Orchestrator) RetrieveRAG(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievalResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve rag", fmt.Errorf("query is required"))
	}
	started := time.Now()

	queryID := req.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	maxChunks := req.MaxChunks
	if maxChunks <= 0 {
		maxChunks = o.cfg.MaxChunks
	}
	useMultiHop := o.cfg.UseMultiHop
	if req.UseMultiHop != nil {
		useMultiHop = *req.UseMultiHop
	}

	analyzer := o.analyzer.Load()
	teams := analyzer.teams.ExtractRelevantTeams(query)

	out, err := o.controller.run(ctx, multiHopInput{
		query:       query,
		sparseQuery: analyzer.expander.Expand(query),
		params:      o.fusionParams(req),
		maxChunks:   maxChunks,
		useMultiHop: useMultiHop,
		teams:       teams,
		catalogue:   analyzer.teams.CatalogFor(teams),
		userKey:     req.ContextKey,
	})
	if err != nil {
		return nil, err
	}

	minRelevance := o.fusionParams(req).MinRelevance
	avg := averageRelevance(out.chunks)
	result := &domain.RetrievalResult{
		Context: &domain.RAGContext{
			ContextID:      uuid.NewString(),
			QueryID:        queryID,
			ContextKey:     req.ContextKey,
			Chunks:         out.chunks,
			AvgRelevance:   avg,
			MeetsThreshold: len(out.chunks) > 0 && avg >= minRelevance,
		},
		Hops:          out.hops,
		ChunkHops:     out.chunkHops,
		EmbeddingCost: out.embeddingCost,
		Duration:      time.Since(started),
	}
	if o.metrics != nil {
		o.metrics.ObserveRetrieval(out.retrievals, len(out.chunks), result.Duration.Seconds())
	}
	slog.Info("rag_retrieved",
		"query_id", queryID,
		"chunks", len(out.chunks),
		"hops", len(out.hops),
		"teams", teams,
		"avg_relevance", avg,
	)
	return result, nil
}

func (o *Orchestrator) GenerateWithContext(ctx context.Context, in ports.GenerateInput) (*domain.LLMResponse, []string, error) {
	if in.Context == nil {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "generate with context", fmt.Errorf("rag context is required"))
	}
	if strings.TrimSpace(in.Query) == "" {
		return nil, nil, domain.WrapError(domain.ErrInvalidInput, "generate with context", fmt.Errorf("query is required"))
	}

	provider := in.Provider
	if provider == nil {
		model := in.Model
		if model == "" {
			model = o.cfg.DefaultModel
		}
		created, err := o.factory.Create(model, in.Context.ContextKey)
		if err != nil {
			return nil, nil, fmt.Errorf("create provider: %w", err)
		}
		provider = created
	}

	chunks := servedChunks(in.Context)
	chunkIDs := make([]string, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		chunkIDs = append(chunkIDs, c.ShortID)
		texts = append(texts, c.Text)
	}

	timeout := in.GenerationTimeout
	if timeout <= 0 {
		timeout = o.cfg.GenerationTimeout
	}
	req := domain.GenerateRequest{
		Prompt:   in.Query,
		Context:  texts,
		ChunkIDs: chunkIDs,
		Config: domain.GenerationConfig{
			MaxTokens:        o.cfg.MaxTokens,
			Temperature:      o.cfg.Temperature,
			SystemPrompt:     prompt.SystemPrompt(o.cfg.Persona),
			SchemaName:       domain.SchemaDefault,
			Timeout:          timeout,
			IncludeCitations: true,
		},
	}

	var resp *domain.LLMResponse
	call := ports.RetryCall{
		Operation: "generate",
		Provider:  provider.Name(),
		Model:     provider.Model(),
		Deadline:  timeout,
	}
	err := runWithRetry(ctx, o.retry, call, func(ctx context.Context) error {
		out, err := provider.Generate(ctx, req)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	answer, ok := resp.Answer()
	if !ok {
		decoded, err := schema.Validate(domain.SchemaDefault, resp.AnswerText)
		if err != nil {
			return nil, nil, &domain.ProviderError{
				Kind:           domain.ErrSchemaValidation,
				Provider:       provider.Name(),
				Model:          provider.Model(),
				TokensConsumed: true,
				RawText:        resp.AnswerText,
				Err:            err,
			}
		}
		answer = decoded.(*domain.Answer)
		resp.StructuredOutput = answer
	}

	if o.cfg.QuoteValidation && o.validator != nil {
		resp.QuoteValidation = o.validator.Validate(answer, chunks)
	}
	if o.metrics != nil {
		o.metrics.ObserveTokens(resp.Provider, resp.ModelVersion, resp.PromptTokens, resp.CompletionTokens)
		if resp.QuoteValidation != nil {
			o.metrics.ObserveQuoteValidation(resp.QuoteValidation.ValidationScore, resp.QuoteValidation.IsValid)
		}
	}
	return resp, chunkIDs, nil
}

func (o *Orchestrator) ProcessQuery(ctx context.Context, req domain.RetrieveRequest, model string) (*ports.QueryOutcome, error) {
	retrieval, err := o.RetrieveRAG(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, chunkIDs, err := o.GenerateWithContext(ctx, ports.GenerateInput{
		Query:   req.Query,
		QueryID: retrieval.Context.QueryID,
		Model:   model,
		Context: retrieval.Context,
	})
	if err != nil {
		return nil, err
	}
	return &ports.QueryOutcome{
		Retrieval: retrieval,
		Response:  resp,
		ChunkIDs:  chunkIDs,
	}, nil
}

func (o *Orchestrator) fusionParams(req domain.RetrieveRequest) domain.FusionParams {
	params := domain.FusionParams{
		RRFK:         o.cfg.RRFK,
		BM25Weight:   o.cfg.BM25Weight,
		MinRelevance: o.cfg.MinRelevance,
		Frontier:     o.cfg.Frontier,
	}
	if req.RRFK > 0 {
		params.RRFK = req.RRFK
	}
	if req.BM25Weight != nil {
		params.BM25Weight = clamp01(*req.BM25Weight)
	}
	if req.MinRelevance != nil {
		params.MinRelevance = clamp01(*req.MinRelevance)
	}
	return params
}

// servedChunks returns the context chunks with short ids guaranteed. Contexts
// built by RetrieveRAG already carry them; caller-built ones may not.
func servedChunks(rag *domain.RAGContext) []domain.DocumentChunk {
	chunks := append([]domain.DocumentChunk(nil), rag.Chunks...)
	for _, c := range chunks {
		if c.ShortID == "" {
			domain.AssignShortIDs(chunks)
			break
		}
	}
	return chunks
}

func averageRelevance(chunks []domain.DocumentChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range chunks {
		sum += c.Relevance
	}
	return sum / float64(len(chunks))
}
