package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
	"github.com/kirillkom/rules-qa/internal/core/schema"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

const providerName = "ollama"

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

// New creates an Ollama REST client. executor may be nil, in which case
// embedding calls are neither retried nor circuit-broken.
func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyOllamaError)
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := e.client.execute(ctx, "ollama.embed", func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, embedError(e.client.embedModel, err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

func (e *Embedder) ModelName() string {
	return e.client.embedModel
}

// Provider is the LLM adapter over /api/generate. It does not retry.
type Provider struct {
	client    *Client
	model     string
	extractor ports.TextExtractor
}

func NewProvider(client *Client, model string, extractor ports.TextExtractor) *Provider {
	if strings.TrimSpace(model) == "" {
		model = client.genModel
	}
	return &Provider{client: client, model: model, extractor: extractor}
}

func (p *Provider) Name() string  { return providerName }
func (p *Provider) Model() string { return p.model }

func (p *Provider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.LLMResponse, error) {
	def, err := schema.Lookup(req.Config.Schema())
	if err != nil {
		return nil, err
	}
	if req.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Config.Timeout)
		defer cancel()
	}

	started := time.Now()
	var out generateResponse
	if err := p.client.postJSON(ctx, "/api/generate", buildGenerateRequest(p.model, req, def), &out, "generate"); err != nil {
		return nil, toProviderError(p.model, err)
	}

	modelVersion := out.Model
	if modelVersion == "" {
		modelVersion = p.model
	}
	if out.PromptEvalCount == 0 && out.EvalCount == 0 {
		slog.Warn("llm_usage_missing", "provider", providerName, "model", modelVersion)
	}

	text := strings.TrimSpace(out.Response)
	structured, err := def.Validate(text)
	if err != nil {
		kind := domain.ErrSchemaValidation
		if out.DoneReason == "length" {
			kind = domain.ErrTokenLimit
		}
		return nil, &domain.ProviderError{
			Kind:           kind,
			Provider:       providerName,
			Model:          modelVersion,
			TokensConsumed: true,
			RawText:        text,
			Err:            err,
		}
	}

	return &domain.LLMResponse{
		ResponseID:        uuid.NewString(),
		AnswerText:        text,
		StructuredOutput:  structured,
		PromptTokens:      out.PromptEvalCount,
		CompletionTokens:  out.EvalCount,
		TokenCount:        out.PromptEvalCount + out.EvalCount,
		LatencyMS:         time.Since(started).Milliseconds(),
		Provider:          providerName,
		ModelVersion:      modelVersion,
		CitationsIncluded: req.Config.IncludeCitations && len(req.ChunkIDs) > 0,
	}, nil
}

func (p *Provider) ExtractPDF(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	if p.extractor == nil {
		return nil, domain.NewProviderError(domain.ErrNotImplemented, providerName, p.model, fmt.Errorf("pdf extraction is not configured"))
	}
	return p.extractor.Extract(ctx, req)
}
