package openaiapi

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
	"github.com/kirillkom/rules-qa/internal/core/prompt"
	"github.com/kirillkom/rules-qa/internal/core/schema"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

const providerName = "openai"

// NewClient builds an SDK client. An empty baseURL keeps the public endpoint.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// Provider is the LLM adapter over chat completions with strict JSON-schema
// response formats. It does not retry.
type Provider struct {
	client    *openai.Client
	model     string
	extractor ports.TextExtractor
}

func NewProvider(client *openai.Client, model string, extractor ports.TextExtractor) *Provider {
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

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system := prompt.SystemFor(req.Config); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.UserPrompt(req)})

	started := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               p.model,
		Messages:            messages,
		Temperature:         float32(req.Config.Temperature),
		MaxCompletionTokens: req.Config.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:        def.ToolName,
				Description: def.Description,
				Schema:      def.JSONSchemaBytes(),
				Strict:      true,
			},
		},
	})
	if err != nil {
		return nil, toProviderError(p.model, err)
	}

	modelVersion := resp.Model
	if modelVersion == "" {
		modelVersion = p.model
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderError{Kind: domain.ErrSchemaValidation, Provider: providerName, Model: modelVersion, TokensConsumed: true, Err: fmt.Errorf("no choices returned")}
	}
	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		slog.Warn("llm_usage_missing", "provider", providerName, "model", modelVersion)
	}

	choice := resp.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" || choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, &domain.ProviderError{
			Kind:           domain.ErrContentFilter,
			Provider:       providerName,
			Model:          modelVersion,
			TokensConsumed: true,
			Err:            fmt.Errorf("refused: %s", refusal),
		}
	}

	text := strings.TrimSpace(choice.Message.Content)
	structured, err := def.Validate(text)
	if err != nil {
		kind := domain.ErrSchemaValidation
		if choice.FinishReason == openai.FinishReasonLength {
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
		ResponseID:        resp.ID,
		AnswerText:        text,
		StructuredOutput:  structured,
		PromptTokens:      resp.Usage.PromptTokens,
		CompletionTokens:  resp.Usage.CompletionTokens,
		TokenCount:        resp.Usage.TotalTokens,
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

// Embedder calls the embeddings endpoint through the resilience executor.
type Embedder struct {
	client   *openai.Client
	model    string
	executor *resilience.Executor
}

func NewEmbedder(client *openai.Client, model string, executor *resilience.Executor) *Embedder {
	return &Embedder{client: client, model: model, executor: executor}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp openai.EmbeddingResponse
	call := func(ctx context.Context) error {
		out, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return err
		}
		resp = out
		return nil
	}

	var err error
	if e.executor == nil {
		err = call(ctx)
	} else {
		err = e.executor.Execute(ctx, "openai.embed", call, classifyOpenAIError)
	}
	if err != nil {
		return nil, toProviderError(e.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
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
	return e.model
}
