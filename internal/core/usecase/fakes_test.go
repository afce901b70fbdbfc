package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

func ruleChunk(suffix, header, text, team string, dense float64) domain.DocumentChunk {
	return domain.DocumentChunk{
		ChunkID:    "00000000-0000-4000-8000-00000000" + suffix,
		DocumentID: "doc-" + team,
		Text:       text,
		Header:     header,
		DenseScore: dense,
		Metadata: domain.ChunkMetadata{
			SourceName:      "rules.pdf",
			DocType:         domain.DocTypeCoreRules,
			PublicationDate: time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC),
			Team:            team,
		},
	}
}

// fakeCorpus serves as embedder, vector store and sparse store. The embedding
// of a query is its position in the list of embedded queries, which lets the
// vector store answer per query text.
type fakeCorpus struct {
	mu      sync.Mutex
	queries []string
	dense   map[string][]domain.DocumentChunk
	sparse  map[string][]domain.DocumentChunk

	sparseQueries []string
	denseErr      error
}

func newFakeCorpus() *fakeCorpus {
	return &fakeCorpus{
		dense:  make(map[string][]domain.DocumentChunk),
		sparse: make(map[string][]domain.DocumentChunk),
	}
}

func (f *fakeCorpus) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeCorpus) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denseErr != nil {
		return nil, f.denseErr
	}
	f.queries = append(f.queries, text)
	return []float32{float32(len(f.queries) - 1)}, nil
}

func (f *fakeCorpus) ModelName() string { return "text-embedding-3-small" }

func (f *fakeCorpus) Search(_ context.Context, vector []float32, topK int) ([]domain.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	query := f.queries[int(vector[0])]
	return trimCandidates(append([]domain.DocumentChunk(nil), f.dense[query]...), topK), nil
}

type fakeSparse struct {
	corpus *fakeCorpus
}

func (s fakeSparse) Search(_ context.Context, tokens []string, topK int, _ domain.BM25Params) ([]domain.DocumentChunk, error) {
	s.corpus.mu.Lock()
	defer s.corpus.mu.Unlock()
	key := strings.Join(tokens, " ")
	s.corpus.sparseQueries = append(s.corpus.sparseQueries, key)
	return trimCandidates(append([]domain.DocumentChunk(nil), s.corpus.sparse[key]...), topK), nil
}

type scriptedProvider struct {
	name  string
	model string

	mu       sync.Mutex
	requests []domain.GenerateRequest
	respond  func(ctx context.Context, req domain.GenerateRequest, call int) (*domain.LLMResponse, error)
}

func (p *scriptedProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.LLMResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	call := len(p.requests)
	p.mu.Unlock()
	return p.respond(ctx, req, call)
}

func (p *scriptedProvider) ExtractPDF(context.Context, domain.ExtractionRequest) (*domain.ExtractionResponse, error) {
	return nil, domain.NewProviderError(domain.ErrNotImplemented, p.name, p.model, fmt.Errorf("no pdf support"))
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) calls() []domain.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.GenerateRequest(nil), p.requests...)
}

type fakeFactory struct {
	mu        sync.Mutex
	providers map[string]ports.LLMProvider
	userKeys  []string
}

func (f *fakeFactory) Create(model, userKey string) (ports.LLMProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userKeys = append(f.userKeys, userKey)
	p, ok := f.providers[model]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create provider", fmt.Errorf("unknown model %s", model))
	}
	return p, nil
}

func judgeResponse(canAnswer bool, missing string) *domain.LLMResponse {
	judgement := &domain.HopJudgement{CanAnswer: canAnswer, Reasoning: "scripted"}
	if missing != "" {
		judgement.MissingQuery = &missing
	}
	raw, _ := json.Marshal(judgement)
	return &domain.LLMResponse{
		AnswerText:       string(raw),
		StructuredOutput: judgement,
		PromptTokens:     100,
		CompletionTokens: 20,
		TokenCount:       120,
		Provider:         "stub",
		ModelVersion:     "gpt-4o-mini",
	}
}

func answerResponse(answer domain.Answer) *domain.LLMResponse {
	raw, _ := json.Marshal(answer)
	return &domain.LLMResponse{
		AnswerText:        string(raw),
		PromptTokens:      900,
		CompletionTokens:  150,
		TokenCount:        1050,
		Provider:          "stub",
		ModelVersion:      "answer-model",
		CitationsIncluded: true,
	}
}

type recordedMetrics struct {
	mu          sync.Mutex
	retrievals  []int
	quoteScores []float64
	tokens      int
}

func (m *recordedMetrics) ObserveRetrieval(hops int, _ int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retrievals = append(m.retrievals, hops)
}

func (m *recordedMetrics) ObserveQuoteValidation(score float64, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteScores = append(m.quoteScores, score)
}

func (m *recordedMetrics) ObserveTokens(_, _ string, prompt, completion int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens += prompt + completion
}
