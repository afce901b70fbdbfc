package ports

import (
	"context"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// VectorStore performs approximate nearest neighbour search over chunk
// embeddings. Returned chunks carry DenseScore; higher is more similar.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, topK int) ([]domain.DocumentChunk, error)
}

// SparseStore performs BM25 keyword search over normalized tokens.
type SparseStore interface {
	Search(ctx context.Context, tokens []string, topK int, params domain.BM25Params) ([]domain.DocumentChunk, error)
}

// ChunkRepository reads the chunk corpus. Population is done by ingestion.
type ChunkRepository interface {
	ListChunks(ctx context.Context) ([]domain.DocumentChunk, error)
}

// LLMProvider is the uniform adapter over provider SDKs. Implementations do
// not retry; they return *domain.ProviderError values.
type LLMProvider interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.LLMResponse, error)
	ExtractPDF(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResponse, error)
	Name() string
	Model() string
}

// TextExtractor turns uploaded rule documents into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ExtractionResponse, error)
}

// ProviderFactory creates (and may memoize) providers for a model.
// userKey selects the rate-limit bucket.
type ProviderFactory interface {
	Create(model, userKey string) (LLMProvider, error)
}

// TablesLoader loads the curated synonym, alias and team tables.
type TablesLoader interface {
	Load(ctx context.Context) (domain.Tables, error)
}

// RetryCall names the provider call a RetryPolicy wraps. Deadline bounds the
// whole call including every retry and backoff; zero means only ctx bounds it.
type RetryCall struct {
	Operation string
	Provider  string
	Model     string
	Deadline  time.Duration
}

// RetryPolicy retries provider calls on content-filter and rate-limit errors
// inside a single deadline.
type RetryPolicy interface {
	Do(ctx context.Context, call RetryCall, fn func(context.Context) error) error
}

// RAGMetrics records pipeline observations. Implementations must be safe for
// concurrent use.
type RAGMetrics interface {
	ObserveRetrieval(hops int, chunks int, seconds float64)
	ObserveQuoteValidation(score float64, valid bool)
	ObserveTokens(provider, model string, prompt, completion int)
}

// IndexRebuilder rebuilds an in-process index from the chunk repository.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) error
}

// ChunkWriter persists chunks into the corpus.
type ChunkWriter interface {
	UpsertChunks(ctx context.Context, chunks []domain.DocumentChunk) error
}

// VectorIndexer writes chunk embeddings into the dense index.
type VectorIndexer interface {
	UpsertChunks(ctx context.Context, chunks []domain.DocumentChunk, vectors [][]float32) error
}
