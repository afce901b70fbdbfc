package ports

import (
	"context"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

// RAGService is the inbound contract of the retrieval-and-answer core.
type RAGService interface {
	RetrieveRAG(ctx context.Context, req domain.RetrieveRequest) (*domain.RetrievalResult, error)
	GenerateWithContext(ctx context.Context, in GenerateInput) (*domain.LLMResponse, []string, error)
	ProcessQuery(ctx context.Context, req domain.RetrieveRequest, model string) (*QueryOutcome, error)
}

// GenerateInput carries the arguments of GenerateWithContext. Provider is
// optional; when nil one is created from the factory keyed by Model.
type GenerateInput struct {
	Query             string
	QueryID           string
	Model             string
	Context           *domain.RAGContext
	Provider          LLMProvider
	GenerationTimeout time.Duration
}

type QueryOutcome struct {
	Retrieval *domain.RetrievalResult `json:"retrieval"`
	Response  *domain.LLMResponse     `json:"response"`
	ChunkIDs  []string                `json:"chunk_ids"`
}
