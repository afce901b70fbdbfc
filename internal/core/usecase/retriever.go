package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

// retrievalRound is the fused output of one dense and sparse search pair.
type retrievalRound struct {
	chunks        []domain.DocumentChunk
	embeddingCost float64
	duration      time.Duration
}

// chunkRetriever runs one hybrid retrieval round. denseQuery is embedded as
// is; sparseQuery is already normalized and expanded.
type chunkRetriever interface {
	retrieve(ctx context.Context, denseQuery, sparseQuery string, params domain.FusionParams) (retrievalRound, error)
}

// HybridRetriever runs dense and sparse search in parallel and fuses them.
type HybridRetriever struct {
	embedder ports.Embedder
	vectors  ports.VectorStore
	sparse   ports.SparseStore
	bm25     domain.BM25Params
}

func NewHybridRetriever(
	embedder ports.Embedder,
	vectors ports.VectorStore,
	sparse ports.SparseStore,
	bm25 domain.BM25Params,
) *HybridRetriever {
	if bm25.K1 <= 0 || bm25.B < 0 || bm25.B > 1 {
		bm25 = domain.DefaultBM25Params()
	}
	return &HybridRetriever{
		embedder: embedder,
		vectors:  vectors,
		sparse:   sparse,
		bm25:     bm25,
	}
}

func (r *HybridRetriever) retrieve(
	ctx context.Context,
	denseQuery string,
	sparseQuery string,
	params domain.FusionParams,
) (retrievalRound, error) {
	started := time.Now()
	frontier := params.Frontier
	if frontier <= 0 {
		frontier = defaultFrontier
	}

	var dense, sparse []domain.DocumentChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vector, err := r.embedder.EmbedQuery(gctx, denseQuery)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		hits, err := r.vectors.Search(gctx, vector, frontier)
		if err != nil {
			return fmt.Errorf("search vector index: %w", err)
		}
		dense = hits
		return nil
	})
	g.Go(func() error {
		tokens := Tokenize(sparseQuery)
		if len(tokens) == 0 {
			return nil
		}
		hits, err := r.sparse.Search(gctx, tokens, frontier, r.bm25)
		if err != nil {
			return fmt.Errorf("search bm25 index: %w", err)
		}
		sparse = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return retrievalRound{}, err
	}

	fused := fuseCandidatesRRF(dense, sparse, params)
	fused = filterByRelevance(fused, params.MinRelevance)

	return retrievalRound{
		chunks:        fused,
		embeddingCost: domain.EstimateCost(r.embedder.ModelName(), domain.EstimateTokens(denseQuery), 0),
		duration:      time.Since(started),
	}, nil
}
