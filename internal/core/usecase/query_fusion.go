package usecase

import (
	"math"
	"sort"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const (
	defaultRRFK     = 60
	defaultFrontier = 30
)

type fusedCandidate struct {
	chunk domain.DocumentChunk
	score float64
}

// fuseCandidatesRRF merges the dense and sparse rankings with weighted
// Reciprocal Rank Fusion. Each input is truncated to the frontier first and
// ranks are 1-based. The result is sorted by fused score and then by dense
// rank, publication date (newest first) and chunk id.
func fuseCandidatesRRF(dense, sparse []domain.DocumentChunk, params domain.FusionParams) []domain.DocumentChunk {
	rrfK := params.RRFK
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	frontier := params.Frontier
	if frontier <= 0 {
		frontier = defaultFrontier
	}
	sparseWeight := clamp01(params.BM25Weight)
	denseWeight := 1 - sparseWeight

	dense = trimCandidates(dense, frontier)
	sparse = trimCandidates(sparse, frontier)

	acc := make(map[string]*fusedCandidate, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))
	lookup := func(chunk domain.DocumentChunk) *fusedCandidate {
		c, ok := acc[chunk.ChunkID]
		if !ok {
			c = &fusedCandidate{chunk: chunk}
			c.chunk.DenseRank = 0
			c.chunk.SparseRank = 0
			c.chunk.DenseScore = 0
			acc[chunk.ChunkID] = c
			order = append(order, chunk.ChunkID)
		}
		return c
	}

	for i, chunk := range dense {
		rank := i + 1
		c := lookup(chunk)
		if c.chunk.DenseRank != 0 {
			continue
		}
		c.chunk = preferRicherChunk(c.chunk, chunk)
		c.chunk.DenseRank = rank
		c.chunk.DenseScore = chunk.DenseScore
		c.score += denseWeight / float64(rrfK+rank)
	}
	for i, chunk := range sparse {
		rank := i + 1
		c := lookup(chunk)
		if c.chunk.SparseRank != 0 {
			continue
		}
		c.chunk = preferRicherChunk(c.chunk, chunk)
		c.chunk.SparseRank = rank
		c.score += sparseWeight / float64(rrfK+rank)
	}

	out := make([]domain.DocumentChunk, 0, len(acc))
	for _, id := range order {
		c := acc[id]
		chunk := c.chunk
		chunk.Score = c.score
		chunk.Relevance = denseRelevance(chunk)
		out = append(out, chunk)
	}

	sortChunks(out)
	return out
}

// sortChunks orders chunks by fused score with the deterministic tie-break.
func sortChunks(chunks []domain.DocumentChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return rankedBefore(chunks[i], chunks[j])
	})
}

func rankedBefore(a, b domain.DocumentChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ar, br := denseRankOrInf(a), denseRankOrInf(b)
	if ar != br {
		return ar < br
	}
	ad, bd := a.Metadata.PublicationDate, b.Metadata.PublicationDate
	if !ad.Equal(bd) {
		return ad.After(bd)
	}
	return a.ChunkID < b.ChunkID
}

func denseRankOrInf(c domain.DocumentChunk) int {
	if c.DenseRank <= 0 {
		return math.MaxInt
	}
	return c.DenseRank
}

// denseRelevance maps the dense similarity to [0,1]. Sparse-only hits have
// no dense evidence and score 0.
func denseRelevance(c domain.DocumentChunk) float64 {
	if c.DenseRank <= 0 {
		return 0
	}
	return clamp01(c.DenseScore)
}

// filterByRelevance drops chunks under minRelevance but never returns an
// empty list when the input was non-empty: the top-ranked chunk survives.
func filterByRelevance(chunks []domain.DocumentChunk, minRelevance float64) []domain.DocumentChunk {
	if minRelevance <= 0 || len(chunks) == 0 {
		return chunks
	}
	out := make([]domain.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Relevance >= minRelevance {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return chunks[:1]
	}
	return out
}

func trimCandidates(chunks []domain.DocumentChunk, limit int) []domain.DocumentChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func preferRicherChunk(current, candidate domain.DocumentChunk) domain.DocumentChunk {
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Header == "" && candidate.Header != "" {
		current.Header = candidate.Header
		current.HeaderLevel = candidate.HeaderLevel
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
	}
	if current.Metadata.SourceName == "" && candidate.Metadata.SourceName != "" {
		current.Metadata.SourceName = candidate.Metadata.SourceName
	}
	if current.Metadata.DocType == "" && candidate.Metadata.DocType != "" {
		current.Metadata.DocType = candidate.Metadata.DocType
	}
	if current.Metadata.PublicationDate.IsZero() && !candidate.Metadata.PublicationDate.IsZero() {
		current.Metadata.PublicationDate = candidate.Metadata.PublicationDate
	}
	if current.Metadata.Section == "" && candidate.Metadata.Section != "" {
		current.Metadata.Section = candidate.Metadata.Section
	}
	if current.Metadata.Team == "" && candidate.Metadata.Team != "" {
		current.Metadata.Team = candidate.Metadata.Team
	}
	return current
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
