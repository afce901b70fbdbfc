// Package bm25 is the in-process Okapi BM25 index over the rule chunk corpus.
package bm25

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

// Tokenizer must produce the same tokens the query side produces, otherwise
// query terms never meet document terms.
type Tokenizer func(text string) []string

type posting struct {
	doc int
	tf  int
}

// snapshot is immutable once published.
type snapshot struct {
	chunks   []domain.DocumentChunk
	lengths  []int
	avgLen   float64
	postings map[string][]posting
}

type Index struct {
	repo     ports.ChunkRepository
	tokenize Tokenizer

	current atomic.Pointer[snapshot]
}

func NewIndex(repo ports.ChunkRepository, tokenize Tokenizer) *Index {
	idx := &Index{repo: repo, tokenize: tokenize}
	idx.current.Store(&snapshot{postings: map[string][]posting{}})
	return idx
}

// Rebuild reloads the corpus from the repository and swaps the index in one
// step. Searches running during a rebuild use the previous snapshot.
func (i *Index) Rebuild(ctx context.Context) error {
	if i.repo == nil {
		return fmt.Errorf("bm25 rebuild: no chunk repository")
	}
	started := time.Now()
	chunks, err := i.repo.ListChunks(ctx)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "bm25 rebuild", err)
	}
	i.Load(chunks)
	slog.Info("bm25_rebuilt",
		"chunks", len(chunks),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return nil
}

// Load indexes chunks directly, replacing the current snapshot.
func (i *Index) Load(chunks []domain.DocumentChunk) {
	snap := &snapshot{
		chunks:   make([]domain.DocumentChunk, len(chunks)),
		lengths:  make([]int, len(chunks)),
		postings: make(map[string][]posting),
	}
	copy(snap.chunks, chunks)

	total := 0
	for doc, chunk := range snap.chunks {
		// Headers are searchable text too: users ask about "Shoot action"
		// whose rule body may never repeat the heading.
		tokens := i.tokenize(chunk.Header + " " + chunk.Text)
		snap.lengths[doc] = len(tokens)
		total += len(tokens)

		freq := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freq[tok]++
		}
		for term, tf := range freq {
			snap.postings[term] = append(snap.postings[term], posting{doc: doc, tf: tf})
		}
	}
	if len(chunks) > 0 {
		snap.avgLen = float64(total) / float64(len(chunks))
	}
	i.current.Store(snap)
}

func (i *Index) Size() int {
	return len(i.current.Load().chunks)
}

// Search scores every chunk containing at least one query token and returns
// the topK by score. Ties keep corpus order.
func (i *Index) Search(ctx context.Context, tokens []string, topK int, params domain.BM25Params) ([]domain.DocumentChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := i.current.Load()
	n := len(snap.chunks)
	if n == 0 || len(tokens) == 0 || topK <= 0 {
		return nil, nil
	}
	if params.K1 <= 0 {
		params.K1 = domain.DefaultBM25Params().K1
	}
	if params.B < 0 || params.B > 1 {
		params.B = domain.DefaultBM25Params().B
	}

	scores := make(map[int]float64)
	for _, term := range tokens {
		list := snap.postings[term]
		if len(list) == 0 {
			continue
		}
		idf := inverseDocumentFrequency(n, len(list))
		for _, p := range list {
			tf := float64(p.tf)
			norm := 1 - params.B + params.B*float64(snap.lengths[p.doc])/snap.avgLen
			scores[p.doc] += idf * tf * (params.K1 + 1) / (tf + params.K1*norm)
		}
	}

	type scored struct {
		doc   int
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for doc, score := range scores {
		ranked = append(ranked, scored{doc: doc, score: score})
	}
	sort.Slice(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return ranked[a].doc < ranked[b].doc
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	out := make([]domain.DocumentChunk, 0, len(ranked))
	for _, r := range ranked {
		chunk := snap.chunks[r.doc]
		chunk.Score = r.score
		out = append(out, chunk)
	}
	return out, nil
}

// inverseDocumentFrequency is the non-negative BM25 idf variant.
func inverseDocumentFrequency(n, df int) float64 {
	return math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
}
