package domain

import "time"

type RetrieveRequest struct {
	Query       string `json:"query"`
	QueryID     string `json:"query_id,omitempty"`
	ContextKey  string `json:"context_key,omitempty"`
	MaxChunks   int    `json:"max_chunks,omitempty"`
	UseMultiHop *bool  `json:"use_multi_hop,omitempty"`

	// Per-call tuning; zero values fall back to configured defaults.
	RRFK         int      `json:"rrf_k,omitempty"`
	BM25Weight   *float64 `json:"bm25_weight,omitempty"`
	MinRelevance *float64 `json:"min_relevance,omitempty"`
}

// FusionParams tunes one hybrid retrieval round.
type FusionParams struct {
	RRFK         int
	BM25Weight   float64
	MinRelevance float64
	Frontier     int
}

// RAGContext is the output of a retrieval. Chunks are ordered by relevance,
// highest first.
type RAGContext struct {
	ContextID      string          `json:"context_id"`
	QueryID        string          `json:"query_id"`
	ContextKey     string          `json:"context_key,omitempty"`
	Chunks         []DocumentChunk `json:"chunks"`
	AvgRelevance   float64         `json:"avg_relevance"`
	MeetsThreshold bool            `json:"meets_threshold"`
}

// ShortIDs returns the short ids of the served chunks in order.
func (c *RAGContext) ShortIDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Chunks))
	for _, chunk := range c.Chunks {
		out = append(out, chunk.ShortID)
	}
	return out
}

type RetrievalResult struct {
	Context       *RAGContext     `json:"context"`
	Hops          []HopEvaluation `json:"hops"`
	ChunkHops     map[string]int  `json:"chunk_hops"`
	EmbeddingCost float64         `json:"embedding_cost_estimate"`
	Duration      time.Duration   `json:"-"`
}

// HopEvaluation is the judge verdict for one hop plus its metrics.
type HopEvaluation struct {
	HopNumber       int      `json:"hop_number"`
	CanAnswer       bool     `json:"can_answer"`
	Reasoning       string   `json:"reasoning"`
	MissingQuery    *string  `json:"missing_query"`
	RetrievalTimeS  float64  `json:"retrieval_time_s"`
	EvaluationTimeS float64  `json:"evaluation_time_s"`
	CostEstimate    float64  `json:"cost_estimate"`
	FilteredTeams   []string `json:"filtered_teams,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func (h HopEvaluation) FollowUpQuery() string {
	if h.MissingQuery == nil {
		return ""
	}
	return *h.MissingQuery
}

// BM25Params are the Okapi BM25 free parameters.
type BM25Params struct {
	K1 float64
	B  float64
}

func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.2, B: 0.75}
}
