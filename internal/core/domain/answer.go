package domain

type Quote struct {
	QuoteTitle string `json:"quote_title"`
	QuoteText  string `json:"quote_text"`
	ChunkID    string `json:"chunk_id"`
}

// Answer is the structured output of the default schema.
type Answer struct {
	Smalltalk          bool    `json:"smalltalk"`
	ShortAnswer        string  `json:"short_answer"`
	PersonaShortAnswer string  `json:"persona_short_answer"`
	Quotes             []Quote `json:"quotes"`
	Explanation        string  `json:"explanation"`
	PersonaAfterword   string  `json:"persona_afterword"`
}

const (
	InvalidReasonUnknownChunk  = "unknown chunk"
	InvalidReasonLowSimilarity = "low similarity"
)

type InvalidQuote struct {
	QuoteTitle string  `json:"quote_title"`
	ChunkID    string  `json:"chunk_id"`
	Reason     string  `json:"reason"`
	Similarity float64 `json:"similarity"`
}

type QuoteValidationReport struct {
	IsValid         bool           `json:"is_valid"`
	ValidQuotes     int            `json:"valid_quotes"`
	TotalQuotes     int            `json:"total_quotes"`
	InvalidQuotes   []InvalidQuote `json:"invalid_quotes"`
	ValidationScore float64        `json:"validation_score"`
}

// HopJudgement is the structured output of the hop_evaluation schema.
type HopJudgement struct {
	CanAnswer    bool    `json:"can_answer"`
	Reasoning    string  `json:"reasoning"`
	MissingQuery *string `json:"missing_query"`
}

type ChunkSummary struct {
	ChunkID string `json:"chunk_id"`
	Summary string `json:"summary"`
}

// ChunkSummaries is the structured output of the chunk_summaries schema.
type ChunkSummaries struct {
	Summaries []ChunkSummary `json:"summaries"`
}

// JudgeVerdict is the structured output of the custom_judge schema.
type JudgeVerdict struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}
