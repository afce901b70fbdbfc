package domain

import "time"

const (
	SchemaDefault        = "default"
	SchemaHopEvaluation  = "hop_evaluation"
	SchemaChunkSummaries = "chunk_summaries"
	SchemaCustomJudge    = "custom_judge"
)

type GenerationConfig struct {
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	SystemPrompt     string        `json:"system_prompt"`
	SchemaName       string        `json:"schema_name"`
	Timeout          time.Duration `json:"timeout"`
	IncludeCitations bool          `json:"include_citations"`
}

// Schema returns the requested schema name, defaulting to SchemaDefault.
func (c GenerationConfig) Schema() string {
	if c.SchemaName == "" {
		return SchemaDefault
	}
	return c.SchemaName
}

type GenerateRequest struct {
	Prompt string
	// Context holds chunk texts; ChunkIDs, when set, is aligned 1:1 with it.
	Context  []string
	ChunkIDs []string
	Config   GenerationConfig
}

type LLMResponse struct {
	ResponseID        string `json:"response_id"`
	AnswerText        string `json:"answer_text"`
	StructuredOutput  any    `json:"structured_output,omitempty"`
	PromptTokens      int    `json:"prompt_tokens"`
	CompletionTokens  int    `json:"completion_tokens"`
	TokenCount        int    `json:"token_count"`
	LatencyMS         int64  `json:"latency_ms"`
	Provider          string `json:"provider"`
	ModelVersion      string `json:"model_version"`
	CitationsIncluded bool   `json:"citations_included"`

	QuoteValidation *QuoteValidationReport `json:"quote_validation,omitempty"`
}

// Answer returns the structured answer when the default schema was used.
func (r *LLMResponse) Answer() (*Answer, bool) {
	if r == nil {
		return nil, false
	}
	switch v := r.StructuredOutput.(type) {
	case *Answer:
		return v, v != nil
	case Answer:
		return &v, true
	default:
		return nil, false
	}
}

type ExtractionRequest struct {
	Filename string
	Data     []byte
}

type ExtractionResponse struct {
	Text      string `json:"text"`
	Pages     int    `json:"pages"`
	Provider  string `json:"provider"`
	LatencyMS int64  `json:"latency_ms"`
}
