package ollama

import (
	"encoding/json"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/prompt"
	"github.com/kirillkom/rules-qa/internal/core/schema"
)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Format  json.RawMessage `json:"format"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// buildGenerateRequest constrains decoding with the JSON schema of the
// requested output. Only the default schema gets the answer system prompt.
func buildGenerateRequest(model string, req domain.GenerateRequest, def schema.Definition) generateRequest {
	return generateRequest{
		Model:  model,
		Prompt: prompt.UserPrompt(req),
		System: prompt.SystemFor(req.Config),
		Format: def.JSONSchemaBytes(),
		Options: generateOptions{
			Temperature: req.Config.Temperature,
			NumPredict:  req.Config.MaxTokens,
		},
	}
}
