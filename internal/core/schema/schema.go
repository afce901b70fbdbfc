// Package schema holds the closed structured-output schemas that LLM adapters
// must honor and validates provider output against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

// Definition describes one structured-output schema.
type Definition struct {
	Name        string
	ToolName    string
	Description string

	schema *openapi3.Schema
	decode func([]byte) (any, error)
}

var registry = map[string]Definition{
	domain.SchemaDefault: {
		Name:        domain.SchemaDefault,
		ToolName:    "rules_answer",
		Description: "Structured answer to a rules question with verbatim, chunk-cited quotes.",
		schema:      answerSchema(),
		decode:      decodeAnswer,
	},
	domain.SchemaHopEvaluation: {
		Name:        domain.SchemaHopEvaluation,
		ToolName:    "hop_evaluation",
		Description: "Decide whether the retrieved context is sufficient and propose a follow-up query if not.",
		schema:      hopEvaluationSchema(),
		decode:      decodeInto[domain.HopJudgement],
	},
	domain.SchemaChunkSummaries: {
		Name:        domain.SchemaChunkSummaries,
		ToolName:    "chunk_summaries",
		Description: "One-sentence summary per retrieved chunk.",
		schema:      chunkSummariesSchema(),
		decode:      decodeInto[domain.ChunkSummaries],
	},
	domain.SchemaCustomJudge: {
		Name:        domain.SchemaCustomJudge,
		ToolName:    "custom_judge",
		Description: "Score an answer between 0 and 1 with feedback.",
		schema:      customJudgeSchema(),
		decode:      decodeInto[domain.JudgeVerdict],
	},
}

// Lookup returns the schema registered under name. An empty name selects the
// default answer schema.
func Lookup(name string) (Definition, error) {
	if strings.TrimSpace(name) == "" {
		name = domain.SchemaDefault
	}
	def, ok := registry[name]
	if !ok {
		return Definition{}, domain.WrapError(domain.ErrInvalidInput, "schema lookup", fmt.Errorf("unknown schema %q", name))
	}
	return def, nil
}

// Names lists the supported schema names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks raw against the named schema and decodes it into the typed
// structured output (*domain.Answer, *domain.HopJudgement, ...).
func Validate(name, raw string) (any, error) {
	def, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return def.Validate(raw)
}

// Validate checks raw and decodes it. Extra fields anywhere in the document
// fail validation.
func (d Definition) Validate(raw string) (any, error) {
	payload := []byte(strings.TrimSpace(raw))
	if len(payload) == 0 {
		return nil, fmt.Errorf("schema %s: empty document", d.Name)
	}

	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, fmt.Errorf("schema %s: invalid json: %w", d.Name, err)
	}
	if err := d.schema.VisitJSON(generic); err != nil {
		return nil, fmt.Errorf("schema %s: %w", d.Name, err)
	}

	out, err := d.decode(payload)
	if err != nil {
		return nil, fmt.Errorf("schema %s: %w", d.Name, err)
	}
	return out, nil
}

// JSONSchema is the JSON Schema projection handed to providers that support
// native structured outputs.
func (d Definition) JSONSchema() map[string]any {
	return project(d.schema)
}

// JSONSchemaBytes is JSONSchema marshaled once.
func (d Definition) JSONSchemaBytes() json.RawMessage {
	raw, err := json.Marshal(d.JSONSchema())
	if err != nil {
		// The projection only contains maps, slices, strings, bools and floats.
		panic(fmt.Sprintf("schema %s: marshal projection: %v", d.Name, err))
	}
	return raw
}

func decodeInto[T any](payload []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	out := new(T)
	if err := dec.Decode(out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// decodeAnswer also rejects a rules answer that cites nothing: quotes may be
// empty only for smalltalk.
func decodeAnswer(payload []byte) (any, error) {
	out, err := decodeInto[domain.Answer](payload)
	if err != nil {
		return nil, err
	}
	if answer := out.(*domain.Answer); !answer.Smalltalk && len(answer.Quotes) == 0 {
		return nil, errors.New("quotes must not be empty when smalltalk is false")
	}
	return out, nil
}
