package schema

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

func closedObject(properties map[string]*openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	s.Properties = make(openapi3.Schemas, len(properties))
	required := make([]string, 0, len(properties))
	for name, prop := range properties {
		s.Properties[name] = openapi3.NewSchemaRef("", prop)
		required = append(required, name)
	}
	sort.Strings(required)
	s.Required = required
	closed := false
	s.AdditionalProperties = openapi3.AdditionalProperties{Has: &closed}
	return s
}

func arrayOf(item *openapi3.Schema) *openapi3.Schema {
	s := openapi3.NewArraySchema()
	s.Items = openapi3.NewSchemaRef("", item)
	return s
}

func describedString(description string) *openapi3.Schema {
	s := openapi3.NewStringSchema()
	s.Description = description
	return s
}

func answerSchema() *openapi3.Schema {
	quote := closedObject(map[string]*openapi3.Schema{
		"quote_title": describedString("Rule or section name the quote comes from."),
		"quote_text":  describedString("Verbatim text copied from the cited chunk."),
		"chunk_id":    describedString("Short id of the cited chunk, e.g. 1a2b3c4d."),
	})
	return closedObject(map[string]*openapi3.Schema{
		"smalltalk":            openapi3.NewBoolSchema(),
		"short_answer":         openapi3.NewStringSchema(),
		"persona_short_answer": openapi3.NewStringSchema(),
		"quotes":               arrayOf(quote),
		"explanation":          openapi3.NewStringSchema(),
		"persona_afterword":    openapi3.NewStringSchema(),
	})
}

func hopEvaluationSchema() *openapi3.Schema {
	missing := describedString("Refined follow-up search query, or null when nothing is missing.")
	missing.Nullable = true
	return closedObject(map[string]*openapi3.Schema{
		"can_answer":    openapi3.NewBoolSchema(),
		"reasoning":     openapi3.NewStringSchema(),
		"missing_query": missing,
	})
}

func chunkSummariesSchema() *openapi3.Schema {
	item := closedObject(map[string]*openapi3.Schema{
		"chunk_id": openapi3.NewStringSchema(),
		"summary":  openapi3.NewStringSchema(),
	})
	return closedObject(map[string]*openapi3.Schema{
		"summaries": arrayOf(item),
	})
}

func customJudgeSchema() *openapi3.Schema {
	score := openapi3.NewFloat64Schema()
	lo, hi := 0.0, 1.0
	score.Min = &lo
	score.Max = &hi
	return closedObject(map[string]*openapi3.Schema{
		"score":    score,
		"feedback": openapi3.NewStringSchema(),
	})
}

// project converts an OpenAPI schema into plain JSON Schema: nullable types
// become ["type","null"] unions, which strict structured-output modes expect.
func project(s *openapi3.Schema) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := map[string]any{}

	types := s.Type.Slice()
	switch {
	case len(types) == 1 && s.Nullable:
		out["type"] = []any{types[0], "null"}
	case len(types) == 1:
		out["type"] = types[0]
	case len(types) > 1:
		union := make([]any, 0, len(types)+1)
		for _, t := range types {
			union = append(union, t)
		}
		if s.Nullable {
			union = append(union, "null")
		}
		out["type"] = union
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Min != nil {
		out["minimum"] = *s.Min
	}
	if s.Max != nil {
		out["maximum"] = *s.Max
	}

	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, ref := range s.Properties {
			if ref == nil {
				continue
			}
			props[name] = project(ref.Value)
		}
		out["properties"] = props
		required := make([]any, 0, len(s.Required))
		for _, name := range s.Required {
			required = append(required, name)
		}
		out["required"] = required
	}
	if s.AdditionalProperties.Has != nil {
		out["additionalProperties"] = *s.AdditionalProperties.Has
	}
	if s.Items != nil {
		out["items"] = project(s.Items.Value)
	}
	return out
}
