package qdrant

import (
	"fmt"
	"math"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

func chunkPayload(chunk domain.DocumentChunk) map[string]any {
	payload := map[string]any{
		"chunk_id":        chunk.ChunkID,
		"document_id":     chunk.DocumentID,
		"text":            chunk.Text,
		"header":          chunk.Header,
		"header_level":    chunk.HeaderLevel,
		"position_in_doc": chunk.PositionInDoc,
		"source_name":     chunk.Metadata.SourceName,
		"doc_type":        string(chunk.Metadata.DocType),
		"section":         chunk.Metadata.Section,
		"team":            chunk.Metadata.Team,
	}
	if !chunk.Metadata.PublicationDate.IsZero() {
		payload["publication_date"] = chunk.Metadata.PublicationDate.UTC().Format(time.RFC3339)
	}
	return payload
}

func chunkFromPayload(payload map[string]any) domain.DocumentChunk {
	chunk := domain.DocumentChunk{
		ChunkID:       getStringPayload(payload, "chunk_id"),
		DocumentID:    getStringPayload(payload, "document_id"),
		Text:          getStringPayload(payload, "text"),
		Header:        getStringPayload(payload, "header"),
		HeaderLevel:   getIntPayload(payload, "header_level"),
		PositionInDoc: getIntPayload(payload, "position_in_doc"),
		Metadata: domain.ChunkMetadata{
			SourceName: getStringPayload(payload, "source_name"),
			DocType:    domain.DocType(getStringPayload(payload, "doc_type")),
			Section:    getStringPayload(payload, "section"),
			Team:       getStringPayload(payload, "team"),
		},
	}
	if raw := getStringPayload(payload, "publication_date"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			chunk.Metadata.PublicationDate = ts
		}
	}
	return chunk
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}
