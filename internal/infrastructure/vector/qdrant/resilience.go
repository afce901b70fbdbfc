package qdrant

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

// StatusError is a non-2xx answer from the Qdrant REST API.
type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "qdrant status error"
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("qdrant %s: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("qdrant %s: %s: %s", e.Operation, e.Status, msg)
}

func classifyQdrantError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return resilience.ClassifyStatus(statusErr.StatusCode)
	}
	// Malformed responses point at a broken collection, not a transient fault.
	return resilience.ErrorClassification{RecordFailure: true}
}
