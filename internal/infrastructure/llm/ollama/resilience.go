package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

func classifyOllamaError(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resilience.ClassifyStatus(statusErr.StatusCode)
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

// toProviderError maps a failed Ollama call onto the provider error taxonomy.
// Caller cancellation is returned unchanged.
func toProviderError(model string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewProviderError(domain.ErrTimeout, providerName, model, err)
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.NewProviderError(kindForStatus(statusErr), providerName, model, err)
	}
	return domain.NewProviderError(domain.ErrUnavailable, providerName, model, err)
}

func kindForStatus(e *HTTPStatusError) error {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrAuthentication
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return domain.ErrTimeout
	}
	body := strings.ToLower(e.Body)
	if strings.Contains(body, "context length") || strings.Contains(body, "too long") {
		return domain.ErrTokenLimit
	}
	if e.StatusCode >= 500 {
		return domain.ErrUnavailable
	}
	return domain.ErrInvalidInput
}

// embedError keeps quota and credential failures typed. Everything else is
// marked temporary when retryable.
func embedError(model string, err error) error {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusForbidden:
			return toProviderError(model, err)
		}
	}
	return resilience.MarkTemporary("ollama embed", err, classifyOllamaError)
}
