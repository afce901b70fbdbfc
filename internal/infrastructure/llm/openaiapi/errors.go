package openaiapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

// toProviderError maps SDK failures onto the provider error taxonomy.
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

	status, code, message := describe(err)
	return domain.NewProviderError(kindFor(status, code, message), providerName, model, err)
}

func describe(err error) (status int, code, message string) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return apiErr.HTTPStatusCode, code, apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode, "", reqErr.Error()
	}
	return 0, "", err.Error()
}

func kindFor(status int, code, message string) error {
	message = strings.ToLower(message)
	switch {
	case code == "context_length_exceeded" || strings.Contains(message, "maximum context length"):
		return domain.ErrTokenLimit
	case code == "content_filter" || code == "content_policy_violation" || strings.Contains(message, "content management policy"):
		return domain.ErrContentFilter
	case status == http.StatusTooManyRequests:
		return domain.ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ErrAuthentication
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	case status >= 500 || status == 0:
		return domain.ErrUnavailable
	default:
		return domain.ErrInvalidInput
	}
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	status, _, _ := describe(err)
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case status > 0:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
