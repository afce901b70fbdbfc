package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRateLimit):
		return http.StatusTooManyRequests
	case domain.IsKind(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrContentFilter),
		domain.IsKind(err, domain.ErrTokenLimit),
		domain.IsKind(err, domain.ErrPDFParse):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrAuthentication),
		domain.IsKind(err, domain.ErrSchemaValidation):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrNotImplemented):
		return http.StatusNotImplemented
	case domain.IsKind(err, domain.ErrUnavailable), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errorKinds = []struct {
	kind error
	name string
}{
	{domain.ErrInvalidInput, "invalid_input"},
	{domain.ErrRateLimit, "rate_limit"},
	{domain.ErrAuthentication, "authentication"},
	{domain.ErrTimeout, "timeout"},
	{domain.ErrContentFilter, "content_filter"},
	{domain.ErrTokenLimit, "token_limit"},
	{domain.ErrSchemaValidation, "schema_validation"},
	{domain.ErrPDFParse, "pdf_parse"},
	{domain.ErrNotImplemented, "not_implemented"},
	{domain.ErrUnavailable, "unavailable"},
	{domain.ErrTemporary, "temporary"},
}

func errorKindName(err error) string {
	for _, k := range errorKinds {
		if domain.IsKind(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}

type errorResponse struct {
	Error          string `json:"error"`
	Kind           string `json:"kind"`
	Provider       string `json:"provider,omitempty"`
	TokensConsumed bool   `json:"tokens_consumed,omitempty"`
	RawText        string `json:"raw_text,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	resp := errorResponse{
		Error:     err.Error(),
		Kind:      errorKindName(err),
		Provider:  domain.ProviderName(err),
		RequestID: requestIDFromContext(r.Context()),
	}
	var perr *domain.ProviderError
	if errors.As(err, &perr) {
		resp.TokensConsumed = perr.TokensConsumed
		resp.RawText = perr.RawText
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
