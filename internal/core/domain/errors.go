package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
	ErrUnavailable  = errors.New("dependency unavailable")

	// Provider taxonomy. Adapters translate provider failures into these kinds.
	ErrRateLimit        = errors.New("rate limit exceeded")
	ErrAuthentication   = errors.New("authentication failed")
	ErrTimeout          = errors.New("deadline exceeded")
	ErrContentFilter    = errors.New("content filtered")
	ErrTokenLimit       = errors.New("token limit exceeded")
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrPDFParse         = errors.New("pdf parse failed")
	ErrNotImplemented   = errors.New("not implemented")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ProviderError is returned by LLM and embedding adapters. Kind is one of the
// provider taxonomy sentinels above.
type ProviderError struct {
	Kind           error
	Provider       string
	Model          string
	TokensConsumed bool
	// RawText holds the provider output for schema validation failures.
	RawText string
	Err     error
}

func NewProviderError(kind error, provider, model string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Model: model, Err: err}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	var b strings.Builder
	b.WriteString(e.Provider)
	if e.Model != "" {
		b.WriteString("/")
		b.WriteString(e.Model)
	}
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("provider failure")
	}
	if e.TokensConsumed {
		b.WriteString(" (after tokens consumed)")
	} else {
		b.WriteString(" (before tokens consumed)")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// ProviderName extracts the provider from a ProviderError chain, if any.
func ProviderName(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Provider
	}
	return ""
}
