package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

type LLMRetryConfig struct {
	ContentFilterRetries int
	RateLimitRetries     int
	InitialBackoff       time.Duration
	BackoffFactor        float64
	MaxBackoff           time.Duration
}

func DefaultLLMRetryConfig() LLMRetryConfig {
	return LLMRetryConfig{
		ContentFilterRetries: 3,
		RateLimitRetries:     3,
		InitialBackoff:       2 * time.Second,
		BackoffFactor:        2,
		MaxBackoff:           time.Minute,
	}
}

func (c LLMRetryConfig) normalize() LLMRetryConfig {
	out := c
	def := DefaultLLMRetryConfig()
	if out.ContentFilterRetries < 0 {
		out.ContentFilterRetries = 0
	}
	if out.RateLimitRetries < 0 {
		out.RateLimitRetries = 0
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = def.InitialBackoff
	}
	if out.BackoffFactor < 1.0 {
		out.BackoffFactor = def.BackoffFactor
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = def.MaxBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

// BackoffObserver is told about every rate-limit backoff before it starts.
type BackoffObserver func(call ports.RetryCall, attempt int, wait time.Duration)

// LLMRetrier retries provider calls on content-filter errors (immediately) and
// on rate-limit errors (with exponential backoff). Every other error is
// returned as is. The whole sequence runs inside call.Deadline.
type LLMRetrier struct {
	cfg     LLMRetryConfig
	observe BackoffObserver
}

func NewLLMRetrier(cfg LLMRetryConfig, observer BackoffObserver) *LLMRetrier {
	return &LLMRetrier{cfg: cfg.normalize(), observe: observer}
}

func (r *LLMRetrier) Do(ctx context.Context, call ports.RetryCall, fn func(context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	if call.Deadline <= 0 {
		return r.retry(ctx, call, fn)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, call.Deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.retry(deadlineCtx, call, fn)
	}()

	select {
	case err := <-done:
		if err != nil && r.budgetExpired(ctx, deadlineCtx) {
			return r.timeoutError(call, err)
		}
		return err
	case <-deadlineCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return r.timeoutError(call, deadlineCtx.Err())
	}
}

func (r *LLMRetrier) retry(ctx context.Context, call ports.RetryCall, fn func(context.Context) error) error {
	contentFilterRetries := 0
	rateLimitRetries := 0
	backoff := r.cfg.InitialBackoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		switch {
		case domain.IsKind(err, domain.ErrContentFilter) && contentFilterRetries < r.cfg.ContentFilterRetries:
			contentFilterRetries++
			slog.Warn("retry_attempt",
				"operation", call.Operation,
				"provider", call.Provider,
				"reason", "content_filter",
				"attempt", attempt,
				"retry", contentFilterRetries,
				"max_retries", r.cfg.ContentFilterRetries,
				"error", err,
			)

		case domain.IsKind(err, domain.ErrRateLimit) && rateLimitRetries < r.cfg.RateLimitRetries:
			rateLimitRetries++
			wait := backoff
			if wait > r.cfg.MaxBackoff {
				wait = r.cfg.MaxBackoff
			}
			slog.Warn("retry_attempt",
				"operation", call.Operation,
				"provider", call.Provider,
				"reason", "rate_limit",
				"attempt", attempt,
				"retry", rateLimitRetries,
				"max_retries", r.cfg.RateLimitRetries,
				"backoff_ms", float64(wait.Microseconds())/1000.0,
				"error", err,
			)
			if r.observe != nil {
				r.observe(call, rateLimitRetries, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * r.cfg.BackoffFactor)

		default:
			return err
		}
	}
}

// budgetExpired reports whether the retry deadline, not the caller, ended the call.
func (r *LLMRetrier) budgetExpired(parent, deadlineCtx context.Context) bool {
	return errors.Is(deadlineCtx.Err(), context.DeadlineExceeded) && !errors.Is(parent.Err(), context.Canceled)
}

func (r *LLMRetrier) timeoutError(call ports.RetryCall, cause error) error {
	return &domain.ProviderError{
		Kind:     domain.ErrTimeout,
		Provider: call.Provider,
		Model:    call.Model,
		Err: fmt.Errorf("%s did not finish within %s; retries and backoff are included in this budget: %w",
			call.Operation, call.Deadline, cause),
	}
}
