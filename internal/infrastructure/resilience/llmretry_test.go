package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

func providerErr(kind error) error {
	return domain.NewProviderError(kind, "stub", "stub-model", errors.New("boom"))
}

func testCall(deadline time.Duration) ports.RetryCall {
	return ports.RetryCall{Operation: "generate", Provider: "stub", Model: "stub-model", Deadline: deadline}
}

func TestLLMRetrierContentFilterMakesNPlusOneAttempts(t *testing.T) {
	retrier := NewLLMRetrier(LLMRetryConfig{
		ContentFilterRetries: 3,
		RateLimitRetries:     3,
		InitialBackoff:       time.Millisecond,
		BackoffFactor:        2,
	}, nil)

	attempts := 0
	deadline := 500 * time.Millisecond
	started := time.Now()
	err := retrier.Do(context.Background(), testCall(deadline), func(context.Context) error {
		attempts++
		return providerErr(domain.ErrContentFilter)
	})
	if !domain.IsKind(err, domain.ErrContentFilter) {
		t.Fatalf("expected content filter error, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}
	if elapsed := time.Since(started); elapsed > deadline {
		t.Fatalf("retries exceeded deadline: %s", elapsed)
	}
}

func TestLLMRetrierRecoversFromRateLimitWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var waits []time.Duration
	retrier := NewLLMRetrier(LLMRetryConfig{
		ContentFilterRetries: 3,
		RateLimitRetries:     3,
		InitialBackoff:       2 * time.Millisecond,
		BackoffFactor:        2,
	}, func(_ ports.RetryCall, _ int, wait time.Duration) {
		mu.Lock()
		waits = append(waits, wait)
		mu.Unlock()
	})

	attempts := 0
	deadline := time.Second
	started := time.Now()
	err := retrier.Do(context.Background(), testCall(deadline), func(context.Context) error {
		attempts++
		if attempts <= 2 {
			return providerErr(domain.ErrRateLimit)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after rate limits, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(waits) != 2 || waits[0] != 2*time.Millisecond || waits[1] != 4*time.Millisecond {
		t.Fatalf("unexpected backoff intervals: %v", waits)
	}
	if elapsed := time.Since(started); elapsed > deadline {
		t.Fatalf("recovery exceeded deadline: %s", elapsed)
	}
}

func TestLLMRetrierBackoffGrowsWithoutExplicitCeiling(t *testing.T) {
	var waits []time.Duration
	retrier := NewLLMRetrier(LLMRetryConfig{
		RateLimitRetries: 3,
		InitialBackoff:   time.Millisecond,
		BackoffFactor:    2,
	}, func(_ ports.RetryCall, _ int, wait time.Duration) {
		waits = append(waits, wait)
	})

	err := retrier.Do(context.Background(), testCall(0), func(context.Context) error {
		return providerErr(domain.ErrRateLimit)
	})
	if !domain.IsKind(err, domain.ErrRateLimit) {
		t.Fatalf("expected rate limit after retries, got %v", err)
	}
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("unexpected backoff intervals: %v", waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("unexpected backoff intervals: %v", waits)
		}
	}
}

func TestLLMRetrierCapsBackoffAtMaximum(t *testing.T) {
	var waits []time.Duration
	retrier := NewLLMRetrier(LLMRetryConfig{
		RateLimitRetries: 3,
		InitialBackoff:   time.Millisecond,
		BackoffFactor:    4,
		MaxBackoff:       2 * time.Millisecond,
	}, func(_ ports.RetryCall, _ int, wait time.Duration) {
		waits = append(waits, wait)
	})

	_ = retrier.Do(context.Background(), testCall(0), func(context.Context) error {
		return providerErr(domain.ErrRateLimit)
	})
	if len(waits) != 3 || waits[0] != time.Millisecond || waits[1] != 2*time.Millisecond || waits[2] != 2*time.Millisecond {
		t.Fatalf("unexpected backoff intervals: %v", waits)
	}
}

func TestLLMRetrierDoesNotRetryOtherErrors(t *testing.T) {
	retrier := NewLLMRetrier(DefaultLLMRetryConfig(), nil)

	for _, kind := range []error{domain.ErrAuthentication, domain.ErrTokenLimit, domain.ErrSchemaValidation} {
		attempts := 0
		err := retrier.Do(context.Background(), testCall(time.Second), func(context.Context) error {
			attempts++
			return providerErr(kind)
		})
		if !domain.IsKind(err, kind) {
			t.Fatalf("expected %v, got %v", kind, err)
		}
		if attempts != 1 {
			t.Fatalf("expected a single attempt for %v, got %d", kind, attempts)
		}
	}
}

func TestLLMRetrierRaisesTimeoutWhenProviderSleepsPastDeadline(t *testing.T) {
	retrier := NewLLMRetrier(DefaultLLMRetryConfig(), nil)

	started := time.Now()
	err := retrier.Do(context.Background(), testCall(30*time.Millisecond), func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if domain.ProviderName(err) != "stub" {
		t.Fatalf("expected provider name on timeout, got %q", domain.ProviderName(err))
	}
	if !strings.Contains(err.Error(), "retries") {
		t.Fatalf("expected timeout message to mention retries, got %q", err.Error())
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestLLMRetrierCountsBackoffAgainstDeadline(t *testing.T) {
	retrier := NewLLMRetrier(LLMRetryConfig{
		RateLimitRetries: 5,
		InitialBackoff:   time.Second,
		BackoffFactor:    2,
	}, nil)

	started := time.Now()
	err := retrier.Do(context.Background(), testCall(40*time.Millisecond), func(context.Context) error {
		return providerErr(domain.ErrRateLimit)
	})
	if !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout during backoff, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("backoff was not bounded by the deadline: %s", elapsed)
	}
}

func TestLLMRetrierPropagatesCallerCancellation(t *testing.T) {
	retrier := NewLLMRetrier(DefaultLLMRetryConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retrier.Do(ctx, testCall(time.Second), func(ctx context.Context) error {
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("cancellation must not be reported as timeout")
	}
}
