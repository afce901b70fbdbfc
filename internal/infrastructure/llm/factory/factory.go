package factory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

// Builder creates a provider bound to model.
type Builder func(model string) (ports.LLMProvider, error)

type Config struct {
	// RatePerSecond and Burst size the token bucket of every (provider, user)
	// pair. A non-positive rate disables limiting.
	RatePerSecond float64
	Burst         int
	// IdleTTL is how long an untouched bucket is kept. Only full buckets are
	// dropped, so eviction never hands out extra tokens.
	IdleTTL time.Duration
}

const defaultIdleTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

type backend struct {
	name     string
	build    Builder
	prefixes []string
}

// Factory memoizes providers per model and throttles generation per
// (provider, user).
type Factory struct {
	cfg      Config
	backends []backend
	fallback *backend

	mu        sync.Mutex
	providers map[string]ports.LLMProvider
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func New(cfg Config) *Factory {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	return &Factory{
		cfg:       cfg,
		providers: make(map[string]ports.LLMProvider),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// Register adds a backend serving models that start with one of prefixes.
// A backend registered without prefixes serves every other model.
func (f *Factory) Register(name string, build Builder, prefixes ...string) {
	b := backend{name: name, build: build, prefixes: prefixes}
	if len(prefixes) == 0 {
		f.fallback = &b
		return
	}
	f.backends = append(f.backends, b)
}

func (f *Factory) Create(model, userKey string) (ports.LLMProvider, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create provider", fmt.Errorf("model is required"))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	provider, ok := f.providers[model]
	if !ok {
		b := f.route(model)
		if b == nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "create provider", fmt.Errorf("no backend serves model %q", model))
		}
		built, err := b.build(model)
		if err != nil {
			return nil, fmt.Errorf("build %s provider for %s: %w", b.name, model, err)
		}
		provider = built
		f.providers[model] = provider
	}
	return &limitedProvider{LLMProvider: provider, limiter: f.bucketLocked(provider.Name(), userKey)}, nil
}

func (f *Factory) route(model string) *backend {
	lower := strings.ToLower(model)
	for i := range f.backends {
		for _, prefix := range f.backends[i].prefixes {
			if strings.HasPrefix(lower, prefix) {
				return &f.backends[i]
			}
		}
	}
	return f.fallback
}

func (f *Factory) bucketLocked(provider, userKey string) *rate.Limiter {
	now := f.now()
	f.sweepLocked(now)

	key := provider + "|" + userKey
	if b, ok := f.buckets[key]; ok {
		b.lastUsed = now
		return b.limiter
	}
	limit := rate.Inf
	if f.cfg.RatePerSecond > 0 {
		limit = rate.Limit(f.cfg.RatePerSecond)
	}
	b := &bucket{limiter: rate.NewLimiter(limit, f.cfg.Burst), lastUsed: now}
	f.buckets[key] = b
	return b.limiter
}

// sweepLocked drops buckets idle for IdleTTL that have refilled, at most once
// per IdleTTL.
func (f *Factory) sweepLocked(now time.Time) {
	if now.Sub(f.lastSweep) < f.cfg.IdleTTL {
		return
	}
	f.lastSweep = now
	for key, b := range f.buckets {
		if now.Sub(b.lastUsed) < f.cfg.IdleTTL {
			continue
		}
		if b.limiter.Limit() != rate.Inf && b.limiter.TokensAt(now) < float64(b.limiter.Burst()) {
			continue
		}
		delete(f.buckets, key)
	}
}

// limitedProvider waits for a token of its bucket before every generation.
type limitedProvider struct {
	ports.LLMProvider
	limiter *rate.Limiter
}

func (p *limitedProvider) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.NewProviderError(domain.ErrRateLimit, p.Name(), p.Model(), err)
	}
	return p.LLMProvider.Generate(ctx, req)
}
