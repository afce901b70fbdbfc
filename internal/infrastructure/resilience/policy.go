package resilience

import (
	"strings"
	"time"
)

// RetryPolicy bounds the attempts of one dependency call.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

type BreakerPolicy struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// Config holds the policies shared by every dependency. Dependencies
// overrides the retry policy for operations named "<dependency>.<call>",
// e.g. "ollama" for "ollama.embed".
type Config struct {
	Retry        RetryPolicy
	Breaker      BreakerPolicy
	Dependencies map[string]RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     400 * time.Millisecond,
			Multiplier:     2.0,
		},
		Breaker: BreakerPolicy{
			Enabled:          true,
			MinRequests:      10,
			FailureRatio:     0.5,
			OpenTimeout:      30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := Config{
		Retry:   c.Retry.normalize(def.Retry),
		Breaker: c.Breaker,
	}

	if out.Breaker.MinRequests == 0 {
		out.Breaker.MinRequests = def.Breaker.MinRequests
	}
	if out.Breaker.FailureRatio <= 0 || out.Breaker.FailureRatio > 1 {
		out.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if out.Breaker.OpenTimeout <= 0 {
		out.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if out.Breaker.HalfOpenMaxCalls == 0 {
		out.Breaker.HalfOpenMaxCalls = def.Breaker.HalfOpenMaxCalls
	}

	if len(c.Dependencies) > 0 {
		out.Dependencies = make(map[string]RetryPolicy, len(c.Dependencies))
		for name, policy := range c.Dependencies {
			out.Dependencies[strings.ToLower(strings.TrimSpace(name))] = policy.normalize(out.Retry)
		}
	}
	return out
}

// normalize fills unset fields from base.
func (p RetryPolicy) normalize(base RetryPolicy) RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = base.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = base.MaxBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = base.Multiplier
		if p.Multiplier < 1.0 {
			p.Multiplier = 2.0
		}
	}
	return p
}

func (c Config) retryFor(operation string) RetryPolicy {
	dependency, _, _ := strings.Cut(operation, ".")
	if policy, ok := c.Dependencies[strings.ToLower(dependency)]; ok {
		return policy
	}
	return c.Retry
}
