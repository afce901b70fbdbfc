package config

import (
	"testing"
	"time"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	for _, key := range []string{"RAG_MAX_CHUNKS", "RAG_FRONTIER", "RAG_RRF_K", "RAG_BM25_WEIGHT", "RAG_MAX_HOPS", "RAG_USE_MULTI_HOP", "BM25_K1", "BM25_B"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.RAGMaxChunks != 7 || cfg.RAGFrontier != 30 || cfg.RAGRRFK != 60 {
		t.Fatalf("unexpected retrieval defaults: chunks=%d frontier=%d k=%d", cfg.RAGMaxChunks, cfg.RAGFrontier, cfg.RAGRRFK)
	}
	if cfg.RAGBM25Weight != 0.5 || cfg.RAGMaxHops != 3 || !cfg.RAGUseMultiHop {
		t.Fatalf("unexpected fusion defaults: weight=%v hops=%d multi=%v", cfg.RAGBM25Weight, cfg.RAGMaxHops, cfg.RAGUseMultiHop)
	}
	if cfg.BM25K1 != 1.2 || cfg.BM25B != 0.75 {
		t.Fatalf("unexpected bm25 defaults: k1=%v b=%v", cfg.BM25K1, cfg.BM25B)
	}
}

func TestLoadIncludesLLMDefaults(t *testing.T) {
	for _, key := range []string{"LLM_BACKOFF_INITIAL", "LLM_BACKOFF_MAX", "LLM_RATE_IDLE_TTL", "LLM_GENERATION_TIMEOUT", "QUOTE_SIMILARITY_THRESHOLD", "DEFAULT_MODEL", "HOP_JUDGE_MODEL", "NATS_URL", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.LLMBackoffMax != time.Minute {
		t.Fatalf("expected backoff ceiling of 1m, got %s", cfg.LLMBackoffMax)
	}
	if cfg.LLMRateIdleTTL != 10*time.Minute {
		t.Fatalf("expected bucket idle ttl of 10m, got %s", cfg.LLMRateIdleTTL)
	}
	if cfg.LLMBackoffInitial != 2*time.Second || cfg.LLMGenerationTimeout != time.Minute {
		t.Fatalf("unexpected llm timings: backoff=%s timeout=%s", cfg.LLMBackoffInitial, cfg.LLMGenerationTimeout)
	}
	if cfg.QuoteSimilarityThreshold != 0.85 || !cfg.QuoteValidationEnabled {
		t.Fatalf("unexpected quote defaults: %v %v", cfg.QuoteSimilarityThreshold, cfg.QuoteValidationEnabled)
	}
	if cfg.JudgeModel != cfg.DefaultModel {
		t.Fatalf("expected judge model to default to %q, got %q", cfg.DefaultModel, cfg.JudgeModel)
	}
	if cfg.NATSURL != "" || cfg.RedisAddr != "" {
		t.Fatalf("expected optional backends disabled by default")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("RAG_BM25_WEIGHT", "0.8")
	t.Setenv("RAG_USE_MULTI_HOP", "false")
	t.Setenv("LLM_JUDGE_TIMEOUT", "12s")
	t.Setenv("DEFAULT_MODEL", "gpt-4o-mini")
	t.Setenv("HOP_JUDGE_MODEL", "")

	cfg := Load()
	if cfg.RAGBM25Weight != 0.8 || cfg.RAGUseMultiHop {
		t.Fatalf("expected overrides, got weight=%v multi=%v", cfg.RAGBM25Weight, cfg.RAGUseMultiHop)
	}
	if cfg.LLMJudgeTimeout != 12*time.Second {
		t.Fatalf("expected judge timeout 12s, got %s", cfg.LLMJudgeTimeout)
	}
	if cfg.JudgeModel != "gpt-4o-mini" {
		t.Fatalf("expected judge model to follow default model, got %q", cfg.JudgeModel)
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("RAG_BM25_WEIGHT", "heavy")
	t.Setenv("LLM_BACKOFF_INITIAL", "2")
	t.Setenv("RAG_MAX_HOPS", "three")

	cfg := Load()
	if cfg.RAGBM25Weight != 0.5 || cfg.LLMBackoffInitial != 2*time.Second || cfg.RAGMaxHops != 3 {
		t.Fatalf("expected fallbacks, got weight=%v backoff=%s hops=%d", cfg.RAGBM25Weight, cfg.LLMBackoffInitial, cfg.RAGMaxHops)
	}
}

func TestLoadIncludesDependencyResilienceDefaults(t *testing.T) {
	for _, key := range []string{"DEP_RETRY_MAX_ATTEMPTS", "DEP_RETRY_MAX_BACKOFF", "EMBED_RETRY_MAX_BACKOFF", "DEP_BREAKER_ENABLED"} {
		t.Setenv(key, "")
	}
	t.Setenv("DEP_BREAKER_OPEN_TIMEOUT", "5s")

	cfg := Load()
	if cfg.DepRetryMaxAttempts != 3 || cfg.DepRetryMaxBackoff != 400*time.Millisecond {
		t.Fatalf("unexpected retry defaults: attempts=%d max=%s", cfg.DepRetryMaxAttempts, cfg.DepRetryMaxBackoff)
	}
	if cfg.EmbedRetryMaxBackoff != 2*time.Second || !cfg.DepBreakerEnabled {
		t.Fatalf("unexpected embed/breaker defaults: %s %v", cfg.EmbedRetryMaxBackoff, cfg.DepBreakerEnabled)
	}
	if cfg.DepBreakerOpenTimeout != 5*time.Second {
		t.Fatalf("expected breaker timeout override, got %s", cfg.DepBreakerOpenTimeout)
	}
}
