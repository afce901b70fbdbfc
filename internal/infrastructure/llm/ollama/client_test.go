package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/prompt"
	"github.com/kirillkom/rules-qa/internal/infrastructure/resilience"
)

const compliantAnswer = `{"smalltalk":false,"short_answer":"No.","persona_short_answer":"Negative.","quotes":[{"quote_title":"Actions","quote_text":"Shoot is an action.","chunk_id":"1a2b3c4d"}],"explanation":"Once per activation.","persona_afterword":"Carry on."}`

func generateServer(t *testing.T, captured *map[string]any, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if captured != nil {
			*captured = payload
		}
		_, _ = w.Write([]byte(body))
	}))
}

func ollamaReply(response string, promptTokens, completionTokens int) string {
	raw, _ := json.Marshal(map[string]any{
		"model":             "llama3.1:8b",
		"response":          response,
		"done":              true,
		"done_reason":       "stop",
		"prompt_eval_count": promptTokens,
		"eval_count":        completionTokens,
	})
	return string(raw)
}

func TestGenerateSendsSchemaSystemPromptAndTaggedChunks(t *testing.T) {
	var payload map[string]any
	server := generateServer(t, &payload, ollamaReply(compliantAnswer, 812, 97))
	defer server.Close()

	provider := NewProvider(New(server.URL, "llama3.1:8b", "nomic-embed-text", nil), "", nil)
	resp, err := provider.Generate(context.Background(), domain.GenerateRequest{
		Prompt:   "Can I shoot twice?",
		Context:  []string{"Shoot is an action."},
		ChunkIDs: []string{"1a2b3c4d"},
		Config:   domain.GenerationConfig{MaxTokens: 512, IncludeCitations: true},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if !strings.Contains(payload["prompt"].(string), "[CHUNK_1a2b3c4d]:") {
		t.Fatalf("expected tagged chunk in prompt: %v", payload["prompt"])
	}
	if payload["system"] != prompt.SystemPrompt(prompt.ProfileDefault) {
		t.Fatalf("expected default system prompt, got %v", payload["system"])
	}
	format, ok := payload["format"].(map[string]any)
	if !ok || format["additionalProperties"] != false {
		t.Fatalf("expected closed JSON schema as format, got %v", payload["format"])
	}
	if payload["stream"] != false {
		t.Fatalf("expected non-streaming request")
	}

	answer, ok := resp.Answer()
	if !ok || answer.Quotes[0].ChunkID != "1a2b3c4d" {
		t.Fatalf("expected decoded answer, got %+v", resp.StructuredOutput)
	}
	if resp.PromptTokens != 812 || resp.CompletionTokens != 97 || resp.TokenCount != 909 {
		t.Fatalf("unexpected token counts %+v", resp)
	}
	if resp.Provider != "ollama" || resp.ModelVersion != "llama3.1:8b" || !resp.CitationsIncluded {
		t.Fatalf("unexpected response metadata %+v", resp)
	}
}

func TestGenerateHopEvaluationSkipsAnswerSystemPrompt(t *testing.T) {
	var payload map[string]any
	server := generateServer(t, &payload, ollamaReply(`{"can_answer":true,"reasoning":"enough","missing_query":null}`, 10, 5))
	defer server.Close()

	provider := NewProvider(New(server.URL, "llama3.1:8b", "embed", nil), "", nil)
	resp, err := provider.Generate(context.Background(), domain.GenerateRequest{
		Prompt: "judge this",
		Config: domain.GenerationConfig{SchemaName: domain.SchemaHopEvaluation},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, present := payload["system"]; present {
		t.Fatalf("hop evaluation must not carry the answer system prompt, got %v", payload["system"])
	}
	judgement, ok := resp.StructuredOutput.(*domain.HopJudgement)
	if !ok || !judgement.CanAnswer || judgement.MissingQuery != nil {
		t.Fatalf("unexpected judgement %+v", resp.StructuredOutput)
	}
}

func TestGenerateRejectsNonConformingOutput(t *testing.T) {
	server := generateServer(t, nil, ollamaReply(`{"short_answer":"No.","extra":1}`, 10, 5))
	defer server.Close()

	provider := NewProvider(New(server.URL, "llama3.1:8b", "embed", nil), "", nil)
	_, err := provider.Generate(context.Background(), domain.GenerateRequest{Prompt: "q"})
	if !domain.IsKind(err, domain.ErrSchemaValidation) {
		t.Fatalf("expected schema validation error, got %v", err)
	}
	var providerErr *domain.ProviderError
	if !errors.As(err, &providerErr) || !providerErr.TokensConsumed || !strings.Contains(providerErr.RawText, "extra") {
		t.Fatalf("expected raw text and consumed tokens, got %+v", providerErr)
	}
}

func TestGenerateReportsZeroTokensWhenUsageMissing(t *testing.T) {
	server := generateServer(t, nil, `{"response":`+strconvQuote(compliantAnswer)+`}`)
	defer server.Close()

	provider := NewProvider(New(server.URL, "llama3.1:8b", "embed", nil), "", nil)
	resp, err := provider.Generate(context.Background(), domain.GenerateRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.PromptTokens != 0 || resp.CompletionTokens != 0 || resp.ModelVersion != "llama3.1:8b" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func strconvQuote(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

func TestGenerateMapsHTTPFailuresToTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, "slow down", domain.ErrRateLimit},
		{http.StatusUnauthorized, "bad key", domain.ErrAuthentication},
		{http.StatusBadRequest, "input exceeds context length", domain.ErrTokenLimit},
		{http.StatusServiceUnavailable, "loading model", domain.ErrUnavailable},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, tc.body, tc.status)
		}))
		provider := NewProvider(New(server.URL, "llama3.1:8b", "embed", nil), "", nil)
		_, err := provider.Generate(context.Background(), domain.GenerateRequest{Prompt: "q"})
		server.Close()

		if !domain.IsKind(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if domain.ProviderName(err) != "ollama" {
			t.Fatalf("status %d: expected provider name, got %q", tc.status, domain.ProviderName(err))
		}
	}
}

func TestGenerateHonorsConfiguredTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	provider := NewProvider(New(server.URL, "llama3.1:8b", "embed", nil), "", nil)
	_, err := provider.Generate(context.Background(), domain.GenerateRequest{
		Prompt: "q",
		Config: domain.GenerationConfig{Timeout: 30 * time.Millisecond},
	})
	if !domain.IsKind(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed", nil)
	embedder := NewEmbedder(client)
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected bad gateway to be temporary, got %v", err)
	}
}

func TestEmbedRetriesThroughExecutor(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	executor := resilience.NewExecutor(resilience.Config{
		Retry: resilience.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	})
	embedder := NewEmbedder(New(server.URL, "gen", "nomic-embed-text", executor))
	vector, err := embedder.EmbedQuery(context.Background(), "shoot action")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vector) != 3 || calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls and vector %v", calls.Load(), vector)
	}
	if embedder.ModelName() != "nomic-embed-text" {
		t.Fatalf("unexpected model name %q", embedder.ModelName())
	}
}

func TestEmbedKeepsAuthenticationTyped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewEmbedder(New(server.URL, "gen", "embed", nil)).Embed(context.Background(), []string{"x"})
	if !domain.IsKind(err, domain.ErrAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
}

func TestExtractPDFWithoutExtractorIsNotImplemented(t *testing.T) {
	provider := NewProvider(New("http://127.0.0.1:1", "gen", "embed", nil), "", nil)
	_, err := provider.ExtractPDF(context.Background(), domain.ExtractionRequest{Filename: "rules.pdf"})
	if !domain.IsKind(err, domain.ErrNotImplemented) {
		t.Fatalf("expected not implemented, got %v", err)
	}
}
