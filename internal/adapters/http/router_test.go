package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

type ragFake struct {
	err error

	retrieveReq domain.RetrieveRequest
	model       string
	generateIn  ports.GenerateInput
}

func (f *ragFake) RetrieveRAG(_ context.Context, req domain.RetrieveRequest) (*domain.RetrievalResult, error) {
	f.retrieveReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RetrievalResult{
		Context: &domain.RAGContext{
			ContextID: "ctx-1",
			QueryID:   "q-1",
			Chunks:    []domain.DocumentChunk{{ChunkID: "c1", ShortID: "0000abcd", Text: "Shoot is an action."}},
		},
		ChunkHops: map[string]int{"0000abcd": 0},
		Duration:  1500 * time.Millisecond,
	}, nil
}

func (f *ragFake) GenerateWithContext(_ context.Context, in ports.GenerateInput) (*domain.LLMResponse, []string, error) {
	f.generateIn = in
	if f.err != nil {
		return nil, nil, f.err
	}
	return &domain.LLMResponse{ResponseID: "r-1", AnswerText: "{}", Provider: "stub"}, in.Context.ShortIDs(), nil
}

func (f *ragFake) ProcessQuery(ctx context.Context, req domain.RetrieveRequest, model string) (*ports.QueryOutcome, error) {
	f.model = model
	retrieval, err := f.RetrieveRAG(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ports.QueryOutcome{
		Retrieval: retrieval,
		Response:  &domain.LLMResponse{ResponseID: "r-2"},
		ChunkIDs:  retrieval.Context.ShortIDs(),
	}, nil
}

type reloaderFake struct {
	reasons []string
	err     error
}

func (r *reloaderFake) Reload(_ context.Context, reason string) error {
	r.reasons = append(r.reasons, reason)
	return r.err
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestRetrievePassesTuningAndReturnsDuration(t *testing.T) {
	rag := &ragFake{}
	handler := NewRouter(RouterConfig{}, rag, nil, nil).Handler()

	res := postJSON(t, handler, "/v1/rag/retrieve", map[string]any{
		"query":         "Can I shoot twice?",
		"max_chunks":    5,
		"bm25_weight":   0.7,
		"use_multi_hop": false,
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if rag.retrieveReq.MaxChunks != 5 || rag.retrieveReq.BM25Weight == nil || *rag.retrieveReq.BM25Weight != 0.7 {
		t.Fatalf("tuning not forwarded: %+v", rag.retrieveReq)
	}
	if rag.retrieveReq.UseMultiHop == nil || *rag.retrieveReq.UseMultiHop {
		t.Fatalf("expected use_multi_hop=false to be forwarded")
	}

	var body map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["duration_ms"] != float64(1500) {
		t.Fatalf("expected duration_ms 1500, got %v", body["duration_ms"])
	}
	if _, ok := body["context"]; !ok {
		t.Fatalf("expected flattened retrieval result, got %v", body)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestAnswerForwardsModel(t *testing.T) {
	rag := &ragFake{}
	handler := NewRouter(RouterConfig{}, rag, nil, nil).Handler()

	res := postJSON(t, handler, "/v1/rag/answer", map[string]any{"query": "Heavy Gunner move?", "model": "gpt-4o-mini", "context_key": "user-7"})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if rag.model != "gpt-4o-mini" || rag.retrieveReq.ContextKey != "user-7" {
		t.Fatalf("unexpected forwarding model=%q key=%q", rag.model, rag.retrieveReq.ContextKey)
	}
}

func TestGenerateRequiresContext(t *testing.T) {
	handler := NewRouter(RouterConfig{}, &ragFake{}, nil, nil).Handler()

	res := postJSON(t, handler, "/v1/rag/generate", map[string]any{"query": "q"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without context, got %d", res.Code)
	}
}

func TestGenerateConvertsTimeout(t *testing.T) {
	rag := &ragFake{}
	handler := NewRouter(RouterConfig{}, rag, nil, nil).Handler()

	res := postJSON(t, handler, "/v1/rag/generate", map[string]any{
		"query":           "q",
		"timeout_seconds": 2.5,
		"context":         map[string]any{"context_id": "c", "chunks": []map[string]any{{"chunk_id": "x", "short_id": "0000beef", "text": "t"}}},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if rag.generateIn.GenerationTimeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s timeout, got %s", rag.generateIn.GenerationTimeout)
	}
	var body generateResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.ChunkIDs) != 1 || body.ChunkIDs[0] != "0000beef" {
		t.Fatalf("unexpected chunk ids %v", body.ChunkIDs)
	}
}

func TestProviderErrorsMapToStatusAndBody(t *testing.T) {
	cases := []struct {
		err  error
		code int
		kind string
	}{
		{domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("bad")), http.StatusBadRequest, "invalid_input"},
		{domain.NewProviderError(domain.ErrRateLimit, "openai", "gpt-4o", errors.New("quota")), http.StatusTooManyRequests, "rate_limit"},
		{domain.NewProviderError(domain.ErrTimeout, "ollama", "llama", errors.New("slow")), http.StatusGatewayTimeout, "timeout"},
		{domain.NewProviderError(domain.ErrContentFilter, "openai", "gpt-4o", errors.New("refused")), http.StatusUnprocessableEntity, "content_filter"},
		{domain.WrapError(domain.ErrUnavailable, "qdrant search", errors.New("down")), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		handler := NewRouter(RouterConfig{}, &ragFake{err: tc.err}, nil, nil).Handler()
		res := postJSON(t, handler, "/v1/rag/answer", map[string]any{"query": "q"})
		if res.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, res.Code)
		}
		var body errorResponse
		if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Kind != tc.kind || body.RequestID == "" {
			t.Fatalf("%v: unexpected body %+v", tc.err, body)
		}
	}
}

func TestSchemaFailureExposesRawText(t *testing.T) {
	err := &domain.ProviderError{
		Kind:           domain.ErrSchemaValidation,
		Provider:       "ollama",
		Model:          "llama3.1:8b",
		TokensConsumed: true,
		RawText:        `{"short_answer": 3}`,
		Err:            errors.New("short_answer: must be string"),
	}
	handler := NewRouter(RouterConfig{}, &ragFake{err: err}, nil, nil).Handler()

	res := postJSON(t, handler, "/v1/rag/answer", map[string]any{"query": "q"})
	if res.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.TokensConsumed || body.RawText != `{"short_answer": 3}` || body.Provider != "ollama" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestReloadEndpoint(t *testing.T) {
	reloader := &reloaderFake{}
	handler := NewRouter(RouterConfig{}, &ragFake{}, reloader, nil).Handler()

	res := postJSON(t, handler, "/v1/admin/reload", map[string]any{})
	if res.Code != http.StatusAccepted || len(reloader.reasons) != 1 {
		t.Fatalf("expected accepted reload, got %d (%v)", res.Code, reloader.reasons)
	}

	handler = NewRouter(RouterConfig{}, &ragFake{}, nil, nil).Handler()
	res = postJSON(t, handler, "/v1/admin/reload", map[string]any{})
	if res.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without reloader, got %d", res.Code)
	}
}

func TestRejectsWrongMethodAndBadJSON(t *testing.T) {
	handler := NewRouter(RouterConfig{}, &ragFake{}, nil, nil).Handler()

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/rag/retrieve", nil))
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/v1/rag/retrieve", bytes.NewBufferString("{")))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}
