package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/rules-qa/internal/core/domain"
	"github.com/kirillkom/rules-qa/internal/core/ports"
)

const maxBodyBytes = 1 << 20

type indexReloader interface {
	Reload(ctx context.Context, reason string) error
}

type httpMetrics interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
}

type Router struct {
	rag      ports.RAGService
	reloader indexReloader
	metrics  httpMetrics
	cfg      RouterConfig
}

// NewRouter builds the HTTP surface. reloader and metrics may be nil.
func NewRouter(cfg RouterConfig, rag ports.RAGService, reloader indexReloader, metrics httpMetrics) *Router {
	return &Router{
		rag:      rag,
		reloader: reloader,
		metrics:  metrics,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/rag/retrieve", rt.retrieve)
	mux.HandleFunc("/v1/rag/answer", rt.answer)
	mux.HandleFunc("/v1/rag/generate", rt.generate)
	mux.HandleFunc("/v1/admin/reload", rt.reload)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.cfg.MaxInFlight, rt.cfg.QueueWait)
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type retrieveResponse struct {
	*domain.RetrievalResult
	DurationMS int64 `json:"duration_ms"`
}

func (rt *Router) retrieve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req domain.RetrieveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	result, err := rt.rag.RetrieveRAG(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retrieveResponse{RetrievalResult: result, DurationMS: result.Duration.Milliseconds()})
}

type answerRequest struct {
	domain.RetrieveRequest
	Model string `json:"model,omitempty"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req answerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	outcome, err := rt.rag.ProcessQuery(r.Context(), req.RetrieveRequest, req.Model)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type generateRequest struct {
	Query          string             `json:"query"`
	QueryID        string             `json:"query_id,omitempty"`
	Model          string             `json:"model,omitempty"`
	Context        *domain.RAGContext `json:"context"`
	TimeoutSeconds float64            `json:"timeout_seconds,omitempty"`
}

type generateResponse struct {
	Response *domain.LLMResponse `json:"response"`
	ChunkIDs []string            `json:"chunk_ids"`
}

func (rt *Router) generate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req generateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" || req.Context == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query and context are required"})
		return
	}

	resp, chunkIDs, err := rt.rag.GenerateWithContext(r.Context(), ports.GenerateInput{
		Query:             req.Query,
		QueryID:           req.QueryID,
		Model:             req.Model,
		Context:           req.Context,
		GenerationTimeout: time.Duration(req.TimeoutSeconds * float64(time.Second)),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Response: resp, ChunkIDs: chunkIDs})
}

func (rt *Router) reload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if rt.reloader == nil {
		writeError(w, r, domain.WrapError(domain.ErrNotImplemented, "reload", fmt.Errorf("index reload is not configured")))
		return
	}
	if err := rt.reloader.Reload(r.Context(), "http"); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reloaded"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
