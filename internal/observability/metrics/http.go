package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/rules-qa/internal/core/ports"
)

const namespace = "rulesqa"

// HTTPServerMetrics holds the API process metrics. It implements
// ports.RAGMetrics and provides the LLM backoff observer.
type HTTPServerMetrics struct {
	registry *prometheus.Registry
	service  string

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	ragRetrievalDuration *prometheus.HistogramVec
	ragHopsUsed          *prometheus.HistogramVec
	ragChunksServed      *prometheus.HistogramVec
	ragNoContextTotal    *prometheus.CounterVec
	quoteScore           *prometheus.HistogramVec
	quoteInvalidTotal    *prometheus.CounterVec
	llmTokensTotal       *prometheus.CounterVec
	llmBackoffTotal      *prometheus.CounterVec
	llmBackoffSeconds    *prometheus.HistogramVec
	indexReloadTotal     *prometheus.CounterVec
	dependencyRetries    *prometheus.CounterVec
	breakerState         *prometheus.GaugeVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	ragRetrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of retrieve_rag including every hop.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"service"},
	)
	ragHopsUsed := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "hops_used",
			Help:      "Retrievals performed per request, hop 0 included.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
		[]string{"service"},
	)
	ragChunksServed := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "chunks_served",
			Help:      "Chunks placed in the RAG context per request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 7, 10, 15},
		},
		[]string{"service"},
	)
	ragNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rag",
			Name:      "no_context_total",
			Help:      "Total retrievals that served no chunks.",
		},
		[]string{"service"},
	)
	quoteScore := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "validation_score",
			Help:      "Share of answer quotes found in the served chunks.",
			Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.9, 1},
		},
		[]string{"service"},
	)
	quoteInvalidTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quotes",
			Name:      "invalid_answers_total",
			Help:      "Total answers with at least one unverifiable quote.",
		},
		[]string{"service"},
	)
	llmTokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Token usage by direction as reported by providers.",
		},
		[]string{"service", "provider", "model", "direction"},
	)
	llmBackoffTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retry_backoffs_total",
			Help:      "Total backoff sleeps taken by the LLM retry layer.",
		},
		[]string{"service", "operation", "provider"},
	)
	llmBackoffSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retry_backoff_seconds",
			Help:      "Backoff interval chosen by the LLM retry layer.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"service", "operation"},
	)
	indexReloadTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reloads_total",
			Help:      "Total BM25 index and table reloads by status.",
		},
		[]string{"service", "status"},
	)

	dependencyRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "retries_total",
			Help:      "Total retries of embedder, vector store and bus calls.",
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dependency",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		ragRetrievalDuration,
		ragHopsUsed,
		ragChunksServed,
		ragNoContextTotal,
		quoteScore,
		quoteInvalidTotal,
		llmTokensTotal,
		llmBackoffTotal,
		llmBackoffSeconds,
		indexReloadTotal,
		dependencyRetries,
		breakerState,
	)

	return &HTTPServerMetrics{
		registry:             registry,
		service:              service,
		requestTotal:         requestTotal,
		requestDuration:      requestDuration,
		requestInFlight:      requestInFlight,
		ragRetrievalDuration: ragRetrievalDuration,
		ragHopsUsed:          ragHopsUsed,
		ragChunksServed:      ragChunksServed,
		ragNoContextTotal:    ragNoContextTotal,
		quoteScore:           quoteScore,
		quoteInvalidTotal:    quoteInvalidTotal,
		llmTokensTotal:       llmTokensTotal,
		llmBackoffTotal:      llmBackoffTotal,
		llmBackoffSeconds:    llmBackoffSeconds,
		indexReloadTotal:     indexReloadTotal,
		dependencyRetries:    dependencyRetries,
		breakerState:         breakerState,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := r.URL.Path
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			m.service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func (m *HTTPServerMetrics) ObserveRetrieval(hops int, chunks int, seconds float64) {
	m.ragRetrievalDuration.WithLabelValues(m.service).Observe(seconds)
	m.ragHopsUsed.WithLabelValues(m.service).Observe(float64(hops))
	m.ragChunksServed.WithLabelValues(m.service).Observe(float64(chunks))
	if chunks == 0 {
		m.ragNoContextTotal.WithLabelValues(m.service).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveQuoteValidation(score float64, valid bool) {
	m.quoteScore.WithLabelValues(m.service).Observe(score)
	if !valid {
		m.quoteInvalidTotal.WithLabelValues(m.service).Inc()
	}
}

func (m *HTTPServerMetrics) ObserveTokens(provider, model string, prompt, completion int) {
	if provider == "" {
		provider = "unknown"
	}
	if model == "" {
		model = "unknown"
	}
	if prompt > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, provider, model, "in").Add(float64(prompt))
	}
	if completion > 0 {
		m.llmTokensTotal.WithLabelValues(m.service, provider, model, "out").Add(float64(completion))
	}
}

// ObserveBackoff matches resilience.BackoffObserver.
func (m *HTTPServerMetrics) ObserveBackoff(call ports.RetryCall, _ int, wait time.Duration) {
	m.llmBackoffTotal.WithLabelValues(m.service, call.Operation, call.Provider).Inc()
	m.llmBackoffSeconds.WithLabelValues(m.service, call.Operation).Observe(wait.Seconds())
}

func (m *HTTPServerMetrics) RecordReload(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.indexReloadTotal.WithLabelValues(m.service, status).Inc()
}

// ObserveDependencyRetry and ObserveBreakerState implement
// resilience.Observer.
func (m *HTTPServerMetrics) ObserveDependencyRetry(operation string, _ int, _ time.Duration) {
	m.dependencyRetries.WithLabelValues(m.service, operation).Inc()
}

func (m *HTTPServerMetrics) ObserveBreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
