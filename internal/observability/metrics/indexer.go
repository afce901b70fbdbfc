package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type IndexerMetrics struct {
	registry *prometheus.Registry
	service  string

	syncTotal    *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	syncInFlight prometheus.Gauge
	chunksTotal  *prometheus.CounterVec
}

func NewIndexerMetrics(service string) *IndexerMetrics {
	registry := prometheus.NewRegistry()

	syncTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "sync_total",
			Help:      "Total corpus sync runs by status.",
		},
		[]string{"service", "status"},
	)
	syncDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "sync_duration_seconds",
			Help:      "Corpus sync duration in seconds by status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"service", "status"},
	)
	syncInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "sync_in_flight",
			Help:      "Number of running corpus syncs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	chunksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "chunks_indexed_total",
			Help:      "Total chunks embedded and upserted into the vector index.",
		},
		[]string{"service"},
	)

	registry.MustRegister(syncTotal, syncDuration, syncInFlight, chunksTotal)

	return &IndexerMetrics{
		registry:     registry,
		service:      service,
		syncTotal:    syncTotal,
		syncDuration: syncDuration,
		syncInFlight: syncInFlight,
		chunksTotal:  chunksTotal,
	}
}

func (m *IndexerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *IndexerMetrics) StartSync() {
	m.syncInFlight.Inc()
}

func (m *IndexerMetrics) FinishSync(duration time.Duration, chunks int, err error) {
	m.syncInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.syncTotal.WithLabelValues(m.service, status).Inc()
	m.syncDuration.WithLabelValues(m.service, status).Observe(duration.Seconds())
	if chunks > 0 {
		m.chunksTotal.WithLabelValues(m.service).Add(float64(chunks))
	}
}
