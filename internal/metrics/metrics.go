package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	ingestTotal     *prometheus.CounterVec
	chunksTotal     *prometheus.CounterVec
	queryTotal      *prometheus.CounterVec
	queryLatency    *prometheus.HistogramVec
	embedLatency    prometheus.Histogram
	answerTotal     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	indexEntryGauge prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_ingest_documents_total",
			Help: "Documents ingested by outcome (added, skipped, error).",
		}, []string{"status", "reason"}),
		chunksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_ingest_chunks_total",
			Help: "Chunks seen during ingestion by outcome (added, duplicate).",
		}, []string{"outcome"}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_queries_total",
			Help: "Retrieval queries by kind and result.",
		}, []string{"kind", "result"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docrag_query_latency_seconds",
			Help:    "Retrieval latency including query embedding.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		embedLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "docrag_embed_latency_seconds",
			Help:    "Latency of batch embedding calls during ingestion.",
			Buckets: prometheus.DefBuckets,
		}),
		answerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_answers_total",
			Help: "Answer generation attempts by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docrag_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docrag_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "path"}),
		indexEntryGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docrag_index_entries",
			Help: "Entries in the vector index as of the last readiness check or ingestion.",
		}),
	}
	m.registry.MustRegister(
		m.ingestTotal,
		m.chunksTotal,
		m.queryTotal,
		m.queryLatency,
		m.embedLatency,
		m.answerTotal,
		m.httpRequests,
		m.httpLatency,
		m.indexEntryGauge,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIngest(status, reason string, added, duplicates int) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(status, reason).Inc()
	m.chunksTotal.WithLabelValues("added").Add(float64(added))
	m.chunksTotal.WithLabelValues("duplicate").Add(float64(duplicates))
}

func (m *Metrics) ObserveEmbed(d time.Duration) {
	if m == nil {
		return
	}
	m.embedLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveQuery(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.queryTotal.WithLabelValues(kind, result).Inc()
	m.queryLatency.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) ObserveAnswer(result string) {
	if m == nil {
		return
	}
	m.answerTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHTTP(method, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpLatency.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) SetIndexEntries(n int) {
	if m == nil {
		return
	}
	m.indexEntryGauge.Set(float64(n))
}
