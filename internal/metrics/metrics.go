// Package metrics exposes ingestion and search counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/weldingest/internal/pipeline"
)

const namespace = "weldingest"

// Metrics owns its own registry rather than the global one.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal      *prometheus.CounterVec
	IngestDuration   *prometheus.HistogramVec
	IssuesTotal      *prometheus.CounterVec
	SearchTotal      *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
	httpRequestTimes *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_total",
				Help:      "Ingestion attempts by outcome and document type",
			},
			[]string{"status", "doc_type"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Time to ingest one file",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		IssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_issues_total",
				Help:      "Validation issues attached to ingested documents",
			},
			[]string{"severity"},
		),
		SearchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_total",
				Help:      "Searches by the path that served them",
			},
			[]string{"mode"}, // "fulltext" / "substring"
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search latency",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"mode"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestTimes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		m.IngestTotal,
		m.IngestDuration,
		m.IssuesTotal,
		m.SearchTotal,
		m.SearchDuration,
		m.httpRequests,
		m.httpRequestTimes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry every collector is registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TrackQueueDepth exposes depth as the number of jobs waiting for a worker.
// Call it once per Metrics.
func (m *Metrics) TrackQueueDepth(depth func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Files waiting for an ingest worker",
		},
		func() float64 { return float64(depth()) },
	))
}

// ObserveIngest records one finished Ingest call. It fits pipeline.WithObserver.
func (m *Metrics) ObserveIngest(res pipeline.Result) {
	docType := "unknown"
	if res.Summary != nil && res.Summary.DocType != "" {
		docType = res.Summary.DocType
	}
	status := string(res.Status)
	m.IngestTotal.WithLabelValues(status, docType).Inc()
	m.IngestDuration.WithLabelValues(status).Observe(res.Duration.Seconds())
	if !res.Succeeded() {
		return
	}
	for _, is := range res.Issues {
		m.IssuesTotal.WithLabelValues(string(is.Severity)).Inc()
	}
}

// ObserveSearch records one search. It fits repository.WithSearchObserver.
func (m *Metrics) ObserveSearch(mode string, took time.Duration) {
	m.SearchTotal.WithLabelValues(mode).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
