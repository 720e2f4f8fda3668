// Package metrics defines the Prometheus metric collectors used by the
// ingestion pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	CasesIngestedTotal     *prometheus.CounterVec
	DocketsIngestedTotal   *prometheus.CounterVec
	DocumentsIngestedTotal *prometheus.CounterVec
	CaseErrorsTotal        *prometheus.CounterVec
	APIRequestsTotal       *prometheus.CounterVec
	APIRetriesTotal        *prometheus.CounterVec
	APIRequestDuration     *prometheus.HistogramVec
	PayloadsArchivedTotal  *prometheus.CounterVec
	SummariesTotal         *prometheus.CounterVec
	EventsPublishedTotal   *prometheus.CounterVec
	OrderViolationsTotal   prometheus.Counter
	CheckpointCursor       *prometheus.GaugeVec
	RunDuration            *prometheus.HistogramVec
}

// New creates all collectors and registers them with reg. A nil reg means
// prometheus.DefaultRegisterer; tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CasesIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_cases_ingested_total",
				Help: "Cases whose full subtree was committed, by source.",
			},
			[]string{"source"},
		),
		DocketsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_dockets_ingested_total",
				Help: "Dockets committed, by source.",
			},
			[]string{"source"},
		),
		DocumentsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_documents_ingested_total",
				Help: "Documents committed, by source.",
			},
			[]string{"source"},
		),
		CaseErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_case_errors_total",
				Help: "Case-level failures by stage and error class.",
			},
			[]string{"stage", "class"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_api_requests_total",
				Help: "Upstream API attempts by resource and outcome.",
			},
			[]string{"resource", "outcome"},
		),
		APIRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_api_retries_total",
				Help: "Delayed retries by reason (status code or network).",
			},
			[]string{"reason"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clearinghouse_api_request_duration_seconds",
				Help:    "Upstream API attempt latency in seconds.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"resource"},
		),
		PayloadsArchivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_payloads_archived_total",
				Help: "Raw payload archive calls by resource type and result (inserted, duplicate, cached).",
			},
			[]string{"resource_type", "result"},
		),
		SummariesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_summaries_total",
				Help: "Post-commit document summarization attempts by result.",
			},
			[]string{"result"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clearinghouse_events_published_total",
				Help: "Case-ingested events by publish result.",
			},
			[]string{"result"},
		),
		OrderViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clearinghouse_case_order_violations_total",
				Help: "Cases received with an update time older than an earlier case in the same run.",
			},
		),
		CheckpointCursor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clearinghouse_checkpoint_cursor_seconds",
				Help: "Unix time of the last committed case per checkpoint key.",
			},
			[]string{"key"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clearinghouse_run_duration_seconds",
				Help:    "Ingestion run wall time by source and final status.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"source", "status"},
		),
	}

	reg.MustRegister(
		m.CasesIngestedTotal,
		m.DocketsIngestedTotal,
		m.DocumentsIngestedTotal,
		m.CaseErrorsTotal,
		m.APIRequestsTotal,
		m.APIRetriesTotal,
		m.APIRequestDuration,
		m.PayloadsArchivedTotal,
		m.SummariesTotal,
		m.EventsPublishedTotal,
		m.OrderViolationsTotal,
		m.CheckpointCursor,
		m.RunDuration,
	)

	return m
}

// NewUnregistered returns collectors bound to a private registry, for
// components constructed without explicit metrics.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
