// Package metrics provides Prometheus metrics for the SnapClaim API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts handled requests by route template, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "snapclaim",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// RouteSavesTotal counts route saves by mode (create, update) and outcome.
	RouteSavesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "routes",
			Name:      "saves_total",
			Help:      "Total number of route saves by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// InvoiceRejectionsTotal counts invoices refused while saving a route.
	InvoiceRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "routes",
			Name:      "invoice_rejections_total",
			Help:      "Total number of invoices rejected from route selections",
		},
	)

	// VerificationsTotal counts reconciliations by source (photo, manual) and result (match, mismatch, unavailable).
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "verification",
			Name:      "runs_total",
			Help:      "Total number of invoice verifications by source and result",
		},
		[]string{"source", "result"},
	)

	// FieldMismatchesTotal counts mismatching reconciliation fields by key.
	FieldMismatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "verification",
			Name:      "field_mismatches_total",
			Help:      "Total number of mismatching fields by field key",
		},
		[]string{"field"},
	)

	// ExtractionDuration tracks calls to the extraction backend.
	ExtractionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "snapclaim",
			Subsystem: "verification",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of photo extraction calls in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// EventPublishFailures counts events that could not be delivered.
	EventPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "snapclaim",
			Subsystem: "events",
			Name:      "publish_failures_total",
			Help:      "Total number of domain events that failed to publish",
		},
		[]string{"type"},
	)
)
