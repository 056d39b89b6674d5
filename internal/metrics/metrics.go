// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchSyncFailures counts search index writes that failed after the
	// content store write had committed.
	// Labels: op (create, edit, delete, move, delete_revision, reindex)
	SearchSyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiki",
		Subsystem: "search",
		Name:      "sync_failures_total",
		Help:      "Search index writes that failed after the content write committed",
	}, []string{"op"})

	// PageWrites counts committed content store writes.
	// Labels: op (create, edit, delete, delete_revision)
	PageWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wiki",
		Subsystem: "pages",
		Name:      "writes_total",
		Help:      "Committed page and revision writes",
	}, []string{"op"})

	// SearchQueries counts full-text queries served.
	SearchQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wiki",
		Subsystem: "search",
		Name:      "queries_total",
		Help:      "Full-text queries served",
	})

	// RequestDuration measures HTTP handler latency.
	// Labels: method, status
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wiki",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "status"})
)
