package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_api_requests_total",
			Help: "Upstream API requests by resource and HTTP status",
		},
		[]string{"resource", "status"},
	)

	APIRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_api_retries_total",
			Help: "Upstream API request retries by resource",
		},
		[]string{"resource"},
	)

	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_pages_fetched_total",
			Help: "Pages fetched by resource category",
		},
		[]string{"category"},
	)

	CacheEntriesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_cache_entries_written_total",
			Help: "Raw records written to the resource cache by category",
		},
		[]string{"category"},
	)

	GraphOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_graph_operations_total",
			Help: "Graph operations published by kind and record type",
		},
		[]string{"kind", "record"},
	)
)
