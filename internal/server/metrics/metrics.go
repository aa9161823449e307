// Package metrics holds the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squash_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "squash_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	CompressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squash_compressions_total",
			Help: "Compression attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squash_fallbacks_total",
			Help: "Image compressions that fell back to the archive strategy",
		},
	)

	BytesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squash_bytes_in_total",
			Help: "Bytes accepted for compression",
		},
	)

	BytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "squash_bytes_out_total",
			Help: "Bytes produced by compression",
		},
	)

	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squash_downloads_total",
			Help: "Download attempts by outcome",
		},
		[]string{"outcome"},
	)

	FilesReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "squash_files_reaped_total",
			Help: "Orphaned staging files removed by the reaper",
		},
		[]string{"namespace"},
	)
)
