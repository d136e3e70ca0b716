// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signplay_http_request_duration_seconds",
		Help:    "Local status server request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signplay_http_requests_in_flight",
		Help: "Current number of status server requests being served",
	})
)

// HTTPInFlight adjusts the in-flight gauge by delta.
func HTTPInFlight(delta float64) {
	httpRequestsInFlight.Add(delta)
}

// RecordHTTPRequest records a served status request. path is the route
// pattern, not the raw URL.
func RecordHTTPRequest(method, path, status string, d time.Duration) {
	httpRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}
