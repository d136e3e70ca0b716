// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signplay_breaker_open",
		Help: "1 while the named breaker rejects calls (open or probing), else 0",
	}, []string{"breaker"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_breaker_trips_total",
		Help: "Times the named breaker opened",
	}, []string{"breaker", "reason"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_breaker_rejected_total",
		Help: "Calls rejected without reaching the backend",
	}, []string{"breaker"})
)

// SetBreakerOpen records whether breaker currently rejects calls.
func SetBreakerOpen(breaker string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerOpen.WithLabelValues(breaker).Set(v)
}

// RecordBreakerTrip counts one transition to open.
func RecordBreakerTrip(breaker, reason string) {
	breakerTrips.WithLabelValues(breaker, reason).Inc()
}

// RecordBreakerRejected counts one call short-circuited by breaker.
func RecordBreakerRejected(breaker string) {
	breakerRejected.WithLabelValues(breaker).Inc()
}
