// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the player's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_sync_total",
		Help: "Playlist sync attempts by result",
	}, []string{"result"}) // result=changed|unchanged|no_content|unassigned|invalid_device|failed

	preloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_preload_total",
		Help: "Media preload outcomes by media type",
	}, []string{"type", "result"}) // result=success|failure|cached

	preloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signplay_preload_duration_seconds",
		Help:    "Time to prime a single media item",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"type"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_media_cache_lookups_total",
		Help: "Media cache index lookups by result",
	}, []string{"result"}) // result=hit|miss

	playbackItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_playback_items_total",
		Help: "Played items by media type and result",
	}, []string{"type", "result"}) // result=completed|failed

	playlistItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signplay_playlist_items",
		Help: "Number of items in the installed playlist",
	})

	networkQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "signplay_network_quality",
		Help: "Current link classification (active class=1)",
	}, []string{"class"})

	retryCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signplay_retry_count",
		Help: "Consecutive failed outbound calls",
	})

	online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "signplay_online",
		Help: "Whether the backend is reachable (1) or not (0)",
	})

	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_api_request_total",
		Help: "Backend API requests by endpoint and status class",
	}, []string{"method", "endpoint", "status_class"})

	apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "signplay_api_request_duration_seconds",
		Help:    "Backend API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_store_errors_total",
		Help: "Local persistence failures by key and operation",
	}, []string{"key", "op"})

	heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_heartbeat_total",
		Help: "Heartbeats sent by result",
	}, []string{"result"})

	reports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_reports_total",
		Help: "Best-effort reports by kind and result",
	}, []string{"kind", "result"})

	mqttPublish = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_mqtt_publish_total",
		Help: "MQTT status publishes by result",
	}, []string{"result"})

	procTerminate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signplay_viewer_terminate_total",
		Help: "Signals sent to viewer process groups",
	}, []string{"signal", "result"})
)

var qualityClasses = []string{"slow", "moderate", "good"}

// RecordSync counts one sync attempt.
func RecordSync(result string) {
	syncTotal.WithLabelValues(result).Inc()
}

// RecordPreload records the outcome and latency of one preload.
func RecordPreload(mediaType, result string, d time.Duration) {
	preloadTotal.WithLabelValues(mediaType, result).Inc()
	if result != "cached" {
		preloadDuration.WithLabelValues(mediaType).Observe(d.Seconds())
	}
}

// RecordCacheLookup counts one media index lookup.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordPlaybackItem counts a completed or failed item.
func RecordPlaybackItem(mediaType, result string) {
	playbackItems.WithLabelValues(mediaType, result).Inc()
}

func SetPlaylistItems(n int) {
	playlistItems.Set(float64(n))
}

// SetNetworkQuality marks class as the active classification.
func SetNetworkQuality(class string) {
	for _, c := range qualityClasses {
		v := 0.0
		if c == class {
			v = 1.0
		}
		networkQuality.WithLabelValues(c).Set(v)
	}
}

func SetRetryCount(n int) {
	retryCount.Set(float64(n))
}

func SetOnline(up bool) {
	if up {
		online.Set(1)
		return
	}
	online.Set(0)
}

// RecordAPIRequest records one backend call attempt.
func RecordAPIRequest(method, endpoint, statusClass string, d time.Duration) {
	apiRequests.WithLabelValues(method, endpoint, statusClass).Inc()
	apiDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func RecordStoreError(key, op string) {
	storeErrors.WithLabelValues(key, op).Inc()
}

func RecordHeartbeat(result string) {
	heartbeats.WithLabelValues(result).Inc()
}

// RecordReport counts a playlist-change or error report. result is one of
// sent, failed, skipped.
func RecordReport(kind, result string) {
	reports.WithLabelValues(kind, result).Inc()
}

func RecordMQTTPublish(result string) {
	mqttPublish.WithLabelValues(result).Inc()
}

// RecordProcTerminate counts a signal delivered to a viewer process group.
func RecordProcTerminate(signal, result string) {
	procTerminate.WithLabelValues(signal, result).Inc()
}
