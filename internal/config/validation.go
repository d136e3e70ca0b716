// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/signplay/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	// The backend URL may be empty only for offline demo runs from a snapshot.
	if cfg.Server.BaseURL != "" {
		v.URL("server.base_url", cfg.Server.BaseURL, []string{"http", "https"})
	}
	v.DurationRange("server.timeout", cfg.Server.Timeout, time.Second, 5*time.Minute)
	v.Positive("server.rate_limit", cfg.Server.RateLimit)
	v.Range("server.rate_burst", cfg.Server.RateBurst, 1, 1000)

	v.DeviceCode("device.code", cfg.Device.Code)
	v.Directory("data_dir", cfg.DataDir, false)

	v.OneOf("store.backend", cfg.Store.Backend, []string{"file", "badger", "redis", "memory"})
	if cfg.Store.Backend == "redis" {
		v.NotEmpty("store.redis_addr", cfg.Store.RedisAddr)
	}

	v.DurationRange("sync.interval", cfg.Sync.Interval, 5*time.Second, 24*time.Hour)
	v.DurationRange("sync.invalid_grace", cfg.Sync.InvalidGrace, 0, 10*time.Minute)
	v.DurationRange("heartbeat.interval", cfg.Heartbeat.Interval, 5*time.Second, time.Hour)

	v.Range("retry.attempts", cfg.Retry.Attempts, 1, 50)
	v.DurationRange("retry.base_delay", cfg.Retry.BaseDelay, 10*time.Millisecond, time.Minute)
	v.DurationRange("retry.ceiling", cfg.Retry.Ceiling, cfg.Retry.BaseDelay, time.Hour)

	v.DurationRange("quality.interval", cfg.Quality.Interval, 5*time.Second, time.Hour)

	v.Range("preload.concurrency", cfg.Preload.Concurrency, 1, 16)
	v.DurationRange("preload.timeout", cfg.Preload.Timeout, time.Second, 5*time.Minute)

	v.CIDRs("media.allow_cidrs", cfg.Media.AllowCIDRs)
	for _, s := range cfg.Media.AllowSchemes {
		v.OneOf("media.allow_schemes", s, []string{"http", "https", "file"})
	}

	v.DurationRange("playback.image_load_timeout", cfg.Playback.ImageLoadTimeout, 100*time.Millisecond, time.Minute)
	v.DurationRange("playback.settle_delay", cfg.Playback.SettleDelay, 0, 10*time.Second)
	v.DurationRange("playback.error_cooldown", cfg.Playback.ErrorCooldown, 0, time.Minute)

	v.OneOf("render.backend", cfg.Render.Backend, []string{"log", "exec"})
	if cfg.Render.Backend == "exec" {
		v.NotEmpty("render.image_cmd", cfg.Render.ImageCmd)
		v.NotEmpty("render.video_cmd", cfg.Render.VideoCmd)
	}

	v.ListenAddr("status.listen", cfg.Status.Listen)
	if cfg.MQTT.Broker != "" {
		v.URL("mqtt.broker", cfg.MQTT.Broker, []string{"tcp", "ssl", "ws", "wss", "mqtt", "mqtts"})
	}

	if cfg.Tracing.Enabled {
		v.OneOf("tracing.exporter", cfg.Tracing.Exporter, []string{"grpc", "http"})
		v.NotEmpty("tracing.endpoint", cfg.Tracing.Endpoint)
	}

	v.OneOf("log.level", cfg.Log.Level, []string{"trace", "debug", "info", "warn", "error"})

	return v.Err()
}
