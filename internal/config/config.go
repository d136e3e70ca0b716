// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for signplay.
package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir   string          `yaml:"data_dir"`
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Retry     RetryConfig     `yaml:"retry"`
	Quality   QualityConfig   `yaml:"quality"`
	Preload   PreloadConfig   `yaml:"preload"`
	Media     MediaConfig     `yaml:"media"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Render    RenderConfig    `yaml:"render"`
	PlayLog   PlayLogConfig   `yaml:"playlog"`
	Status    StatusConfig    `yaml:"status"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig describes the signage backend the player talks to.
type ServerConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second
	RateBurst int           `yaml:"rate_burst"`
}

type DeviceConfig struct {
	// Code overrides the persisted device code when set.
	Code string `yaml:"code"`
}

// StoreConfig selects the local persistence backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"` // file, badger, redis, memory
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type SyncConfig struct {
	Interval     time.Duration `yaml:"interval"`
	InvalidGrace time.Duration `yaml:"invalid_grace"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Ceiling   time.Duration `yaml:"ceiling"`
}

type QualityConfig struct {
	Interval time.Duration `yaml:"interval"`
	// ConnectionType is an operator hint (ethernet, wifi, cellular).
	ConnectionType string `yaml:"connection_type"`
}

type PreloadConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	FFprobeBin  string        `yaml:"ffprobe_bin"`
}

// MediaConfig is the outbound policy for media fetches. Empty lists allow all hosts.
type MediaConfig struct {
	AllowHosts   []string `yaml:"allow_hosts"`
	AllowCIDRs   []string `yaml:"allow_cidrs"`
	AllowSchemes []string `yaml:"allow_schemes"`
}

type PlaybackConfig struct {
	ImageLoadTimeout time.Duration `yaml:"image_load_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	ErrorCooldown    time.Duration `yaml:"error_cooldown"`
}

type RenderConfig struct {
	Backend  string `yaml:"backend"` // log, exec
	ImageCmd string `yaml:"image_cmd"`
	VideoCmd string `yaml:"video_cmd"`
}

type PlayLogConfig struct {
	Path string `yaml:"path"`
}

type StatusConfig struct {
	Listen    string `yaml:"listen"`
	RateLimit int    `yaml:"rate_limit"` // requests per minute per client
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"` // grpc, http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir: "/var/lib/signplay",
		Server: ServerConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
			RateBurst: 10,
		},
		Store: StoreConfig{Backend: "file"},
		Sync: SyncConfig{
			Interval:     30 * time.Second,
			InvalidGrace: 10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{Interval: 30 * time.Second},
		Retry: RetryConfig{
			Attempts:  5,
			BaseDelay: 2 * time.Second,
			Ceiling:   30 * time.Second,
		},
		Quality: QualityConfig{Interval: 60 * time.Second},
		Preload: PreloadConfig{
			Concurrency: 3,
			Timeout:     15 * time.Second,
			FFprobeBin:  "ffprobe",
		},
		Media: MediaConfig{AllowSchemes: []string{"http", "https"}},
		Playback: PlaybackConfig{
			ImageLoadTimeout: 5 * time.Second,
			SettleDelay:      500 * time.Millisecond,
			ErrorCooldown:    2 * time.Second,
		},
		Render: RenderConfig{Backend: "log"},
		Status: StatusConfig{
			Listen:    "127.0.0.1:9780",
			RateLimit: 120,
		},
		MQTT: MQTTConfig{ClientID: "signplay"},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}
