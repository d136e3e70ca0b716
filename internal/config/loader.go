// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
// Use errors.Is(err, ErrUnknownConfigField) instead of string matching.
var ErrUnknownConfigField = errors.New("unknown config field")

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{} // Mechanical tracking of consumed keys
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Path returns the config file path, empty when running from ENV only.
func (l *Loader) Path() string { return l.configPath }

// Load loads configuration with precedence: ENV > File > Defaults
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.PlayLog.Path == "" {
		cfg.PlayLog.Path = filepath.Join(cfg.DataDir, "playlog.db")
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing.
// Unknown fields cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)

	cfg.Server.BaseURL = l.envString("SERVER_BASE_URL", cfg.Server.BaseURL)
	cfg.Server.Timeout = l.envDuration("SERVER_TIMEOUT", cfg.Server.Timeout)
	cfg.Server.RateLimit = l.envFloat("SERVER_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = l.envInt("SERVER_RATE_BURST", cfg.Server.RateBurst)

	cfg.Device.Code = strings.ToUpper(l.envString("DEVICE_CODE", cfg.Device.Code))

	cfg.Store.Backend = l.envString("STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.RedisAddr = l.envString("STORE_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisDB = l.envInt("STORE_REDIS_DB", cfg.Store.RedisDB)

	cfg.Sync.Interval = l.envDuration("SYNC_INTERVAL", cfg.Sync.Interval)
	cfg.Sync.InvalidGrace = l.envDuration("SYNC_INVALID_GRACE", cfg.Sync.InvalidGrace)
	cfg.Heartbeat.Interval = l.envDuration("HEARTBEAT_INTERVAL", cfg.Heartbeat.Interval)

	cfg.Retry.Attempts = l.envInt("RETRY_ATTEMPTS", cfg.Retry.Attempts)
	cfg.Retry.BaseDelay = l.envDuration("RETRY_BASE_DELAY", cfg.Retry.BaseDelay)
	cfg.Retry.Ceiling = l.envDuration("RETRY_CEILING", cfg.Retry.Ceiling)

	cfg.Quality.Interval = l.envDuration("QUALITY_INTERVAL", cfg.Quality.Interval)
	cfg.Quality.ConnectionType = l.envString("QUALITY_CONNECTION_TYPE", cfg.Quality.ConnectionType)

	cfg.Preload.Concurrency = l.envInt("PRELOAD_CONCURRENCY", cfg.Preload.Concurrency)
	cfg.Preload.Timeout = l.envDuration("PRELOAD_TIMEOUT", cfg.Preload.Timeout)
	cfg.Preload.FFprobeBin = l.envString("PRELOAD_FFPROBE_BIN", cfg.Preload.FFprobeBin)

	cfg.Media.AllowHosts = l.envList("MEDIA_ALLOW_HOSTS", cfg.Media.AllowHosts)
	cfg.Media.AllowCIDRs = l.envList("MEDIA_ALLOW_CIDRS", cfg.Media.AllowCIDRs)
	cfg.Media.AllowSchemes = l.envList("MEDIA_ALLOW_SCHEMES", cfg.Media.AllowSchemes)

	cfg.Playback.ImageLoadTimeout = l.envDuration("PLAYBACK_IMAGE_LOAD_TIMEOUT", cfg.Playback.ImageLoadTimeout)
	cfg.Playback.SettleDelay = l.envDuration("PLAYBACK_SETTLE_DELAY", cfg.Playback.SettleDelay)
	cfg.Playback.ErrorCooldown = l.envDuration("PLAYBACK_ERROR_COOLDOWN", cfg.Playback.ErrorCooldown)

	cfg.Render.Backend = l.envString("RENDER_BACKEND", cfg.Render.Backend)
	cfg.Render.ImageCmd = l.envString("RENDER_IMAGE_CMD", cfg.Render.ImageCmd)
	cfg.Render.VideoCmd = l.envString("RENDER_VIDEO_CMD", cfg.Render.VideoCmd)

	cfg.PlayLog.Path = l.envString("PLAYLOG_PATH", cfg.PlayLog.Path)

	cfg.Status.Listen = l.envString("STATUS_LISTEN", cfg.Status.Listen)
	cfg.Status.RateLimit = l.envInt("STATUS_RATE_LIMIT", cfg.Status.RateLimit)

	cfg.MQTT.Broker = l.envString("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = l.envString("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = l.envString("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = l.envString("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Tracing.Enabled = l.envBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = l.envString("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = l.envString("TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SamplingRate = l.envFloat("TRACING_SAMPLING_RATE", cfg.Tracing.SamplingRate)

	cfg.Log.Level = l.envString("LOG_LEVEL", cfg.Log.Level)
}
