// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the player, its stores and servers into one process
// and owns its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/health"
	"github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/mqtt"
	"github.com/ManuGH/signplay/internal/player"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlog"
	"github.com/ManuGH/signplay/internal/render"
	"github.com/ManuGH/signplay/internal/status"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/ManuGH/signplay/internal/telemetry"
	"github.com/ManuGH/signplay/internal/validation"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options selects the config source.
type Options struct {
	// ConfigPath is the YAML file; empty runs from ENV and defaults.
	ConfigPath string
	// Version is the build version.
	Version string
}

// Daemon is one fully wired player process.
type Daemon struct {
	cfg       config.AppConfig
	cfgHolder *config.ConfigHolder
	logger    zerolog.Logger

	backend   store.Backend
	playlog   *playlog.Log
	mirror    *mqtt.Publisher
	telemetry *telemetry.Provider
	player    *player.Player
	status    *status.Server
	manager   Manager
	app       *App
}

// New loads the configuration and wires every component. Nothing runs
// until Run. On error everything opened so far is closed again.
func New(ctx context.Context, opts Options) (_ *Daemon, err error) {
	// Safe defaults until the config is known.
	log.Configure(log.Config{Service: "signplay", Version: opts.Version})

	loader := config.NewLoader(opts.ConfigPath, opts.Version)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Service: "signplay", Version: opts.Version})

	d := &Daemon{
		cfg:       cfg,
		cfgHolder: config.NewConfigHolder(cfg, loader),
		logger:    log.WithComponent("daemon"),
	}
	defer func() {
		if err != nil {
			d.closeAll(context.WithoutCancel(ctx))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := validation.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	d.backend, err = store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	persistence := store.NewPersistence(d.backend, clock.Real{})

	if cfg.PlayLog.Path != "" {
		d.playlog, err = playlog.Open(cfg.PlayLog.Path)
		if err != nil {
			// Proof of play is optional; playback is not.
			d.logger.Warn().Err(err).
				Str(log.FieldEvent, "daemon.playlog_disabled").
				Str(log.FieldPath, cfg.PlayLog.Path).
				Msg("play log unavailable, continuing without it")
			d.playlog, err = nil, nil
		}
	}

	client, err := playerapi.NewClient(cfg.Server.BaseURL, playerapi.Options{
		Timeout:        cfg.Server.Timeout,
		RateLimit:      rate.Limit(cfg.Server.RateLimit),
		RateLimitBurst: cfg.Server.RateBurst,
		UserAgent:      "signplay/" + opts.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	renderer, err := render.New(cfg.Render)
	if err != nil {
		return nil, fmt.Errorf("renderer: %w", err)
	}

	deps := player.Deps{
		Config:   cfg,
		Store:    persistence,
		API:      client,
		Renderer: renderer,
		PlayLog:  d.playlog,
		Version:  opts.Version,
	}
	switch d.mirror, err = mqtt.NewPublisher(cfg.MQTT); {
	case err == nil:
		deps.Mirror = d.mirror
	case errors.Is(err, mqtt.ErrNotConfigured):
		err = nil
	default:
		return nil, fmt.Errorf("mqtt mirror: %w", err)
	}

	d.player, err = player.New(deps)
	if err != nil {
		return nil, err
	}
	if err := d.player.Bootstrap(ctx); err != nil {
		return nil, err
	}

	d.telemetry, err = telemetry.NewProvider(ctx, telemetry.FromAppConfig(cfg, d.player.DeviceCode()))
	if err != nil {
		// Tracing is best effort.
		d.logger.Warn().Err(err).Str(log.FieldEvent, "daemon.tracing_disabled").Msg("telemetry initialization failed, continuing without tracing")
		d.telemetry, err = nil, nil
	}

	hm := health.NewManager(opts.Version)
	for _, c := range d.player.Checkers() {
		hm.RegisterChecker(c)
	}
	d.status, err = status.New(status.Config{
		Listen:    cfg.Status.Listen,
		RateLimit: cfg.Status.RateLimit,
		Player:    d.player,
		Health:    hm,
		PlayLog:   d.playlog,
		Reload:    d.cfgHolder.Reload,
	})
	if err != nil {
		return nil, err
	}

	var statusRun func(context.Context) error
	if cfg.Status.Listen != "" {
		statusRun = d.status.Run
	}
	d.manager, err = NewManager(Deps{
		Logger: d.logger,
		Player: d.player,
		Status: statusRun,
	})
	if err != nil {
		return nil, err
	}
	d.registerHooks()
	d.app = NewApp(d.logger, d.manager, d.cfgHolder, d.player)

	d.logger.Info().
		Str(log.FieldEvent, "daemon.ready").
		Str(log.FieldDeviceCode, d.player.DeviceCode()).
		Str("backend", client.BaseURL()).
		Str("store", cfg.Store.Backend).
		Str("render", cfg.Render.Backend).
		Str("status_listen", cfg.Status.Listen).
		Bool("playlog", d.playlog != nil).
		Bool("mqtt", d.mirror != nil).
		Msg("daemon wired")
	return d, nil
}

// Run blocks until ctx is cancelled or the services give up. Every
// resource is released before it returns.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().
		Str("version", d.cfg.Version).
		Str(log.FieldDeviceCode, d.player.DeviceCode()).
		Msg("Starting signplay daemon")
	return d.app.Run(ctx)
}

// Player exposes the wired player.
func (d *Daemon) Player() *player.Player { return d.player }

// Config returns the configuration the daemon started with.
func (d *Daemon) Config() config.AppConfig { return d.cfg }

// registerHooks releases resources in reverse order of acquisition: the
// player stops first so nothing writes to a closed store.
func (d *Daemon) registerHooks() {
	d.manager.RegisterShutdownHook("store", func(context.Context) error { return d.backend.Close() })
	if d.playlog != nil {
		d.manager.RegisterShutdownHook("playlog", func(context.Context) error { return d.playlog.Close() })
	}
	if d.mirror != nil {
		d.manager.RegisterShutdownHook("mqtt", func(context.Context) error { return d.mirror.Close() })
	}
	if d.telemetry != nil {
		d.manager.RegisterShutdownHook("telemetry", d.telemetry.Shutdown)
	}
	d.manager.RegisterShutdownHook("config_watcher", func(context.Context) error {
		d.cfgHolder.Stop()
		return nil
	})
	d.manager.RegisterShutdownHook("player", func(context.Context) error {
		d.player.Close()
		return nil
	})
}

// closeAll is the error path of New, before the manager owns the resources.
func (d *Daemon) closeAll(ctx context.Context) {
	if d.player != nil {
		d.player.Close()
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(ctx)
	}
	if d.mirror != nil {
		_ = d.mirror.Close()
	}
	if d.playlog != nil {
		_ = d.playlog.Close()
	}
	if d.backend != nil {
		_ = d.backend.Close()
	}
}

// WaitForShutdown returns a context cancelled by interrupt/termination signals.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
