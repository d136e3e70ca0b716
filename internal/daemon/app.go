// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/signplay/internal/config"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/rs/zerolog"
)

// Controller is the part of the player the app drives from outside the
// supervisor: live config and manual sync.
type Controller interface {
	ApplyConfig(cfg config.AppConfig)
	Wake()
}

// App owns the long-lived runtime lifecycle (watchers, reload wiring, signals)
// and delegates service supervision to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	player       Controller
	reloadSignal os.Signal
	wakeSignal   os.Signal
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, player Controller) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		player:       player,
		reloadSignal: syscall.SIGHUP,
		wakeSignal:   wakeSignal,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
	}

	// Reload-during-runtime wiring: apply every config swap to the player.
	if a.cfgHolder != nil && a.player != nil {
		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			a.onSignal(ctx, a.reloadSignal, func() {
				a.logger.Info().
					Str(xglog.FieldEvent, "config.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, reloading config")
				if err := a.cfgHolder.Reload(ctx); err != nil {
					a.logger.Warn().
						Err(err).
						Str(xglog.FieldEvent, "config.reload_failed").
						Msg("config reload failed")
				}
			})
			return nil
		})
	}

	// SIGUSR1 forces an immediate sync.
	if a.player != nil && a.wakeSignal != nil {
		g.Go(func() error {
			a.onSignal(ctx, a.wakeSignal, func() {
				a.logger.Info().
					Str(xglog.FieldEvent, "sync.wake_signal").
					Str("signal", a.wakeSignal.String()).
					Msg("received wake signal, syncing now")
				a.player.Wake()
			})
			return nil
		})
	}

	// Main service lifecycle. Its end stops everything else.
	g.Go(func() error {
		defer cancel()
		return a.manager.Start(ctx)
	})

	return g.Wait()
}

func (a *App) apply(cfg config.AppConfig) {
	a.player.ApplyConfig(cfg)
	if cfg.Log.Level != "" && !xglog.SetLevel(cfg.Log.Level) {
		a.logger.Warn().
			Str(xglog.FieldEvent, "config.log_level_invalid").
			Str("level", cfg.Log.Level).
			Msg("ignoring unknown log level")
	}
	a.logger.Info().Str(xglog.FieldEvent, "config.applied").Msg("runtime configuration applied")
}

func (a *App) onSignal(ctx context.Context, sig os.Signal, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			fn()
		}
	}
}
