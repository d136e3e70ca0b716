// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/supervisor"
	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 10 * time.Second

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

// Manager manages the daemon lifecycle: supervising services, handling shutdown.
type Manager interface {
	// Start runs all services and blocks until shutdown
	Start(ctx context.Context) error

	// Shutdown runs the registered hooks
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook registers a function to be called during shutdown
	RegisterShutdownHook(name string, hook ShutdownHook)
}

// manager implements the Manager interface.
type manager struct {
	deps Deps

	// Shutdown hooks (LIFO order)
	shutdownHooks []namedHook

	// State
	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

// namedHook represents a shutdown hook with a name for logging
type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager creates a new daemon manager with the given dependencies.
func NewManager(deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if deps.ShutdownTimeout <= 0 {
		deps.ShutdownTimeout = defaultShutdownTimeout
	}

	return &manager{
		deps:          deps,
		logger:        deps.Logger.With().Str("component", "manager").Logger(),
		shutdownHooks: make([]namedHook, 0),
	}, nil
}

// Start runs the supervisor tree and blocks until ctx is cancelled or the
// tree gives up. Shutdown hooks run before it returns.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	tree := supervisor.NewTree(xglog.NewSlogLogger("supervisor"), m.deps.Tree)
	services := m.deps.Player.Services()
	for _, svc := range services {
		tree.AddPlaybackService(&supervisor.Func{Name: svc.Name, Run: svc.Run})
	}
	if m.deps.Status != nil {
		tree.AddAPIService(&supervisor.Func{Name: "status", Run: m.deps.Status})
	}

	m.logger.Info().
		Str(xglog.FieldEvent, "manager.start").
		Int("services", len(services)).
		Bool("status_server", m.deps.Status != nil).
		Msg("starting supervised services")

	serveErr := tree.Serve(ctx)
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, u := range report {
			m.logger.Warn().
				Str(xglog.FieldEvent, "manager.service_unstopped").
				Str("service", u.Name).
				Msg("service did not stop within the shutdown timeout")
		}
	}
	if serveErr != nil && ctx.Err() != nil && errors.Is(serveErr, ctx.Err()) {
		serveErr = nil
	}
	if serveErr != nil {
		m.logger.Error().Err(serveErr).Str(xglog.FieldEvent, "manager.tree_failed").Msg("supervisor tree stopped, initiating shutdown")
	} else {
		m.logger.Info().Str(xglog.FieldEvent, "manager.stop").Msg("shutdown signal received")
	}

	// Use a detached-but-bounded context so shutdown can complete even if parent is canceled.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deps.ShutdownTimeout)
	defer cancel()
	if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
		if serveErr != nil {
			return fmt.Errorf("supervisor error and shutdown failure: %w", errors.Join(serveErr, shutdownErr))
		}
		return shutdownErr
	}
	return serveErr
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	hooks := append([]namedHook(nil), m.shutdownHooks...)
	m.mu.Unlock()

	m.logger.Info().Msg("Shutting down daemon manager")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.deps.ShutdownTimeout)
	defer cancel()

	var errs []error
	m.logger.Debug().Int("hooks", len(hooks)).Msg("Executing shutdown hooks")
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		hookStart := time.Now()
		if err := hook.hook(shutdownCtx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", hook.name, err))
		} else {
			m.logger.Debug().
				Str("hook", hook.name).
				Dur("duration", time.Since(hookStart)).
				Msg("Shutdown hook completed")
		}
	}

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("Shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("Daemon manager stopped cleanly")
	return nil
}

// RegisterShutdownHook registers a cleanup function to be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{
		name: name,
		hook: hook,
	})
	m.logger.Debug().Str("hook", name).Msg("Registered shutdown hook")
}
