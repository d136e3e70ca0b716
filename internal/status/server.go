// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package status serves the player's local status API: health, readiness,
// the monitoring snapshot, metrics, the current playlist and a few operator
// actions. It binds to loopback by default.
package status

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/signplay/internal/health"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/player"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/playlog"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Player is the part of the player the status API reads and drives.
type Player interface {
	Snapshot() player.Snapshot
	CurrentPlaylist() *playlist.Playlist
	Wake()
	ChangeDevice(ctx context.Context, code string) (string, error)
}

// Config wires the server.
type Config struct {
	Listen string
	// RateLimit is requests per minute per client; <= 0 disables limiting.
	RateLimit int
	Player    Player
	Health    *health.Manager
	// PlayLog enables GET /plays. Optional.
	PlayLog *playlog.Log
	// Reload enables POST /config/reload. Optional.
	Reload func(ctx context.Context) error
}

// Server is the local status HTTP server.
type Server struct {
	cfg     Config
	handler http.Handler
	logger  zerolog.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Player == nil || cfg.Health == nil {
		return nil, errors.New("status: player and health manager are required")
	}
	s := &Server{cfg: cfg, logger: xglog.WithComponent("status")}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(observe)
	if s.cfg.RateLimit > 0 {
		r.Use(rateLimit(s.cfg.RateLimit))
	}

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/status", s.handleStatus)
	r.Get("/playlist.m3u", s.handlePlaylistM3U)
	r.Get("/plays", s.handlePlays)
	r.Post("/sync", s.handleSync)
	r.Post("/device/reset", s.handleDeviceReset)
	r.Post("/config/reload", s.handleReload)
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("status listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(xglog.FieldEvent, "status.listening").
			Str("addr", ln.Addr().String()).
			Msg("status server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.logger.Error().Err(err).Str(xglog.FieldEvent, "status.failed").Msg("status server failed")
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str(xglog.FieldEvent, "status.stopped").Msg("status server stopped")
	return nil
}
