// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"context"
	"errors"
	"time"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playerapi"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is returned by Do while calls are being short-circuited.
var ErrBreakerOpen = errors.New("breaker open")

// BreakerConfig configures a Breaker. Zero values take defaults.
type BreakerConfig struct {
	Name      string
	Threshold int           // consecutive counted failures before opening; default 5
	Cooldown  time.Duration // time open before one probe is let through; default 1m
	// Counts decides whether an error says the backend is unhealthy.
	// Defaults to playerapi.Retryable, so pairing outcomes and caller
	// cancellation never open the breaker.
	Counts func(error) bool
}

// Breaker short-circuits best-effort backend calls after repeated
// failures. While open, one probe is allowed per cooldown; its outcome
// closes or re-opens the breaker. Cooldowns run on wall-clock time.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Counts == nil {
		cfg.Counts = playerapi.Retryable
	}
	threshold := uint32(cfg.Threshold)
	counts := cfg.Counts
	logger := xglog.WithComponent("breaker")

	metrics.SetBreakerOpen(cfg.Name, false)
	return &Breaker{
		name: cfg.Name,
		cb: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: 1,
			Timeout:     cfg.Cooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= threshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !counts(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.SetBreakerOpen(name, to != gobreaker.StateClosed)
				if to == gobreaker.StateOpen {
					reason := "threshold"
					if from == gobreaker.StateHalfOpen {
						reason = "probe_failed"
					}
					metrics.RecordBreakerTrip(name, reason)
				}
				logger.Info().
					Str(xglog.FieldEvent, "breaker.state").
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("breaker state changed")
			},
		}),
	}
}

// Do runs op unless the breaker is open. Errors from op are returned
// unchanged.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordBreakerRejected(b.name)
		return ErrBreakerOpen
	}
	return err
}

// Ready reports whether the breaker is not open. A probe already in flight
// still makes Do reject.
func (b *Breaker) Ready() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}
