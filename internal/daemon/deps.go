// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"time"

	"github.com/ManuGH/signplay/internal/player"
	"github.com/ManuGH/signplay/internal/supervisor"
	"github.com/rs/zerolog"
)

// Runtime is the player as the manager supervises it.
type Runtime interface {
	Services() []player.Service
}

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Player provides the supervised playback loops.
	Player Runtime

	// Status runs the local status server until ctx ends. Optional.
	Status func(ctx context.Context) error

	// Tree tunes restart backoff of the supervisor tree.
	Tree supervisor.TreeConfig

	// ShutdownTimeout bounds shutdown hooks. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.Player == nil {
		return ErrMissingPlayer
	}
	return nil
}
