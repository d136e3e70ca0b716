// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package render provides the playback.Renderer implementations: a headless
// logger and an external viewer process per item.
package render

import (
	"fmt"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/playback"
)

// New builds the renderer selected by cfg.Backend.
func New(cfg config.RenderConfig) (playback.Renderer, error) {
	switch cfg.Backend {
	case "", "log":
		return NewLog(), nil
	case "exec":
		return NewExec(ExecConfig{ImageCmd: cfg.ImageCmd, VideoCmd: cfg.VideoCmd})
	default:
		return nil, fmt.Errorf("unknown render backend %q", cfg.Backend)
	}
}
