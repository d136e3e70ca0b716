// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package render

import (
	"context"
	"sync/atomic"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/rs/zerolog"
)

// Log is a headless renderer. It acknowledges every load immediately and
// leaves completion to the item timer.
type Log struct {
	logger zerolog.Logger
	shown  atomic.Int64
}

func NewLog() *Log {
	return &Log{logger: xglog.WithComponent("render")}
}

func (l *Log) Show(ctx context.Context, item playlist.Item, token playback.Token) error {
	l.shown.Add(1)
	logger := xglog.WithContext(ctx, l.logger)
	logger.Info().
		Str(xglog.FieldEvent, "render.show").
		Str(xglog.FieldItemID, item.ID).
		Str(xglog.FieldMediaType, string(item.Type)).
		Str(xglog.FieldMediaURL, item.URL).
		Int("duration_s", item.Duration).
		Msg("showing item")
	token.Loaded()
	return nil
}

func (l *Log) Stop() {
	l.logger.Debug().Str(xglog.FieldEvent, "render.stop").Msg("screen cleared")
}

// Shown returns how many items were handed to the renderer.
func (l *Log) Shown() int64 { return l.shown.Load() }
