// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playlist"
)

// indexedRenderer consults the media index before every show, so the
// cache hit rate reflects what was actually played. A miss only logs; the
// renderer fetches the media itself.
type indexedRenderer struct {
	next playback.Renderer
	p    *Player
}

func (r *indexedRenderer) Show(ctx context.Context, item playlist.Item, token playback.Token) error {
	if r.p.preloader != nil {
		_, hit := r.p.preloader.Index().Lookup(item.URL)
		metrics.RecordCacheLookup(hit)
		if !hit {
			r.p.logger.Debug().
				Str(xglog.FieldEvent, "player.cache_miss").
				Str(xglog.FieldItemID, item.ID).
				Str(xglog.FieldMediaURL, item.URL).
				Msg("showing media that was not preloaded")
		}
	}
	return r.next.Show(ctx, item, token)
}

func (r *indexedRenderer) Stop() { r.next.Stop() }
