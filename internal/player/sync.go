// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"errors"
	"fmt"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/reporter"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/ManuGH/signplay/internal/syncer"
)

// handleSync applies one sync result. Results for a previous identity or a
// cancelled session are dropped.
func (p *Player) handleSync(ctx context.Context, res syncer.Result, err error) {
	if ctx.Err() != nil {
		return
	}
	if res.Code != p.device.Current() {
		p.logger.Debug().
			Str(xglog.FieldEvent, "player.stale_sync").
			Str(xglog.FieldDeviceCode, res.Code).
			Msg("dropping sync result for previous device code")
		return
	}

	p.mu.Lock()
	p.lastSyncErr = err
	p.mu.Unlock()

	switch res.State {
	case syncer.StateContent:
		p.mu.Lock()
		p.waiting = false
		p.mu.Unlock()
		if res.Changed {
			p.install(ctx, res.Playlist, SourceServer)
			return
		}
		p.mu.Lock()
		p.source = SourceServer
		p.mu.Unlock()

	case syncer.StateNoContent, syncer.StateUnassigned:
		p.showWaiting(ctx)

	case syncer.StateInvalidDevice:
		p.beginPairing(res.Code)

	case syncer.StateFailed:
		if err == nil || errors.Is(err, syncer.ErrNoDevice) {
			return
		}
		p.recordError(fmt.Sprintf("sync: %v", err))
		p.reporter.QueueError(reporter.KindSync, reporter.Detail{Message: err.Error()})
	}
}

// install makes pl the current playlist and starts it from the first item.
// Playback does not wait for the preload batch; media the renderer reaches
// first is simply fetched on demand.
func (p *Player) install(ctx context.Context, pl *playlist.Playlist, source string) {
	p.mu.Lock()
	p.source = source
	p.waiting = false
	p.mu.Unlock()

	p.engine.Start(pl)
	p.syncer.ArmRefresh(pl.TotalDuration())

	p.logger.Info().
		Str(xglog.FieldEvent, "player.installed").
		Str(xglog.FieldPlaylistID, pl.ID).
		Int32(xglog.FieldFingerprint, pl.Fingerprint).
		Str("source", source).
		Int("items", pl.Len()).
		Dur("cycle", pl.TotalDuration()).
		Msg("playlist installed")

	if source != SourceServer {
		return
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	if err := p.store.SavePlaylistSnapshot(sctx, pl); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.snapshot_failed").Msg("playlist snapshot not saved")
	}
	cancel()

	p.reporter.QueuePlaylistChange(pl)
	p.startPreload(pl)
}

// startPreload primes the media of pl, cancelling any earlier batch. The
// batch runs under the current session so an identity change stops it.
func (p *Player) startPreload(pl *playlist.Playlist) {
	ctx, cancel := context.WithCancel(p.session())

	p.mu.Lock()
	if p.preloadCancel != nil {
		p.preloadCancel()
	}
	p.preloadCancel = cancel
	p.preloads.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.preloads.Done()
		defer cancel()

		outcomes := p.preloader.Preload(ctx, pl.Items)
		if ctx.Err() != nil {
			return
		}
		for _, o := range outcomes {
			if o.Err != nil {
				p.recordError(fmt.Sprintf("preload %s: %v", o.Item.ID, o.Err))
				p.reporter.QueueError(reporter.KindPreload, reporter.Detail{
					Message: o.Err.Error(),
					ItemID:  o.Item.ID,
					URL:     o.Item.URL,
				})
				continue
			}
			if !o.Cached {
				p.recordLoadTime(o.Elapsed)
			}
		}
	}()
}

func (p *Player) cancelPreload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.preloadCancel != nil {
		p.preloadCancel()
		p.preloadCancel = nil
	}
}

// showWaiting stops playback for a paired device without content. The
// snapshot of what used to play is dropped so an outage cannot bring it
// back.
func (p *Player) showWaiting(ctx context.Context) {
	p.mu.Lock()
	p.waiting = true
	p.source = ""
	p.mu.Unlock()

	if p.engine.Playlist() == nil {
		return
	}
	p.cancelPreload()
	p.syncer.ArmRefresh(0)
	p.engine.Start(nil)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := p.store.ClearContent(sctx); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.clear_failed").Msg("local content not cleared")
	}
	p.logger.Info().Str(xglog.FieldEvent, "player.waiting").Msg("no content assigned, playback stopped")
}

// beginPairing shows the pairing state and replaces the rejected code once
// the grace delay has passed.
func (p *Player) beginPairing(rejected string) {
	p.mu.Lock()
	if p.pairing {
		p.mu.Unlock()
		return
	}
	p.pairing = true
	grace := p.invalidGrace
	p.pairTimer = p.clk.AfterFunc(grace, func() { p.repair(rejected) })
	p.mu.Unlock()

	p.engine.Stop()
	p.recordError(fmt.Sprintf("device code %s rejected", rejected))
	p.logger.Warn().
		Str(xglog.FieldEvent, "player.pairing").
		Str(xglog.FieldDeviceCode, rejected).
		Dur("grace", grace).
		Msg("device code rejected, re-pairing after grace delay")
}

func (p *Player) repair(rejected string) {
	if p.device.Current() != rejected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if _, err := p.ChangeDevice(ctx, ""); err != nil {
		p.logger.Error().Err(err).Str(xglog.FieldEvent, "player.repair_failed").Msg("re-pairing failed")
	}
}

// onOffline keeps whatever is playing. With nothing installed it falls back
// to the persisted snapshot; without one the player shows the error state.
func (p *Player) onOffline() {
	if p.engine.Playlist() != nil {
		p.logger.Info().Str(xglog.FieldEvent, "player.offline").Msg("offline, continuing with installed playlist")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	pl, savedAt, err := p.store.LoadPlaylistSnapshot(ctx)
	if err != nil || pl.Len() == 0 {
		if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExpired) {
			p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.snapshot_unreadable").Msg("playlist snapshot unreadable")
		}
		p.mu.Lock()
		p.waiting = false
		p.mu.Unlock()
		p.logger.Error().Str(xglog.FieldEvent, "player.offline_empty").Msg("offline with no cached content")
		return
	}
	p.logger.Info().
		Str(xglog.FieldEvent, "player.offline_snapshot").
		Str(xglog.FieldPlaylistID, pl.ID).
		Time("saved_at", savedAt).
		Msg("offline, playing cached playlist")
	p.install(ctx, pl, SourceSnapshot)
}

func (p *Player) onOnline() {
	p.logger.Info().Str(xglog.FieldEvent, "player.online").Msg("backend reachable again, syncing")
	p.syncer.Wake(syncer.ReasonReconnect)
}
