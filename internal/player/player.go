// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package player assembles one signage player: device identity, playlist
// sync, media preload, playback, link resilience and telemetry. A Player is
// an explicit value; nothing in this package is global.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/device"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/playlog"
	"github.com/ManuGH/signplay/internal/preload"
	"github.com/ManuGH/signplay/internal/reporter"
	"github.com/ManuGH/signplay/internal/resilience"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/ManuGH/signplay/internal/syncer"
	"github.com/rs/zerolog"
)

const (
	loadSampleWindow     = 20
	storeTimeout         = 5 * time.Second
	playLogRetention     = 30 * 24 * time.Hour
	housekeepingInterval = time.Hour
	reportBreakerTrips   = 5
	reportBreakerReset   = time.Minute
)

// Content sources.
const (
	SourceServer   = "server"
	SourceSnapshot = "snapshot"
)

// API is the backend surface the player consumes.
type API interface {
	syncer.Fetcher
	reporter.API
	Probe(ctx context.Context) (time.Duration, error)
}

// Deps are the collaborators of a Player. Store, API and Renderer are
// required.
type Deps struct {
	Config   config.AppConfig
	Store    *store.Persistence
	API      API
	Renderer playback.Renderer
	// Images and Videos default to the HTTP and ffprobe probes.
	Images preload.MediaProbe
	Videos preload.MediaProbe
	// PlayLog is the optional proof-of-play log.
	PlayLog *playlog.Log
	// Mirror optionally republishes heartbeats (MQTT).
	Mirror  reporter.Mirror
	Clock   clock.Clock
	Version string
}

// Player is one running signage player.
type Player struct {
	version string
	clk     clock.Clock
	logger  zerolog.Logger
	started time.Time

	store     *store.Persistence
	device    *device.Manager
	link      *resilience.Controller
	engine    *playback.Engine
	preloader *preload.Preloader
	syncer    *syncer.Syncer
	reporter  *reporter.Reporter
	playlog   *playlog.Log

	// changeMu serializes identity changes. gate is held shared by every
	// device-bound service while it runs and exclusively while the
	// identity is swapped.
	changeMu sync.Mutex
	gate     sync.RWMutex

	sessMu     sync.Mutex
	sessCtx    context.Context
	sessCancel context.CancelFunc

	preloads sync.WaitGroup

	mu            sync.Mutex
	invalidGrace  time.Duration
	source        string
	waiting       bool
	pairing       bool
	pairTimer     clock.Timer
	preloadCancel context.CancelFunc
	lastSyncErr   error
	loadTimes     []time.Duration
	errCount      int64
	lastErr       string
	lastErrAt     time.Time
}

// New wires a player. Nothing runs until Bootstrap and Services.
func New(d Deps) (*Player, error) {
	if d.Store == nil || d.API == nil || d.Renderer == nil {
		return nil, errors.New("player: store, api and renderer are required")
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	cfg := d.Config

	policy, err := preload.NewPolicy(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("media policy: %w", err)
	}
	if d.Images == nil {
		d.Images = &preload.ImageProbe{}
	}
	if d.Videos == nil {
		d.Videos = &preload.VideoProbe{Bin: cfg.Preload.FFprobeBin}
	}

	p := &Player{
		version:      d.Version,
		clk:          clk,
		logger:       xglog.WithComponent("player"),
		started:      clk.Now(),
		store:        d.Store,
		device:       device.NewManager(d.Store, cfg.Device.Code),
		playlog:      d.PlayLog,
		invalidGrace: cfg.Sync.InvalidGrace,
	}
	p.sessCtx, p.sessCancel = context.WithCancel(context.Background())

	p.link = resilience.NewController(resilience.ControllerConfig{
		Policy: resilience.RetryPolicy{
			Attempts:  cfg.Retry.Attempts,
			BaseDelay: cfg.Retry.BaseDelay,
			Ceiling:   cfg.Retry.Ceiling,
			Clock:     clk,
		},
		BaseSync:        cfg.Sync.Interval,
		QualityInterval: cfg.Quality.Interval,
		ConnectionType:  cfg.Quality.ConnectionType,
		Probe:           d.API.Probe,
		Clock:           clk,
	})

	p.engine = playback.NewEngine(playback.Config{
		Renderer:         &indexedRenderer{next: d.Renderer, p: p},
		Clock:            clk,
		ImageLoadTimeout: cfg.Playback.ImageLoadTimeout,
		SettleDelay:      cfg.Playback.SettleDelay,
		ErrorCooldown:    cfg.Playback.ErrorCooldown,
		OnError:          p.onPlaybackError,
		OnItemDone:       p.onItemDone,
	})

	p.preloader = preload.New(preload.Options{
		Images:       d.Images,
		Videos:       d.Videos,
		Policy:       policy,
		Persister:    d.Store,
		Concurrency:  cfg.Preload.Concurrency,
		Timeout:      cfg.Preload.Timeout,
		Clock:        clk,
		OnThroughput: p.link.ObserveThroughput,
	})

	p.syncer = syncer.New(syncer.Config{
		Fetcher:    d.API,
		Caller:     p.link,
		DeviceCode: p.device.Current,
		Installed:  p.engine.Playlist,
		OnResult:   p.handleSync,
		Interval:   p.link.Intervals().Sync,
		Clock:      clk,
	})

	p.reporter = reporter.New(reporter.Config{
		API:  d.API,
		Link: p.link,
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:      "reports",
			Threshold: reportBreakerTrips,
			Cooldown:  reportBreakerReset,
		}),
		Mirror:     d.Mirror,
		DeviceCode: p.device.Current,
		Status:     p.HeartbeatBody,
		Interval:   p.link.Intervals().Heartbeat,
		Clock:      clk,
	})

	p.link.OnOffline(p.onOffline)
	p.link.OnOnline(p.onOnline)
	p.link.OnIntervals(func(iv resilience.Intervals) {
		p.syncer.SetInterval(iv.Sync)
		p.reporter.SetInterval(iv.Heartbeat)
	})
	return p, nil
}

// Bootstrap resolves the device identity and restores the persisted media
// index. It must run before Services.
func (p *Player) Bootstrap(ctx context.Context) error {
	code, err := p.device.LoadOrCreate(ctx)
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}

	pairs, err := p.store.LoadMediaCache(ctx)
	switch {
	case err == nil:
		p.preloader.Index().Restore(pairs)
		p.logger.Info().
			Str(xglog.FieldEvent, "player.cache_restored").
			Int("entries", len(pairs)).
			Msg("media cache index restored")
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
	default:
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.cache_restore_failed").Msg("media cache index not restored")
	}

	p.pruneLog(ctx)

	p.logger.Info().
		Str(xglog.FieldEvent, "player.bootstrap").
		Str(xglog.FieldDeviceCode, code).
		Msg("player ready")
	return nil
}

// ApplyConfig picks up the settings that can change at runtime.
func (p *Player) ApplyConfig(cfg config.AppConfig) {
	p.link.SetBaseSync(cfg.Sync.Interval)

	policy, err := preload.NewPolicy(cfg.Media)
	if err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.policy_rejected").Msg("media policy not applied")
	} else {
		p.preloader.SetPolicy(policy)
	}

	p.mu.Lock()
	p.invalidGrace = cfg.Sync.InvalidGrace
	p.mu.Unlock()
}

// DeviceCode returns the active device code.
func (p *Player) DeviceCode() string { return p.device.Current() }

// CurrentPlaylist returns the installed playlist, nil when none.
func (p *Player) CurrentPlaylist() *playlist.Playlist { return p.engine.Playlist() }

// PlayLog returns the proof-of-play log, nil when disabled.
func (p *Player) PlayLog() *playlog.Log { return p.playlog }

// Wake requests an immediate sync.
func (p *Player) Wake() { p.syncer.Wake(syncer.ReasonManual) }

// Close stops playback and waits for in-flight preloads. The store and the
// play log belong to the caller.
func (p *Player) Close() {
	p.sessMu.Lock()
	p.sessCancel()
	p.sessMu.Unlock()
	p.cancelPreload()
	p.mu.Lock()
	if p.pairTimer != nil {
		p.pairTimer.Stop()
	}
	p.mu.Unlock()
	p.engine.Stop()
	p.preloads.Wait()
}

func (p *Player) recordError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount++
	p.lastErr = msg
	p.lastErrAt = p.clk.Now()
}

func (p *Player) recordLoadTime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadTimes = append(p.loadTimes, d)
	if len(p.loadTimes) > loadSampleWindow {
		p.loadTimes = p.loadTimes[len(p.loadTimes)-loadSampleWindow:]
	}
}

func (p *Player) onPlaybackError(item playlist.Item, err error) {
	p.recordError(fmt.Sprintf("playback %s: %v", item.ID, err))
	p.reporter.QueueError(reporter.KindPlayback, reporter.Detail{
		Message: err.Error(),
		ItemID:  item.ID,
		URL:     item.URL,
	})
}

func (p *Player) onItemDone(rec playback.PlayRecord) {
	if p.playlog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := p.playlog.Record(ctx, p.device.Current(), rec); err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.playlog_failed").Msg("play not logged")
	}
}

func (p *Player) pruneLog(ctx context.Context) {
	if p.playlog == nil {
		return
	}
	n, err := p.playlog.Prune(ctx, p.clk.Now().Add(-playLogRetention))
	if err != nil {
		p.logger.Warn().Err(err).Str(xglog.FieldEvent, "player.playlog_prune_failed").Msg("play log not pruned")
		return
	}
	if n > 0 {
		p.logger.Info().Str(xglog.FieldEvent, "player.playlog_pruned").Int64("rows", n).Msg("old plays pruned")
	}
}
