// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback drives the installed playlist through a renderer on a
// fixed wall-clock schedule.
//
// Every item runs under a generation number. Timers and renderer tokens
// capture the generation they were created for, and any callback arriving
// for an older generation is dropped. Stop, Start and Advance bump the
// generation, so nothing from a previous item or playlist can act on the
// current one.
package playback

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/rs/zerolog"
)

// TimerName identifies one of the engine's purpose-keyed timers.
type TimerName string

const (
	TimerItem     TimerName = "item"
	TimerLoad     TimerName = "load"
	TimerSettle   TimerName = "settle"
	TimerCooldown TimerName = "cooldown"
	TimerProgress TimerName = "progress"
)

const (
	DefaultImageLoadTimeout = 5 * time.Second
	DefaultSettleDelay      = 500 * time.Millisecond
	DefaultErrorCooldown    = 2 * time.Second
	progressInterval        = 100 * time.Millisecond
)

var (
	ErrLoadTimeout = errors.New("media load timed out")
	ErrNotLoaded   = errors.New("media not loaded before item ended")
	ErrRenderPanic = errors.New("renderer panicked")
)

// Renderer puts media on screen. Show must return promptly; completion is
// signalled through the token. ctx is cancelled when the item is replaced
// or playback stops.
type Renderer interface {
	Show(ctx context.Context, item playlist.Item, token Token) error
	Stop()
}

// Token lets a renderer report on the item it was handed. Reports for an
// item that is no longer current are ignored.
type Token interface {
	// Loaded confirms the media is on screen.
	Loaded()
	// Ended reports natural end of a video.
	Ended()
	// Failed reports a playback error.
	Failed(err error)
	// Current reports whether the token still belongs to the playing item.
	Current() bool
}

type itemToken struct {
	e   *Engine
	gen uint64
}

func (t *itemToken) Loaded()          { t.e.onLoaded(t.gen) }
func (t *itemToken) Ended()           { t.e.onEnded(t.gen) }
func (t *itemToken) Failed(err error) { t.e.fail(t.gen, err) }

func (t *itemToken) Current() bool {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	return t.e.currentLocked(t.gen)
}

// PlayRecord describes one finished item, completed or failed.
type PlayRecord struct {
	PlaylistID string
	Item       playlist.Item
	Started    time.Time
	Ended      time.Time
	Completed  bool
	Err        error
}

// Played is how long the item was on screen.
func (r PlayRecord) Played() time.Duration { return r.Ended.Sub(r.Started) }

// ItemStats aggregates plays of one item.
type ItemStats struct {
	Plays      int64         `json:"plays"`
	PlayedTime time.Duration `json:"playedTime"`
}

// Stats aggregates playback since start.
type Stats struct {
	Completed int64                `json:"completed"`
	Failed    int64                `json:"failed"`
	Items     map[string]ItemStats `json:"items"`
}

// State is a point-in-time view of the engine.
type State struct {
	Playing      bool
	Index        int
	PlaylistID   string
	PlaylistName string
	Item         *playlist.Item
	Progress     float64
	Stats        Stats
}

// Config configures an Engine.
type Config struct {
	Renderer         Renderer
	Clock            clock.Clock
	ImageLoadTimeout time.Duration
	SettleDelay      time.Duration
	ErrorCooldown    time.Duration
	// OnError is called for every failed item.
	OnError func(item playlist.Item, err error)
	// OnItemDone is called for every finished item (proof of play).
	OnItemDone func(PlayRecord)
}

// Engine is the playback state machine: stopped, or playing(index).
type Engine struct {
	cfg    Config
	clk    clock.Clock
	logger zerolog.Logger

	mu         sync.Mutex
	pl         *playlist.Playlist
	index      int
	playing    bool
	gen        uint64
	timers     map[TimerName]clock.Timer
	cancelItem context.CancelFunc
	itemStart  time.Time
	loaded     bool
	done       bool
	progress   float64
	stats      Stats
}

func NewEngine(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.ImageLoadTimeout <= 0 {
		cfg.ImageLoadTimeout = DefaultImageLoadTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ErrorCooldown <= 0 {
		cfg.ErrorCooldown = DefaultErrorCooldown
	}
	return &Engine{
		cfg:    cfg,
		clk:    cfg.Clock,
		logger: xglog.WithComponent("playback"),
		timers: make(map[TimerName]clock.Timer),
		stats:  Stats{Items: make(map[string]ItemStats)},
	}
}

// Start installs pl and plays from index 0. An empty playlist stops playback.
func (e *Engine) Start(pl *playlist.Playlist) {
	e.mu.Lock()
	e.haltLocked()
	if pl.Len() == 0 {
		e.pl = nil
		e.mu.Unlock()
		e.cfg.Renderer.Stop()
		metrics.SetPlaylistItems(0)
		return
	}
	e.pl = pl
	e.index = 0
	e.playing = true
	gen := e.gen
	e.mu.Unlock()

	metrics.SetPlaylistItems(pl.Len())
	e.logger.Info().
		Str("event", "playback.start").
		Str(xglog.FieldPlaylistID, pl.ID).
		Int("items", pl.Len()).
		Msg("playback started")
	e.show(gen)
}

// Stop cancels every timer and clears the screen. The playlist stays
// installed; Resume restarts from index 0.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasPlaying := e.playing
	e.haltLocked()
	e.mu.Unlock()
	e.cfg.Renderer.Stop()
	if wasPlaying {
		e.logger.Info().Str("event", "playback.stop").Msg("playback stopped")
	}
}

// Resume restarts the installed playlist from the beginning.
func (e *Engine) Resume() {
	e.mu.Lock()
	pl := e.pl
	e.mu.Unlock()
	if pl != nil {
		e.Start(pl)
	}
}

// Advance moves to the next item, wrapping at the end.
func (e *Engine) Advance() {
	e.mu.Lock()
	gen, ok := e.advanceLocked()
	e.mu.Unlock()
	if ok {
		e.show(gen)
	}
}

// Playlist returns the installed playlist, nil when none.
func (e *Engine) Playlist() *playlist.Playlist {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pl
}

// State returns a snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := State{
		Playing:  e.playing,
		Index:    e.index,
		Progress: e.progress,
		Stats: Stats{
			Completed: e.stats.Completed,
			Failed:    e.stats.Failed,
			Items:     maps.Clone(e.stats.Items),
		},
	}
	if e.pl != nil {
		st.PlaylistID = e.pl.ID
		st.PlaylistName = e.pl.Name
		if e.playing {
			item := e.pl.Items[e.index]
			st.Item = &item
		}
	}
	return st
}

// ActiveTimers lists armed timers, for diagnostics and tests.
func (e *Engine) ActiveTimers() []TimerName {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]TimerName, 0, len(e.timers))
	for _, n := range []TimerName{TimerItem, TimerLoad, TimerSettle, TimerCooldown, TimerProgress} {
		if _, ok := e.timers[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

// CancelTimer disarms one timer by purpose. Cancelling the item or load
// timer leaves the current item on screen until Advance or Stop.
func (e *Engine) CancelTimer(name TimerName) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(name)
}

// caller holds e.mu
func (e *Engine) haltLocked() {
	e.gen++
	e.playing = false
	e.progress = 0
	e.cancelAllLocked()
	if e.cancelItem != nil {
		e.cancelItem()
		e.cancelItem = nil
	}
}

// caller holds e.mu
func (e *Engine) advanceLocked() (uint64, bool) {
	if !e.playing || e.pl.Len() == 0 {
		return 0, false
	}
	e.gen++
	e.cancelAllLocked()
	e.index = (e.index + 1) % e.pl.Len()
	return e.gen, true
}

// caller holds e.mu
func (e *Engine) armLocked(name TimerName, d time.Duration, gen uint64, fn func(gen uint64)) {
	e.cancelLocked(name)
	e.timers[name] = e.clk.AfterFunc(d, func() {
		defer e.recoverCallback(name)
		fn(gen)
	})
}

// caller holds e.mu
func (e *Engine) cancelLocked(name TimerName) {
	if t, ok := e.timers[name]; ok {
		t.Stop()
		delete(e.timers, name)
	}
}

// caller holds e.mu
func (e *Engine) cancelAllLocked() {
	for name := range e.timers {
		e.cancelLocked(name)
	}
}

// caller holds e.mu; reports whether a callback for gen may act
func (e *Engine) currentLocked(gen uint64) bool {
	return e.playing && gen == e.gen
}

func (e *Engine) recoverCallback(name TimerName) {
	if r := recover(); r != nil {
		e.logger.Error().
			Str("event", "playback.callback_panic").
			Str("timer", string(name)).
			Interface("panic", r).
			Msg("recovered panic in playback timer")
	}
}

func (e *Engine) show(gen uint64) {
	e.mu.Lock()
	if !e.currentLocked(gen) {
		e.mu.Unlock()
		return
	}
	item := e.pl.Items[e.index]
	index := e.index
	if e.cancelItem != nil {
		e.cancelItem()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelItem = cancel
	e.itemStart = e.clk.Now()
	e.loaded = item.Type != playlist.MediaImage
	e.done = false
	e.progress = 0
	e.armLocked(TimerItem, item.Length(), gen, e.onItemTimer)
	if item.Type == playlist.MediaImage {
		e.armLocked(TimerLoad, e.cfg.ImageLoadTimeout, gen, e.onLoadTimeout)
	}
	e.armLocked(TimerProgress, progressInterval, gen, e.onProgress)
	token := &itemToken{e: e, gen: gen}
	e.mu.Unlock()

	e.logger.Debug().
		Str("event", "playback.show").
		Int(xglog.FieldItemIndex, index).
		Str(xglog.FieldItemID, item.ID).
		Str(xglog.FieldMediaType, string(item.Type)).
		Msg("showing item")

	if err := e.safeShow(ctx, item, token); err != nil {
		e.fail(gen, err)
	}
}

func (e *Engine) safeShow(ctx context.Context, item playlist.Item, token Token) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRenderPanic, r)
		}
	}()
	return e.cfg.Renderer.Show(ctx, item, token)
}

func (e *Engine) onLoaded(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(gen) || e.done {
		return
	}
	e.loaded = true
	e.cancelLocked(TimerLoad)
}

func (e *Engine) onEnded(gen uint64) {
	e.mu.Lock()
	video := e.currentLocked(gen) && e.pl.Items[e.index].Type == playlist.MediaVideo
	e.mu.Unlock()
	// images end only on their timer
	if video {
		e.complete(gen)
	}
}

func (e *Engine) onItemTimer(gen uint64) {
	e.mu.Lock()
	ok := e.currentLocked(gen) && !e.done
	loaded := e.loaded
	e.mu.Unlock()
	if !ok {
		return
	}
	if !loaded {
		e.fail(gen, ErrNotLoaded)
		return
	}
	e.complete(gen)
}

func (e *Engine) onLoadTimeout(gen uint64) {
	e.mu.Lock()
	timedOut := e.currentLocked(gen) && !e.done && !e.loaded
	e.mu.Unlock()
	if timedOut {
		e.fail(gen, ErrLoadTimeout)
	}
}

func (e *Engine) onProgress(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(gen) || e.done {
		return
	}
	total := e.pl.Items[e.index].Length()
	elapsed := e.clk.Now().Sub(e.itemStart)
	e.progress = min(float64(elapsed)/float64(total), 1)
	e.armLocked(TimerProgress, progressInterval, gen, e.onProgress)
}

// finishLocked marks the current item done and records statistics.
// caller holds e.mu
func (e *Engine) finishLocked(completed bool, err error) PlayRecord {
	e.done = true
	e.cancelLocked(TimerItem)
	e.cancelLocked(TimerLoad)
	e.cancelLocked(TimerProgress)

	item := e.pl.Items[e.index]
	rec := PlayRecord{
		PlaylistID: e.pl.ID,
		Item:       item,
		Started:    e.itemStart,
		Ended:      e.clk.Now(),
		Completed:  completed,
		Err:        err,
	}
	if completed {
		e.progress = 1
		e.stats.Completed++
		s := e.stats.Items[item.ID]
		s.Plays++
		s.PlayedTime += rec.Played()
		e.stats.Items[item.ID] = s
	} else {
		e.stats.Failed++
	}
	return rec
}

func (e *Engine) complete(gen uint64) {
	e.mu.Lock()
	if !e.currentLocked(gen) || e.done {
		e.mu.Unlock()
		return
	}
	rec := e.finishLocked(true, nil)
	e.armLocked(TimerSettle, e.cfg.SettleDelay, gen, e.advanceFrom)
	e.mu.Unlock()

	metrics.RecordPlaybackItem(string(rec.Item.Type), "completed")
	e.emit(rec)
}

func (e *Engine) fail(gen uint64, err error) {
	e.mu.Lock()
	if !e.currentLocked(gen) || e.done {
		e.mu.Unlock()
		return
	}
	rec := e.finishLocked(false, err)
	e.armLocked(TimerCooldown, e.cfg.ErrorCooldown, gen, e.advanceFrom)
	e.mu.Unlock()

	metrics.RecordPlaybackItem(string(rec.Item.Type), "failed")
	e.logger.Warn().
		Err(err).
		Str("event", "playback.item_failed").
		Str(xglog.FieldItemID, rec.Item.ID).
		Str(xglog.FieldMediaURL, rec.Item.URL).
		Msg("item failed, skipping")
	if e.cfg.OnError != nil {
		e.cfg.OnError(rec.Item, err)
	}
	e.emit(rec)
}

func (e *Engine) advanceFrom(gen uint64) {
	e.mu.Lock()
	if !e.currentLocked(gen) {
		e.mu.Unlock()
		return
	}
	next, ok := e.advanceLocked()
	e.mu.Unlock()
	if ok {
		e.show(next)
	}
}

func (e *Engine) emit(rec PlayRecord) {
	if e.cfg.OnItemDone != nil {
		e.cfg.OnItemDone(rec)
	}
}
