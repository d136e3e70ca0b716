// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package syncer polls the backend for the device's playlist and decides
// whether the installed playlist must be replaced.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// State classifies the outcome of one sync.
type State string

const (
	StateContent       State = "content"
	StateNoContent     State = "no_content"
	StateUnassigned    State = "unassigned"
	StateInvalidDevice State = "invalid_device"
	StateFailed        State = "failed"
)

// Trigger reasons passed to Wake.
const (
	ReasonInterval  = "interval"
	ReasonStartup   = "startup"
	ReasonReconnect = "reconnect"
	ReasonRefresh   = "refresh"
	ReasonManual    = "manual"
)

const minInterval = time.Second

var ErrNoDevice = errors.New("no device code")

// Result is the outcome of one sync.
type Result struct {
	State State
	// Changed is true when Playlist differs from the installed one.
	Changed  bool
	Playlist *playlist.Playlist
	// Code is the device code the sync ran for.
	Code   string
	Reason string
}

// Fetcher retrieves the raw playlist response for a device.
type Fetcher interface {
	FetchPlaylist(ctx context.Context, code string) (*playerapi.PlaylistResponse, error)
}

// Caller wraps an outbound call with retry and link tracking.
type Caller interface {
	Call(ctx context.Context, kind string, op func(context.Context) error) error
}

// Config wires a Syncer to the rest of the player.
type Config struct {
	Fetcher Fetcher
	// Caller is optional; without it the fetch is attempted once.
	Caller     Caller
	DeviceCode func() string
	// Installed returns the playlist currently playing, or nil.
	Installed func() *playlist.Playlist
	// OnResult receives every completed sync, once per flight.
	OnResult func(ctx context.Context, res Result, err error)
	Interval time.Duration
	Clock    clock.Clock
}

// Syncer runs syncs on a schedule. Concurrent triggers are collapsed: a sync
// requested while one is in flight joins it.
type Syncer struct {
	cfg    Config
	clk    clock.Clock
	logger zerolog.Logger
	group  singleflight.Group

	wake   chan string
	retune chan struct{}

	mu       sync.Mutex
	interval time.Duration
	refresh  clock.Timer
	last     Result
	lastAt   time.Time
}

func New(cfg Config) *Syncer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Interval < minInterval {
		cfg.Interval = 30 * time.Second
	}
	return &Syncer{
		cfg:      cfg,
		clk:      cfg.Clock,
		logger:   xglog.WithComponent("syncer"),
		wake:     make(chan string, 1),
		retune:   make(chan struct{}, 1),
		interval: cfg.Interval,
	}
}

// SyncOnce fetches the playlist and classifies it. A call made while another
// sync is running waits for that sync and shares its result.
func (s *Syncer) SyncOnce(ctx context.Context) (Result, error) {
	return s.syncReason(ctx, ReasonManual)
}

func (s *Syncer) syncReason(ctx context.Context, reason string) (Result, error) {
	v, err, shared := s.group.Do("sync", func() (any, error) {
		res, err := s.fetch(ctx)
		res.Reason = reason
		s.mu.Lock()
		s.last = res
		s.lastAt = s.clk.Now()
		s.mu.Unlock()
		if s.cfg.OnResult != nil {
			s.cfg.OnResult(ctx, res, err)
		}
		return res, err
	})
	if shared {
		s.logger.Debug().Str(xglog.FieldEvent, "sync.joined").Str("reason", reason).Msg("joined in-flight sync")
	}
	res, _ := v.(Result)
	return res, err
}

func (s *Syncer) fetch(ctx context.Context) (Result, error) {
	code := s.code()
	res, err := s.classify(xglog.ContextWithDeviceCode(ctx, code), code)
	res.Code = code
	return res, err
}

func (s *Syncer) code() string {
	if s.cfg.DeviceCode == nil {
		return ""
	}
	return s.cfg.DeviceCode()
}

func (s *Syncer) classify(ctx context.Context, code string) (Result, error) {
	if code == "" {
		metrics.RecordSync(string(StateFailed))
		return Result{State: StateFailed}, ErrNoDevice
	}
	logger := s.logger.With().Str(xglog.FieldDeviceCode, code).Logger()

	var resp *playerapi.PlaylistResponse
	op := func(ctx context.Context) error {
		r, err := s.cfg.Fetcher.FetchPlaylist(ctx, code)
		resp = r
		return err
	}
	var err error
	if s.cfg.Caller != nil {
		err = s.cfg.Caller.Call(ctx, "sync", op)
	} else {
		err = op(ctx)
	}

	switch {
	case errors.Is(err, playerapi.ErrNotAssigned):
		metrics.RecordSync(string(StateUnassigned))
		logger.Info().Str(xglog.FieldEvent, "sync.unassigned").Msg("device not assigned yet")
		return Result{State: StateUnassigned}, nil
	case errors.Is(err, playerapi.ErrInvalidDevice):
		metrics.RecordSync(string(StateInvalidDevice))
		logger.Warn().Str(xglog.FieldEvent, "sync.invalid_device").Msg("backend rejected device code")
		return Result{State: StateInvalidDevice}, nil
	case err != nil:
		metrics.RecordSync(string(StateFailed))
		logger.Warn().Err(err).Str(xglog.FieldEvent, "sync.failed").Msg("playlist sync failed")
		return Result{State: StateFailed}, err
	}

	pl := resp.ToPlaylist()
	if pl == nil {
		metrics.RecordSync(string(StateNoContent))
		logger.Info().Str(xglog.FieldEvent, "sync.no_content").Msg("device has no playable content")
		return Result{State: StateNoContent}, nil
	}

	var installed *playlist.Playlist
	if s.cfg.Installed != nil {
		installed = s.cfg.Installed()
	}
	res := Result{State: StateContent, Playlist: pl, Changed: playlist.Changed(installed, pl)}
	metrics.RecordSync(string(StateContent))
	ev := logger.Debug()
	if res.Changed {
		ev = logger.Info().Strs("reasons", reasonStrings(playlist.Diff(installed, pl)))
	}
	ev.Str(xglog.FieldEvent, "sync.content").
		Str(xglog.FieldPlaylistID, pl.ID).
		Int32(xglog.FieldFingerprint, pl.Fingerprint).
		Bool("changed", res.Changed).
		Int("items", pl.Len()).
		Msg("playlist synced")
	return res, nil
}

func reasonStrings(rs []playlist.Reason) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// Wake requests an immediate sync. Requests made while one is already
// pending are merged.
func (s *Syncer) Wake(reason string) {
	select {
	case s.wake <- reason:
	default:
	}
}

// SetInterval changes the polling cadence; the running loop picks it up at
// once.
func (s *Syncer) SetInterval(d time.Duration) {
	if d < minInterval {
		return
	}
	s.mu.Lock()
	changed := s.interval != d
	s.interval = d
	s.mu.Unlock()
	if changed {
		select {
		case s.retune <- struct{}{}:
		default:
		}
	}
}

func (s *Syncer) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// ArmRefresh schedules one sync after d, replacing any earlier refresh. The
// player arms it with the playlist's total duration on every install so a
// full cycle is always followed by a check. d <= 0 disarms.
func (s *Syncer) ArmRefresh(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
	if d <= 0 {
		return
	}
	s.refresh = s.clk.AfterFunc(d, func() { s.Wake(ReasonRefresh) })
}

// Last returns the most recent result and when it completed.
func (s *Syncer) Last() (Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastAt
}

// Run syncs once at start and then on every trigger until ctx ends.
func (s *Syncer) Run(ctx context.Context) error {
	s.run(ctx, ReasonStartup)
	t := s.clk.NewTimer(s.Interval())
	defer func() {
		t.Stop()
		s.ArmRefresh(0)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			s.run(ctx, ReasonInterval)
			t.Reset(s.Interval())
		case reason := <-s.wake:
			s.run(ctx, reason)
			t.Reset(s.Interval())
		case <-s.retune:
			s.logger.Debug().
				Str(xglog.FieldEvent, "sync.retuned").
				Dur("interval", s.Interval()).
				Msg("sync interval changed")
			t.Reset(s.Interval())
		}
	}
}

func (s *Syncer) run(ctx context.Context, reason string) {
	start := s.clk.Now()
	res, err := s.syncReason(ctx, reason)
	if err != nil && ctx.Err() != nil {
		return
	}
	s.logger.Debug().
		Str(xglog.FieldEvent, "sync.done").
		Str("reason", reason).
		Str("state", string(res.State)).
		Dur("elapsed", s.clk.Now().Sub(start)).
		Msg("sync finished")
}
