// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reporter sends heartbeats and best-effort event reports to the
// backend and mirrors the player status to MQTT.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/resilience"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	reportTimeout = 10 * time.Second
	queueSize     = 32
)

// Report kinds, used as the error report type and metric label.
const (
	KindPlaylistChange = "playlist_change"
	KindPlayback       = "playback"
	KindSync           = "sync"
	KindPreload        = "preload"
	KindPairing        = "pairing"
)

var ErrSkipped = errors.New("report skipped")

// API is the subset of the backend client the reporter needs.
type API interface {
	Heartbeat(ctx context.Context, code string, body playerapi.HeartbeatRequest) error
	ReportPlaylistChange(ctx context.Context, code string, body playerapi.PlaylistChangeRequest) error
	ReportError(ctx context.Context, code string, body playerapi.ErrorReport) error
}

// Link is the resilience controller as seen by the reporter.
type Link interface {
	Call(ctx context.Context, kind string, op func(context.Context) error) error
	Online() bool
	MarkHeartbeat(at time.Time)
}

// Mirror republishes heartbeats, e.g. to an MQTT broker.
type Mirror interface {
	PublishStatus(ctx context.Context, code string, body playerapi.HeartbeatRequest) error
}

// Detail describes a reported error.
type Detail struct {
	Message string
	ItemID  string
	URL     string
}

type Config struct {
	API  API
	Link Link
	// Breaker guards the best-effort report endpoints. Optional.
	Breaker    *resilience.Breaker
	Mirror     Mirror
	DeviceCode func() string
	// Status builds the heartbeat body from the live player state.
	Status   func() playerapi.HeartbeatRequest
	Interval time.Duration
	Clock    clock.Clock
}

// Reporter owns the heartbeat loop and a small queue of outgoing reports.
type Reporter struct {
	cfg    Config
	clk    clock.Clock
	logger zerolog.Logger
	queue  chan func(context.Context)
	retune chan struct{}

	mu       sync.Mutex
	interval time.Duration
	lastErr  error
}

func New(cfg Config) *Reporter {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Reporter{
		cfg:      cfg,
		clk:      cfg.Clock,
		logger:   xglog.WithComponent("reporter"),
		queue:    make(chan func(context.Context), queueSize),
		retune:   make(chan struct{}, 1),
		interval: cfg.Interval,
	}
}

func (r *Reporter) code() string {
	if r.cfg.DeviceCode == nil {
		return ""
	}
	return r.cfg.DeviceCode()
}

// Heartbeat sends the current status through the resilience controller and
// mirrors it. The mirror is fed even when the backend is unreachable.
func (r *Reporter) Heartbeat(ctx context.Context) error {
	code := r.code()
	if code == "" {
		return fmt.Errorf("heartbeat: %w", ErrSkipped)
	}
	ctx = xglog.ContextWithDeviceCode(ctx, code)
	body := r.cfg.Status()

	op := func(ctx context.Context) error { return r.cfg.API.Heartbeat(ctx, code, body) }
	var err error
	if r.cfg.Link != nil {
		err = r.cfg.Link.Call(ctx, "heartbeat", op)
	} else {
		err = op(ctx)
	}

	if err == nil {
		metrics.RecordHeartbeat("ok")
		if r.cfg.Link != nil {
			r.cfg.Link.MarkHeartbeat(r.clk.Now())
		}
	} else if ctx.Err() == nil {
		metrics.RecordHeartbeat("failed")
		r.logger.Warn().Err(err).
			Str(xglog.FieldEvent, "reporter.heartbeat_failed").
			Str(xglog.FieldDeviceCode, code).
			Msg("heartbeat failed")
	}
	r.setLastErr(err)

	if r.cfg.Mirror != nil {
		if merr := r.cfg.Mirror.PublishStatus(ctx, code, body); merr != nil {
			r.logger.Debug().Err(merr).Str(xglog.FieldEvent, "reporter.mirror_failed").Msg("status mirror publish failed")
		}
	}
	return err
}

// ReportPlaylistChange announces a newly installed playlist. Best-effort.
func (r *Reporter) ReportPlaylistChange(ctx context.Context, pl *playlist.Playlist) error {
	if pl == nil {
		return nil
	}
	body := playerapi.NewPlaylistChange(pl, r.clk.Now().UnixMilli())
	return r.bestEffort(ctx, KindPlaylistChange, func(ctx context.Context, code string) error {
		return r.cfg.API.ReportPlaylistChange(ctx, code, body)
	})
}

// ReportError sends an error report. Best-effort.
func (r *Reporter) ReportError(ctx context.Context, kind string, d Detail) error {
	body := playerapi.ErrorReport{
		Kind:      kind,
		Message:   d.Message,
		ItemID:    d.ItemID,
		URL:       d.URL,
		Timestamp: r.clk.Now().UnixMilli(),
	}
	return r.bestEffort(ctx, kind, func(ctx context.Context, code string) error {
		return r.cfg.API.ReportError(ctx, code, body)
	})
}

// bestEffort makes one attempt. It is skipped while the link is offline or
// the breaker is open, and failures are logged rather than escalated.
func (r *Reporter) bestEffort(ctx context.Context, kind string, send func(context.Context, string) error) error {
	code := r.code()
	if code == "" || (r.cfg.Link != nil && !r.cfg.Link.Online()) {
		metrics.RecordReport(kind, "skipped")
		return ErrSkipped
	}
	if r.cfg.Breaker != nil && !r.cfg.Breaker.Ready() {
		metrics.RecordReport(kind, "skipped")
		return ErrSkipped
	}

	ctx, cancel := context.WithTimeout(xglog.ContextWithDeviceCode(ctx, code), reportTimeout)
	defer cancel()
	call := func(ctx context.Context) error { return send(ctx, code) }
	var err error
	if r.cfg.Breaker != nil {
		err = r.cfg.Breaker.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	if errors.Is(err, resilience.ErrBreakerOpen) {
		metrics.RecordReport(kind, "skipped")
		return ErrSkipped
	}
	if err != nil {
		metrics.RecordReport(kind, "failed")
		r.logger.Debug().Err(err).
			Str(xglog.FieldEvent, "reporter.report_failed").
			Str("kind", kind).
			Msg("report not delivered")
		return err
	}
	metrics.RecordReport(kind, "sent")
	return nil
}

// QueueError enqueues an error report for the running loop. Reports are
// dropped when the queue is full.
func (r *Reporter) QueueError(kind string, d Detail) {
	r.enqueue(kind, func(ctx context.Context) { _ = r.ReportError(ctx, kind, d) })
}

// QueuePlaylistChange enqueues a playlist announcement for the running loop.
func (r *Reporter) QueuePlaylistChange(pl *playlist.Playlist) {
	r.enqueue(KindPlaylistChange, func(ctx context.Context) { _ = r.ReportPlaylistChange(ctx, pl) })
}

func (r *Reporter) enqueue(kind string, job func(context.Context)) {
	select {
	case r.queue <- job:
	default:
		metrics.RecordReport(kind, "dropped")
	}
}

// SetInterval changes the heartbeat cadence.
func (r *Reporter) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	changed := r.interval != d
	r.interval = d
	r.mu.Unlock()
	if changed {
		select {
		case r.retune <- struct{}{}:
		default:
		}
	}
}

func (r *Reporter) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// LastError returns the outcome of the latest heartbeat.
func (r *Reporter) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Reporter) setLastErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// Run sends heartbeats on the tuned interval and drains the report queue
// until ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.heartbeatLoop(ctx) })
	g.Go(func() error { return r.reportLoop(ctx) })
	return g.Wait()
}

func (r *Reporter) heartbeatLoop(ctx context.Context) error {
	_ = r.Heartbeat(ctx)
	t := r.clk.NewTimer(r.Interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			_ = r.Heartbeat(ctx)
			t.Reset(r.Interval())
		case <-r.retune:
			t.Reset(r.Interval())
		}
	}
}

func (r *Reporter) reportLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-r.queue:
			job(ctx)
		}
	}
}
