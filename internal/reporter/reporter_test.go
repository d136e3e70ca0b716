// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package reporter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeAPI struct {
	mu         sync.Mutex
	heartbeats []playerapi.HeartbeatRequest
	changes    []playerapi.PlaylistChangeRequest
	errors     []playerapi.ErrorReport
	fail       error
	beat       chan struct{}
	ctxCodes   []string
}

func (f *fakeAPI) Heartbeat(ctx context.Context, code string, body playerapi.HeartbeatRequest) error {
	f.mu.Lock()
	f.ctxCodes = append(f.ctxCodes, xglog.DeviceCodeFromContext(ctx))
	f.heartbeats = append(f.heartbeats, body)
	err := f.fail
	f.mu.Unlock()
	if f.beat != nil {
		f.beat <- struct{}{}
	}
	return err
}

func (f *fakeAPI) ReportPlaylistChange(ctx context.Context, _ string, body playerapi.PlaylistChangeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxCodes = append(f.ctxCodes, xglog.DeviceCodeFromContext(ctx))
	f.changes = append(f.changes, body)
	return f.fail
}

func (f *fakeAPI) ReportError(ctx context.Context, _ string, body playerapi.ErrorReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxCodes = append(f.ctxCodes, xglog.DeviceCodeFromContext(ctx))
	f.errors = append(f.errors, body)
	return f.fail
}

type fakeLink struct {
	online atomic.Bool
	calls  atomic.Int32
	marked atomic.Int32
}

func newLink() *fakeLink {
	l := &fakeLink{}
	l.online.Store(true)
	return l
}

func (l *fakeLink) Call(ctx context.Context, _ string, op func(context.Context) error) error {
	l.calls.Add(1)
	return op(ctx)
}
func (l *fakeLink) Online() bool            { return l.online.Load() }
func (l *fakeLink) MarkHeartbeat(time.Time) { l.marked.Add(1) }

type fakeMirror struct {
	mu     sync.Mutex
	bodies []playerapi.HeartbeatRequest
}

func (m *fakeMirror) PublishStatus(_ context.Context, _ string, body playerapi.HeartbeatRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func status() playerapi.HeartbeatRequest {
	return playerapi.HeartbeatRequest{
		Status:     "playing",
		PlayerInfo: playerapi.PlayerInfo{CurrentIndex: 1, IsPlaying: true, IsOnline: true, PlaylistID: "pl-1"},
	}
}

func newReporter(api *fakeAPI, link *fakeLink, mirror Mirror) *Reporter {
	return New(Config{
		API:        api,
		Link:       link,
		Mirror:     mirror,
		DeviceCode: func() string { return "AB12CD34" },
		Status:     status,
	})
}

func TestHeartbeat_SendsAndMirrors(t *testing.T) {
	api, link, mirror := &fakeAPI{}, newLink(), &fakeMirror{}
	r := newReporter(api, link, mirror)

	require.NoError(t, r.Heartbeat(context.Background()))
	require.Len(t, api.heartbeats, 1)
	assert.Equal(t, "playing", api.heartbeats[0].Status)
	assert.Equal(t, 1, api.heartbeats[0].PlayerInfo.CurrentIndex)
	assert.EqualValues(t, 1, link.calls.Load(), "heartbeat goes through the controller")
	assert.EqualValues(t, 1, link.marked.Load())
	assert.Len(t, mirror.bodies, 1)
	assert.NoError(t, r.LastError())
	assert.Equal(t, []string{"AB12CD34"}, api.ctxCodes, "device code rides on the context for tracing")
}

func TestHeartbeat_FailureStillMirrors(t *testing.T) {
	api := &fakeAPI{fail: errors.New("boom")}
	link, mirror := newLink(), &fakeMirror{}
	r := newReporter(api, link, mirror)

	assert.Error(t, r.Heartbeat(context.Background()))
	assert.Zero(t, link.marked.Load())
	assert.Len(t, mirror.bodies, 1)
	assert.Error(t, r.LastError())
}

func TestReports_SkippedWhileOffline(t *testing.T) {
	api, link := &fakeAPI{}, newLink()
	link.online.Store(false)
	r := newReporter(api, link, nil)

	err := r.ReportError(context.Background(), KindPlayback, Detail{Message: "x"})
	assert.ErrorIs(t, err, ErrSkipped)
	err = r.ReportPlaylistChange(context.Background(), playlist.New("p", "n", "1", []playlist.Item{{ID: "a", Type: playlist.MediaImage, URL: "u", Duration: 5}}))
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Empty(t, api.errors)
	assert.Empty(t, api.changes)
}

func TestReports_Delivered(t *testing.T) {
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	api := &fakeAPI{}
	r := New(Config{API: api, Link: newLink(), DeviceCode: func() string { return "AB12CD34" }, Status: status, Clock: clk})

	pl := playlist.New("p", "Lobby", "7", []playlist.Item{{ID: "a", Type: playlist.MediaImage, URL: "u", Duration: 5}})
	require.NoError(t, r.ReportPlaylistChange(context.Background(), pl))
	require.NoError(t, r.ReportError(context.Background(), KindPlayback, Detail{Message: "load timeout", ItemID: "a", URL: "u"}))

	require.Len(t, api.changes, 1)
	assert.Equal(t, "Lobby", api.changes[0].PlaylistName)
	assert.EqualValues(t, 1_700_000_000_000, api.changes[0].Timestamp)
	require.Len(t, api.errors, 1)
	assert.Equal(t, playerapi.ErrorReport{Kind: KindPlayback, Message: "load timeout", ItemID: "a", URL: "u", Timestamp: 1_700_000_000_000}, api.errors[0])
	assert.Equal(t, []string{"AB12CD34", "AB12CD34"}, api.ctxCodes)
}

func TestReports_BreakerStopsHammering(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	api := &fakeAPI{fail: errors.New("500")}
	r := New(Config{
		API:        api,
		Link:       newLink(),
		Breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "reports", Threshold: 2, Cooldown: 200 * time.Millisecond}),
		DeviceCode: func() string { return "AB12CD34" },
		Status:     status,
		Clock:      clk,
	})

	for range 5 {
		_ = r.ReportError(context.Background(), KindSync, Detail{Message: "x"})
	}
	assert.Len(t, api.errors, 2, "breaker opens after the threshold")

	time.Sleep(250 * time.Millisecond)
	api.mu.Lock()
	api.fail = nil
	api.mu.Unlock()
	require.NoError(t, r.ReportError(context.Background(), KindSync, Detail{Message: "x"}))
	assert.Len(t, api.errors, 3)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	r := newReporter(&fakeAPI{}, newLink(), nil)
	for range queueSize + 5 {
		r.QueueError(KindPlayback, Detail{Message: "x"})
	}
	assert.Len(t, r.queue, queueSize)
}

func TestRun_HeartbeatsAndDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewFake(time.Unix(0, 0))
	api := &fakeAPI{beat: make(chan struct{}, 8)}
	r := New(Config{
		API:        api,
		Link:       newLink(),
		DeviceCode: func() string { return "AB12CD34" },
		Status:     status,
		Interval:   30 * time.Second,
		Clock:      clk,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-api.beat
	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)
	<-api.beat

	r.SetInterval(15 * time.Second)
	r.QueueError(KindPreload, Detail{Message: "unreachable"})
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return len(api.errors) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		clk.Advance(15 * time.Second)
		select {
		case <-api.beat:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, 2*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
