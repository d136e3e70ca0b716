// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/device"
	"github.com/ManuGH/signplay/internal/health"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/playlog"
	"github.com/ManuGH/signplay/internal/preload"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/ManuGH/signplay/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testCode = "AB12CD34"

type fakeAPI struct {
	mu        sync.Mutex
	playlists map[string]*playerapi.PlaylistResponse
	fetchErr  map[string]error
	fetches   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		playlists: make(map[string]*playerapi.PlaylistResponse),
		fetchErr:  make(map[string]error),
	}
}

func (f *fakeAPI) set(code string, resp *playerapi.PlaylistResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[code] = resp
	f.fetchErr[code] = err
}

func (f *fakeAPI) fetchedFor(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Contains(f.fetches, code)
}

func (f *fakeAPI) FetchPlaylist(_ context.Context, code string) (*playerapi.PlaylistResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, code)
	if err := f.fetchErr[code]; err != nil {
		return nil, err
	}
	if resp := f.playlists[code]; resp != nil {
		return resp, nil
	}
	return &playerapi.PlaylistResponse{Success: true}, nil
}

func (f *fakeAPI) Heartbeat(context.Context, string, playerapi.HeartbeatRequest) error { return nil }

func (f *fakeAPI) ReportPlaylistChange(context.Context, string, playerapi.PlaylistChangeRequest) error {
	return nil
}

func (f *fakeAPI) ReportError(context.Context, string, playerapi.ErrorReport) error { return nil }

func (f *fakeAPI) Probe(context.Context) (time.Duration, error) { return 50 * time.Millisecond, nil }

// ackRenderer confirms images at once and leaves videos to the item timer.
type ackRenderer struct {
	mu   sync.Mutex
	fail map[string]error
}

func (r *ackRenderer) Show(_ context.Context, item playlist.Item, token playback.Token) error {
	r.mu.Lock()
	err := r.fail[item.ID]
	r.mu.Unlock()
	if err != nil {
		return err
	}
	if item.Type == playlist.MediaImage {
		token.Loaded()
	}
	return nil
}

func (r *ackRenderer) Stop() {}

type okProbe struct{}

func (okProbe) Probe(context.Context, string) (preload.Metadata, error) {
	return preload.Metadata{Width: 1920, Height: 1080, Bytes: 2048}, nil
}

type harness struct {
	p     *Player
	clk   *clock.Fake
	store *store.Persistence
	api   *fakeAPI
	r     *ackRenderer
}

func newHarness(t *testing.T, plog *playlog.Log) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC))
	ps := store.NewPersistence(store.NewMemoryBackend(clk), clk)
	api := newFakeAPI()
	r := &ackRenderer{fail: make(map[string]error)}

	cfg := config.Defaults()
	cfg.Device.Code = testCode
	cfg.Retry.Attempts = 1

	p, err := New(Deps{
		Config:   cfg,
		Store:    ps,
		API:      api,
		Renderer: r,
		Images:   okProbe{},
		Videos:   okProbe{},
		PlayLog:  plog,
		Clock:    clk,
		Version:  "test",
	})
	require.NoError(t, err)
	require.NoError(t, p.Bootstrap(context.Background()))
	t.Cleanup(p.Close)
	return &harness{p: p, clk: clk, store: ps, api: api, r: r}
}

func scenarioResponse(updatedAt string) *playerapi.PlaylistResponse {
	return &playerapi.PlaylistResponse{
		Success:  true,
		Playlist: &playerapi.PlaylistMeta{ID: "pl-1", Name: "Lobby", UpdatedAt: playerapi.FlexString(updatedAt)},
		Content: []playerapi.ContentItem{
			{ID: "welcome", Media: playerapi.Media{Type: "image", URL: "https://cdn.example/1.png"}, Duration: 5, Order: 0},
			{ID: "promo", Media: playerapi.Media{Type: "video", URL: "https://cdn.example/2.mp4"}, Duration: 10, Order: 1},
			{ID: "menu", Media: playerapi.Media{Type: "image", URL: "https://cdn.example/3.png"}, Duration: 5, Order: 2},
		},
	}
}

func upstreamDown() error {
	return &playerapi.APIError{
		Sentinel:  playerapi.ErrUpstreamUnavailable,
		Operation: "fetch_playlist",
		Err:       errors.New("connection refused"),
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestPlayer_UnchangedResyncKeepsCursor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.api.set(testCode, scenarioResponse("v1"), nil)

	res, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, StatusPlaying, h.p.Status())
	assert.Equal(t, SourceServer, h.p.Snapshot().Source)

	h.clk.Advance(6 * time.Second)
	require.Equal(t, 1, h.p.engine.State().Index)

	res, err = h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, h.p.engine.State().Index, "unchanged playlist keeps the cursor")

	h.api.set(testCode, scenarioResponse("v2"), nil)
	res, err = h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 0, h.p.engine.State().Index, "changed playlist restarts at the first item")

	saved, _, err := h.store.LoadPlaylistSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", saved.UpdatedAt)
}

func TestPlayer_PreloadPrimesCache(t *testing.T) {
	h := newHarness(t, nil)
	h.api.set(testCode, scenarioResponse("v1"), nil)
	_, err := h.p.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.p.preloader.Index().Len() == 3 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.p.Snapshot().LoadTimesMs) == 3 }, time.Second, 5*time.Millisecond)
}

func TestPlayer_PlaybackConsultsCacheIndex(t *testing.T) {
	h := newHarness(t, nil)
	h.api.set(testCode, scenarioResponse("v1"), nil)
	_, err := h.p.syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.p.preloader.Index().Len() == 3 }, time.Second, 5*time.Millisecond)

	h.clk.Advance(6 * time.Second)
	require.Equal(t, 1, h.p.engine.State().Index)

	cs := h.p.Snapshot().Cache
	assert.GreaterOrEqual(t, cs.Hits, int64(1), "primed item shown from the index")
	assert.GreaterOrEqual(t, cs.Misses, int64(3), "first batch misses every URL")
	assert.Positive(t, cs.HitRate)
	assert.Equal(t, cs.HitRate, h.p.HeartbeatBody().PlayerInfo.Cache.HitRate)
}

func TestPlayer_UnassignedShowsWaiting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.api.set(testCode, scenarioResponse("v1"), nil)
	_, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, h.p.CurrentPlaylist())

	h.api.set(testCode, nil, &playerapi.APIError{Sentinel: playerapi.ErrNotAssigned, Operation: "fetch_playlist", Status: 404})
	res, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateUnassigned, res.State)

	assert.Equal(t, StatusWaiting, h.p.Status())
	assert.Nil(t, h.p.CurrentPlaylist())
	assert.Zero(t, h.p.Snapshot().ErrorCount, "404 is not an error")
	net := h.p.link.State()
	assert.True(t, net.Online)
	assert.Zero(t, net.RetryCount)

	_, _, err = h.store.LoadPlaylistSnapshot(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlayer_RetryCeilingWithoutCacheIsError(t *testing.T) {
	h := newHarness(t, nil)
	h.api.set(testCode, nil, upstreamDown())

	_, err := h.p.syncer.SyncOnce(context.Background())
	require.Error(t, err)

	assert.False(t, h.p.link.Online())
	assert.Equal(t, StatusError, h.p.Status())
	snap := h.p.Snapshot()
	assert.EqualValues(t, 1, snap.ErrorCount)
	assert.Contains(t, snap.LastSync.Error, "connection refused")
}

func TestPlayer_WaitingThenOutageIsError(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.api.set(testCode, nil, &playerapi.APIError{Sentinel: playerapi.ErrNotAssigned, Operation: "fetch_playlist", Status: 404})
	_, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusWaiting, h.p.Status())

	h.api.set(testCode, nil, upstreamDown())
	_, err = h.p.syncer.SyncOnce(ctx)
	require.Error(t, err)

	assert.False(t, h.p.link.Online())
	assert.Equal(t, StatusError, h.p.Status())
	assert.True(t, h.p.Status().Blocking())
}

func TestPlayer_OfflineFallsBackToSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	pl := scenarioResponse("v1").ToPlaylist()
	require.NoError(t, h.store.SavePlaylistSnapshot(ctx, pl))

	h.api.set(testCode, nil, upstreamDown())
	_, err := h.p.syncer.SyncOnce(ctx)
	require.Error(t, err)

	assert.Equal(t, StatusOffline, h.p.Status())
	assert.Equal(t, SourceSnapshot, h.p.Snapshot().Source)
	assert.Equal(t, "pl-1", h.p.CurrentPlaylist().ID)

	h.api.set(testCode, scenarioResponse("v1"), nil)
	res, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed, "server content matches the snapshot")
	assert.Equal(t, StatusPlaying, h.p.Status())
	assert.Equal(t, SourceServer, h.p.Snapshot().Source)
}

func TestPlayer_OfflineKeepsInstalledPlaylist(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.api.set(testCode, scenarioResponse("v1"), nil)
	_, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	h.clk.Advance(6 * time.Second)

	h.api.set(testCode, nil, upstreamDown())
	_, err = h.p.syncer.SyncOnce(ctx)
	require.Error(t, err)

	assert.Equal(t, StatusOffline, h.p.Status())
	assert.Equal(t, 1, h.p.engine.State().Index, "playback is not interrupted")
}

func TestPlayer_InvalidDeviceRepairsAfterGrace(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.api.set(testCode, nil, &playerapi.APIError{Sentinel: playerapi.ErrInvalidDevice, Operation: "fetch_playlist", Status: 400})

	res, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.StateInvalidDevice, res.State)
	assert.Equal(t, StatusPairing, h.p.Status())

	h.clk.Advance(9 * time.Second)
	assert.Equal(t, testCode, h.p.DeviceCode())

	h.clk.Advance(time.Second)
	code := h.p.DeviceCode()
	assert.NotEqual(t, testCode, code)
	assert.True(t, device.Valid(code))
	assert.NotEqual(t, StatusPairing, h.p.Status())

	persisted, err := h.store.LoadDeviceCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, persisted)
}

func TestPlayer_StaleResultDropped(t *testing.T) {
	h := newHarness(t, nil)
	pl := scenarioResponse("v1").ToPlaylist()
	h.p.handleSync(context.Background(), syncer.Result{
		State:    syncer.StateContent,
		Changed:  true,
		Playlist: pl,
		Code:     "ZZ99ZZ99",
	}, nil)
	assert.Nil(t, h.p.CurrentPlaylist())
}

func TestPlayer_ChangeDeviceRejectsMalformedCode(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.p.ChangeDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, device.ErrInvalidCode)
	assert.Equal(t, testCode, h.p.DeviceCode())
}

func TestPlayer_ChangeDeviceRestartsServices(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t, nil)
	h.api.set(testCode, scenarioResponse("v1"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.p.Services()[0].Run(ctx) }()

	require.Eventually(t, func() bool { return h.p.CurrentPlaylist() != nil }, time.Second, 5*time.Millisecond)

	code, err := h.p.ChangeDevice(context.Background(), "ZZ99ZZ99")
	require.NoError(t, err)
	assert.Equal(t, "ZZ99ZZ99", code)

	require.Eventually(t, func() bool { return h.api.fetchedFor("ZZ99ZZ99") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.p.Status() == StatusWaiting }, time.Second, 5*time.Millisecond)
	assert.Nil(t, h.p.CurrentPlaylist())
	assert.Zero(t, h.p.preloader.Index().Len())
	assert.Empty(t, h.p.engine.ActiveTimers())

	cancel()
	require.NoError(t, <-done)
	h.p.Close()
}

func TestPlayer_PlaybackErrorsAreCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.r.fail["welcome"] = errors.New("decoder missing")
	h.api.set(testCode, scenarioResponse("v1"), nil)

	_, err := h.p.syncer.SyncOnce(context.Background())
	require.NoError(t, err)

	snap := h.p.Snapshot()
	assert.EqualValues(t, 1, snap.ErrorCount)
	assert.Contains(t, snap.LastError, "welcome")
	assert.EqualValues(t, 1, snap.Stats.Failed)
}

func TestPlayer_HeartbeatBody(t *testing.T) {
	plog, err := playlog.Open(filepath.Join(t.TempDir(), "plays.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = plog.Close() })

	h := newHarness(t, plog)
	h.api.set(testCode, scenarioResponse("v1"), nil)
	_, err = h.p.syncer.SyncOnce(context.Background())
	require.NoError(t, err)
	h.clk.Advance(6 * time.Second)

	body := h.p.HeartbeatBody()
	assert.Equal(t, string(StatusPlaying), body.Status)
	info := body.PlayerInfo
	assert.Equal(t, 1, info.CurrentIndex)
	assert.True(t, info.IsPlaying)
	assert.True(t, info.IsOnline)
	assert.Equal(t, "pl-1", info.PlaylistID)
	assert.Equal(t, "Lobby", info.PlaylistName)
	assert.EqualValues(t, 1, info.Stats.Completed)
	assert.Equal(t, "test", info.Version)
	assert.InDelta(t, 6.0, info.Uptime, 0.001)
	require.NotNil(t, info.Today)
	assert.EqualValues(t, 1, info.Today.Completed)
}

func TestPlayer_Checkers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	mgr := health.NewManager("test")
	for _, c := range h.p.Checkers() {
		mgr.RegisterChecker(c)
	}

	ready := mgr.Ready(ctx)
	assert.Equal(t, health.StatusUnhealthy, ready.Checks["last_sync"].Status, "no sync yet")

	h.api.set(testCode, nil, &playerapi.APIError{Sentinel: playerapi.ErrNotAssigned, Operation: "fetch_playlist", Status: 404})
	_, err := h.p.syncer.SyncOnce(ctx)
	require.NoError(t, err)
	ready = mgr.Ready(ctx)
	assert.True(t, ready.Ready)
	assert.Equal(t, health.StatusHealthy, ready.Checks["playback"].Status)
	assert.Equal(t, health.StatusHealthy, ready.Checks["last_sync"].Status)

	h.api.set(testCode, nil, upstreamDown())
	_, _ = h.p.syncer.SyncOnce(ctx)
	ready = mgr.Ready(ctx)
	assert.False(t, ready.Ready)
	assert.Equal(t, health.StatusUnhealthy, ready.Checks["playback"].Status)
	assert.Equal(t, health.StatusDegraded, ready.Checks["backend"].Status)
	assert.Equal(t, health.StatusDegraded, ready.Checks["last_sync"].Status)
}
