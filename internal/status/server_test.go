// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/device"
	"github.com/ManuGH/signplay/internal/health"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/player"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/playlog"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakePlayer struct {
	mu      sync.Mutex
	pl      *playlist.Playlist
	code    string
	wakes   int
	changes []string
}

func (f *fakePlayer) Snapshot() player.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return player.Snapshot{DeviceCode: f.code, Status: player.StatusPlaying, Playing: true}
}

func (f *fakePlayer) CurrentPlaylist() *playlist.Playlist {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pl
}

func (f *fakePlayer) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
}

func (f *fakePlayer) setPlaylist(pl *playlist.Playlist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pl = pl
}

func (f *fakePlayer) wakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes
}

func (f *fakePlayer) changed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.changes...)
}

func (f *fakePlayer) ChangeDevice(_ context.Context, code string) (string, error) {
	if code != "" && !device.Valid(code) {
		return "", fmt.Errorf("%w: %q", device.ErrInvalidCode, code)
	}
	if code == "" {
		code = "NEW00001"
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = code
	f.changes = append(f.changes, code)
	return code, nil
}

func newTestServer(t *testing.T, mutate func(*Config)) (*httptest.Server, *fakePlayer) {
	t.Helper()
	fp := &fakePlayer{code: "AB12CD34"}
	cfg := Config{Player: fp, Health: health.NewManager("test")}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, fp
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, b
}

func TestNew_RequiresPlayerAndHealth(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))

	var snap player.Snapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, "AB12CD34", snap.DeviceCode)
	assert.Equal(t, player.StatusPlaying, snap.Status)
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get(HeaderRequestID))
}

func TestHealthAndReady(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv, _ := newTestServer(t, func(c *Config) {
		c.Health.RegisterChecker(health.NewFuncChecker("playback", health.StatusUnhealthy, func(context.Context) error {
			if failing.Load() {
				return errors.New("nothing to show")
			}
			return nil
		}))
	})

	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "liveness ignores component state")

	resp, _ = do(t, http.MethodGet, srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	failing.Store(false)
	resp, _ = do(t, http.MethodGet, srv.URL+"/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	do(t, http.MethodGet, srv.URL+"/status", "")
	resp, body := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "signplay_http_request_duration_seconds")
}

func TestPlaylistM3U(t *testing.T) {
	srv, fp := newTestServer(t, nil)

	resp, _ := do(t, http.MethodGet, srv.URL+"/playlist.m3u", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	fp.setPlaylist(playlist.New("pl-1", "Lobby", "v1", []playlist.Item{
		{ID: "a", Type: playlist.MediaImage, URL: "https://cdn.example/a.png", Name: "Welcome", Duration: 5},
	}))
	resp, body := do(t, http.MethodGet, srv.URL+"/playlist.m3u", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(string(body), "#EXTM3U"))
	assert.Contains(t, string(body), "https://cdn.example/a.png")
}

func TestSyncWakes(t *testing.T) {
	srv, fp := newTestServer(t, nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/sync", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, 1, fp.wakeCount())

	resp, _ = do(t, http.MethodGet, srv.URL+"/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestDeviceReset(t *testing.T) {
	srv, fp := newTestServer(t, nil)

	resp, body := do(t, http.MethodPost, srv.URL+"/device/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"deviceCode":"NEW00001"}`, string(body))

	resp, _ = do(t, http.MethodPost, srv.URL+"/device/reset", `{"code":"zz99zz99"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"NEW00001", "ZZ99ZZ99"}, fp.changed())

	resp, _ = do(t, http.MethodPost, srv.URL+"/device/reset", `{"code":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/device/reset", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPlays(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, _ := do(t, http.MethodGet, srv.URL+"/plays", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	plog, err := playlog.Open(filepath.Join(t.TempDir(), "plays.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = plog.Close() })
	start := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, plog.Record(context.Background(), "AB12CD34", playback.PlayRecord{
			PlaylistID: "pl-1",
			Item:       playlist.Item{ID: fmt.Sprintf("item-%d", i), Type: playlist.MediaImage, URL: "https://cdn.example/x.png", Duration: 5},
			Started:    start.Add(time.Duration(i) * 5 * time.Second),
			Ended:      start.Add(time.Duration(i+1) * 5 * time.Second),
			Completed:  true,
		}))
	}

	srv, _ = newTestServer(t, func(c *Config) { c.PlayLog = plog })
	resp, body := do(t, http.MethodGet, srv.URL+"/plays?limit=2", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []playlog.Entry
	require.NoError(t, json.Unmarshal(body, &entries))
	assert.Len(t, entries, 2)

	resp, _ = do(t, http.MethodGet, srv.URL+"/plays?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConfigReload(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, _ := do(t, http.MethodPost, srv.URL+"/config/reload", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var calls atomic.Int32
	srv, _ = newTestServer(t, func(c *Config) {
		c.Reload = func(context.Context) error {
			if calls.Add(1) > 1 {
				return errors.New("yaml: line 3: bad indentation")
			}
			return nil
		}
	})
	resp, _ = do(t, http.MethodPost, srv.URL+"/config/reload", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := do(t, http.MethodPost, srv.URL+"/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "bad indentation")
}

func TestRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.RateLimit = 2 })
	for range 2 {
		resp, _ := do(t, http.MethodGet, srv.URL+"/status", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := do(t, http.MethodGet, srv.URL+"/status", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := New(Config{Player: &fakePlayer{}, Health: health.NewManager("test")})
	require.NoError(t, err)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestRun_ListenError(t *testing.T) {
	s, err := New(Config{Listen: "256.0.0.1:bad", Player: &fakePlayer{}, Health: health.NewManager("test")})
	require.NoError(t, err)
	assert.Error(t, s.Run(context.Background()))
}
