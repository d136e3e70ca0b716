// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package player

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/ManuGH/signplay/internal/cache"
	"github.com/ManuGH/signplay/internal/health"
	"github.com/ManuGH/signplay/internal/playback"
	"github.com/ManuGH/signplay/internal/playerapi"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/ManuGH/signplay/internal/resilience"
	"github.com/ManuGH/signplay/internal/store"
)

// Status is the user-visible player state.
type Status string

const (
	StatusLoading Status = "loading"
	StatusPlaying Status = "playing"
	// StatusOffline means cached content is playing without a backend.
	StatusOffline Status = "offline"
	// StatusWaiting means the device is paired but has nothing assigned.
	StatusWaiting Status = "waiting"
	StatusPairing Status = "pairing"
	// StatusError means there is nothing to show at all.
	StatusError Status = "error"
)

// Blocking reports whether the status hides content behind a full-screen
// notice.
func (s Status) Blocking() bool {
	return s == StatusPairing || s == StatusError
}

// Status derives the current state.
func (p *Player) Status() Status {
	p.mu.Lock()
	pairing, waiting := p.pairing, p.waiting
	p.mu.Unlock()
	playing := p.engine.State().Playing
	online := p.link.Online()

	switch {
	case pairing:
		return StatusPairing
	case playing && !online:
		return StatusOffline
	case playing:
		return StatusPlaying
	case !online:
		return StatusError
	case waiting:
		return StatusWaiting
	}
	return StatusLoading
}

// MemoryInfo is a subset of the Go runtime memory statistics.
type MemoryInfo struct {
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapInuse uint64 `json:"heapInuse"`
	Sys       uint64 `json:"sys"`
	NumGC     uint32 `json:"numGC"`
}

// SyncInfo describes the last completed sync.
type SyncInfo struct {
	State  string    `json:"state,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Snapshot is the monitoring view of the player.
type Snapshot struct {
	Timestamp     time.Time               `json:"timestamp"`
	UptimeSeconds float64                 `json:"uptime"`
	Version       string                  `json:"version"`
	DeviceCode    string                  `json:"deviceCode"`
	Status        Status                  `json:"status"`
	Online        bool                    `json:"online"`
	Playing       bool                    `json:"playing"`
	Source        string                  `json:"source,omitempty"`
	PlaylistID    string                  `json:"playlistId,omitempty"`
	PlaylistName  string                  `json:"playlistName,omitempty"`
	Position      int                     `json:"position"`
	ItemCount     int                     `json:"itemCount"`
	CurrentItem   *playlist.Item          `json:"currentItem,omitempty"`
	Progress      float64                 `json:"progress"`
	LoadTimesMs   []int64                 `json:"loadTimesMs"`
	Memory        MemoryInfo              `json:"memory"`
	Cache         cache.Stats             `json:"cache"`
	ErrorCount    int64                   `json:"errorCount"`
	LastError     string                  `json:"lastError,omitempty"`
	LastErrorAt   time.Time               `json:"lastErrorAt,omitempty"`
	Network       resilience.NetworkState `json:"network"`
	Intervals     IntervalInfo            `json:"intervals"`
	LastSync      SyncInfo                `json:"lastSync"`
	Stats         playback.Stats          `json:"stats"`
}

// IntervalInfo holds the tuned loop cadence in seconds.
type IntervalInfo struct {
	Heartbeat float64 `json:"heartbeat"`
	Sync      float64 `json:"sync"`
}

// Snapshot collects the monitoring view.
func (p *Player) Snapshot() Snapshot {
	now := p.clk.Now()
	st := p.engine.State()
	iv := p.link.Intervals()
	res, at := p.syncer.Last()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Snapshot{
		Timestamp:     now,
		UptimeSeconds: now.Sub(p.started).Seconds(),
		Version:       p.version,
		DeviceCode:    p.device.Current(),
		Status:        p.Status(),
		Online:        p.link.Online(),
		Playing:       st.Playing,
		PlaylistID:    st.PlaylistID,
		PlaylistName:  st.PlaylistName,
		Position:      st.Index,
		ItemCount:     p.engine.Playlist().Len(),
		CurrentItem:   st.Item,
		Progress:      st.Progress,
		Memory: MemoryInfo{
			HeapAlloc: ms.HeapAlloc,
			HeapInuse: ms.HeapInuse,
			Sys:       ms.Sys,
			NumGC:     ms.NumGC,
		},
		Cache:   p.preloader.Index().Stats(),
		Network: p.link.State(),
		Intervals: IntervalInfo{
			Heartbeat: iv.Heartbeat.Seconds(),
			Sync:      iv.Sync.Seconds(),
		},
		LastSync: SyncInfo{State: string(res.State), Reason: res.Reason, At: at},
		Stats:    st.Stats,
	}

	p.mu.Lock()
	s.Source = p.source
	s.ErrorCount = p.errCount
	s.LastError = p.lastErr
	s.LastErrorAt = p.lastErrAt
	if p.lastSyncErr != nil {
		s.LastSync.Error = p.lastSyncErr.Error()
	}
	s.LoadTimesMs = make([]int64, len(p.loadTimes))
	for i, d := range p.loadTimes {
		s.LoadTimesMs[i] = d.Milliseconds()
	}
	p.mu.Unlock()
	return s
}

// HeartbeatBody builds the heartbeat payload from the live state.
func (p *Player) HeartbeatBody() playerapi.HeartbeatRequest {
	st := p.engine.State()
	net := p.link.State()
	cs := p.preloader.Index().Stats()

	p.mu.Lock()
	errCount := p.errCount
	p.mu.Unlock()

	info := playerapi.PlayerInfo{
		CurrentIndex: st.Index,
		IsPlaying:    st.Playing,
		IsOnline:     net.Online,
		PlaylistID:   st.PlaylistID,
		PlaylistName: st.PlaylistName,
		Stats: playerapi.PlayStats{
			Completed: st.Stats.Completed,
			Failed:    st.Stats.Failed,
			Errors:    errCount,
		},
		Network: playerapi.NetworkInfo{
			Quality:        string(net.Quality),
			ConnectionType: net.ConnectionType,
			DownlinkMbps:   net.DownlinkMbps,
			RTTMillis:      net.RTT.Milliseconds(),
			RetryCount:     net.RetryCount,
		},
		Cache:   playerapi.CacheInfo{Size: cs.CurrentSize, HitRate: cs.HitRate},
		Uptime:  p.clk.Now().Sub(p.started).Seconds(),
		Version: p.version,
	}

	if p.playlog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		now := p.clk.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		if c, err := p.playlog.Counts(ctx, midnight); err == nil {
			info.Today = &playerapi.PlayStats{Completed: c.Completed, Failed: c.Failed}
		}
	}

	return playerapi.HeartbeatRequest{Status: string(p.Status()), PlayerInfo: info}
}

// Checkers returns readiness checks for the health manager.
func (p *Player) Checkers() []health.Checker {
	checks := []health.Checker{
		health.NewFuncChecker("store", health.StatusDegraded, func(ctx context.Context) error {
			if pinger, ok := p.store.Backend().(store.Pinger); ok {
				return pinger.Ping(ctx)
			}
			return nil
		}),
		health.NewFuncChecker("backend", health.StatusDegraded, func(context.Context) error {
			if !p.link.Online() {
				return errors.New("backend unreachable, retry ceiling reached")
			}
			return nil
		}),
		health.NewLastSyncChecker(3*p.link.Intervals().Sync, func() (time.Time, string) {
			_, at := p.syncer.Last()
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.lastSyncErr != nil {
				return at, p.lastSyncErr.Error()
			}
			return at, ""
		}).WithClock(p.clk.Now),
		health.NewFuncChecker("playback", health.StatusUnhealthy, func(context.Context) error {
			if s := p.Status(); s.Blocking() {
				return fmt.Errorf("player is %s", s)
			}
			return nil
		}),
	}
	if p.playlog != nil {
		checks = append(checks, health.NewFuncChecker("playlog", health.StatusDegraded, p.playlog.Ping))
	}
	return checks
}
