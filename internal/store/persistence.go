// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/signplay/internal/cache"
	"github.com/ManuGH/signplay/internal/clock"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/metrics"
	"github.com/ManuGH/signplay/internal/playlist"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Persisted keys.
const (
	KeyDeviceCode       = "device_code"
	KeyMediaCache       = "media_cache"
	KeyPlaylistSnapshot = "playlist_snapshot"
)

// DefaultTTL is how long cached media and playlist snapshots stay valid.
const DefaultTTL = 24 * time.Hour

type mediaCacheRecord struct {
	Timestamp int64        `json:"timestamp"` // unix millis
	Entries   []cache.Pair `json:"entries"`
}

type snapshotRecord struct {
	Timestamp int64              `json:"timestamp"` // unix millis
	Playlist  *playlist.Playlist `json:"playlist"`
}

// Persistence is the typed view of the local store. Values are serialized
// fully in memory before being handed to the backend as one replacement.
// Unreadable values are deleted rather than surfaced.
type Persistence struct {
	backend Backend
	clk     clock.Clock
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewPersistence wraps backend. A nil clock means real time.
func NewPersistence(backend Backend, clk clock.Clock) *Persistence {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Persistence{
		backend: backend,
		clk:     clk,
		ttl:     DefaultTTL,
		logger:  xglog.WithComponent("store"),
	}
}

// Backend exposes the underlying backend for health checks.
func (p *Persistence) Backend() Backend { return p.backend }

// LoadDeviceCode returns the persisted device code. It never expires.
func (p *Persistence) LoadDeviceCode(ctx context.Context) (string, error) {
	raw, err := p.backend.Get(ctx, KeyDeviceCode)
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(string(raw))
	if code == "" {
		return "", ErrNotFound
	}
	return code, nil
}

func (p *Persistence) SaveDeviceCode(ctx context.Context, code string) error {
	if err := p.backend.Put(ctx, KeyDeviceCode, []byte(code), 0); err != nil {
		metrics.RecordStoreError(KeyDeviceCode, "put")
		return fmt.Errorf("save device code: %w", err)
	}
	return nil
}

// SaveMediaCache persists the full media index.
func (p *Persistence) SaveMediaCache(ctx context.Context, entries []cache.Pair) error {
	if entries == nil {
		entries = []cache.Pair{}
	}
	return p.put(ctx, KeyMediaCache, mediaCacheRecord{
		Timestamp: p.clk.Now().UnixMilli(),
		Entries:   entries,
	})
}

// LoadMediaCache returns the persisted index, or ErrExpired when the whole
// snapshot is older than the TTL (the entries are dropped en masse).
func (p *Persistence) LoadMediaCache(ctx context.Context) ([]cache.Pair, error) {
	var rec mediaCacheRecord
	if err := p.get(ctx, KeyMediaCache, &rec); err != nil {
		return nil, err
	}
	if err := p.checkAge(ctx, KeyMediaCache, rec.Timestamp); err != nil {
		return nil, err
	}
	return rec.Entries, nil
}

// SavePlaylistSnapshot persists the installed playlist for cold-start offline playback.
func (p *Persistence) SavePlaylistSnapshot(ctx context.Context, pl *playlist.Playlist) error {
	if pl == nil {
		return errors.New("save playlist snapshot: nil playlist")
	}
	return p.put(ctx, KeyPlaylistSnapshot, snapshotRecord{
		Timestamp: p.clk.Now().UnixMilli(),
		Playlist:  pl,
	})
}

// LoadPlaylistSnapshot returns the last persisted playlist and when it was saved.
func (p *Persistence) LoadPlaylistSnapshot(ctx context.Context) (*playlist.Playlist, time.Time, error) {
	var rec snapshotRecord
	if err := p.get(ctx, KeyPlaylistSnapshot, &rec); err != nil {
		return nil, time.Time{}, err
	}
	if err := p.checkAge(ctx, KeyPlaylistSnapshot, rec.Timestamp); err != nil {
		return nil, time.Time{}, err
	}
	if rec.Playlist == nil || rec.Playlist.Len() == 0 {
		return nil, time.Time{}, ErrNotFound
	}
	return rec.Playlist, time.UnixMilli(rec.Timestamp), nil
}

// ClearContent drops the media index and the playlist snapshot. The device
// code is kept.
func (p *Persistence) ClearContent(ctx context.Context) error {
	return errors.Join(
		p.backend.Delete(ctx, KeyMediaCache),
		p.backend.Delete(ctx, KeyPlaylistSnapshot),
	)
}

// ClearAll also forgets the device code.
func (p *Persistence) ClearAll(ctx context.Context) error {
	return errors.Join(p.ClearContent(ctx), p.backend.Delete(ctx, KeyDeviceCode))
}

func (p *Persistence) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		metrics.RecordStoreError(key, "encode")
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := p.backend.Put(ctx, key, data, p.ttl); err != nil {
		metrics.RecordStoreError(key, "put")
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (p *Persistence) get(ctx context.Context, key string, v any) error {
	raw, err := p.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.RecordStoreError(key, "get")
		}
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		metrics.RecordStoreError(key, "decode")
		p.logger.Warn().
			Err(err).
			Str("event", "store.corrupt").
			Str("key", key).
			Msg("discarding unreadable persisted value")
		if delErr := p.backend.Delete(ctx, key); delErr != nil {
			p.logger.Warn().Err(delErr).Str("key", key).Msg("failed to clear corrupt value")
		}
		return fmt.Errorf("%w: %s unreadable", ErrNotFound, key)
	}
	return nil
}

func (p *Persistence) checkAge(ctx context.Context, key string, tsMillis int64) error {
	age := p.clk.Now().Sub(time.UnixMilli(tsMillis))
	if age <= p.ttl {
		return nil
	}
	p.logger.Info().
		Str("event", "store.expired").
		Str("key", key).
		Dur("age", age).
		Msg("persisted value older than retention, discarding")
	if err := p.backend.Delete(ctx, key); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired value")
	}
	return ErrExpired
}
