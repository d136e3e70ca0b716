// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store is the player's local persistence: a small key/value
// Backend with several implementations and the typed Persistence adapter
// on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	xglog "github.com/ManuGH/signplay/internal/log"
)

var (
	// ErrNotFound is returned when a key has no value.
	ErrNotFound = errors.New("store: not found")
	// ErrExpired is returned when a value is older than the retention TTL.
	ErrExpired = errors.New("store: expired")
)

// Backend stores opaque values. Put replaces the whole value; a ttl of zero
// keeps it forever. Implementations must never expose a partially written value.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Pinger is implemented by backends with a reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Open returns the backend selected by cfg. File and badger data live under dataDir.
func Open(cfg config.StoreConfig, dataDir string) (Backend, error) {
	logger := xglog.WithComponent("store")
	switch cfg.Backend {
	case "", "file":
		b, err := NewFileBackend(filepath.Join(dataDir, "state"))
		if err != nil {
			return nil, err
		}
		logger.Info().Str("event", "store.opened").Str("backend", "file").Str(xglog.FieldPath, b.dir).Msg("local store ready")
		return b, nil
	case "badger":
		dir := filepath.Join(dataDir, "badger")
		b, err := OpenBadgerBackend(dir)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("event", "store.opened").Str("backend", "badger").Str(xglog.FieldPath, dir).Msg("local store ready")
		return b, nil
	case "redis":
		b, err := NewRedisBackend(RedisConfig{Addr: cfg.RedisAddr, DB: cfg.RedisDB}, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return NewMemoryBackend(nil), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
