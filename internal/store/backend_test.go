// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend runs the contract every backend must satisfy.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "media_cache")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Put(ctx, "media_cache", []byte(`{"v":1}`), 0))
	got, err := b.Get(ctx, "media_cache")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	require.NoError(t, b.Put(ctx, "media_cache", []byte(`{"v":2}`), time.Hour))
	got, err = b.Get(ctx, "media_cache")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got), "put replaces the whole value")

	require.NoError(t, b.Delete(ctx, "media_cache"))
	_, err = b.Get(ctx, "media_cache")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Delete(ctx, "media_cache"), "deleting a missing key is not an error")
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	require.NoError(t, err)
	exerciseBackend(t, b)

	require.NoError(t, b.Put(context.Background(), "device_code", []byte("AB12CD34"), 0))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no pending temp files left behind")
	assert.Equal(t, "device_code.json", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, "device_code.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackend_RejectsUnsafeKeys(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"../etc/passwd", "a/b", "", "UPPER"} {
		assert.Error(t, b.Put(context.Background(), key, []byte("x"), 0), key)
	}
}

func TestBadgerBackend(t *testing.T) {
	b, err := OpenInMemoryBadger()
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	exerciseBackend(t, b)
}

func TestBadgerBackend_OnDisk(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenBadgerBackend(dir)
	require.NoError(t, err)
	require.NoError(t, b.Put(context.Background(), "device_code", []byte("AB12CD34"), 0))
	require.NoError(t, b.Close())

	b, err = OpenBadgerBackend(dir)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	got, err := b.Get(context.Background(), "device_code")
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", string(got))
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	exerciseBackend(t, b)

	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "playlist_snapshot", []byte("{}"), time.Minute))
	assert.True(t, mr.Exists("signplay:playlist_snapshot"))
	mr.FastForward(2 * time.Minute)
	_, err = b.Get(ctx, "playlist_snapshot")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Ping(ctx))
}

func TestRedisBackend_ConnectFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisBackend(RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMemoryBackend_TTL(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	b := NewMemoryBackend(clk)
	exerciseBackend(t, b)

	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "media_cache", []byte("x"), time.Hour))
	clk.Advance(59 * time.Minute)
	_, err := b.Get(ctx, "media_cache")
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = b.Get(ctx, "media_cache")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"file", "badger", "memory"} {
		t.Run(backend, func(t *testing.T) {
			b, err := Open(config.StoreConfig{Backend: backend}, filepath.Join(dir, backend))
			require.NoError(t, err)
			require.NoError(t, b.Close())
		})
	}
	_, err := Open(config.StoreConfig{Backend: "etcd"}, dir)
	assert.Error(t, err)
}
