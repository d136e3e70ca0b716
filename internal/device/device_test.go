// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"testing"

	"github.com/ManuGH/signplay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := Generate()
		require.NoError(t, err)
		require.True(t, Valid(code), code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 190, "codes should practically never repeat")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("AB12CD34"))
	assert.False(t, Valid("ab12cd34"))
	assert.False(t, Valid("AB12CD3"))
	assert.False(t, Valid("AB12CD345"))
	assert.False(t, Valid("AB12 D34"))
}

func TestManager_LoadOrCreatePersists(t *testing.T) {
	ctx := context.Background()
	p := store.NewPersistence(store.NewMemoryBackend(nil), nil)

	m := NewManager(p, "")
	code, err := m.LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, m.Current())

	again, err := NewManager(p, "").LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, again, "second start reuses the persisted code")
}

func TestManager_OverrideWins(t *testing.T) {
	ctx := context.Background()
	p := store.NewPersistence(store.NewMemoryBackend(nil), nil)
	require.NoError(t, p.SaveDeviceCode(ctx, "ZZZZ9999"))

	code, err := NewManager(p, "AB12CD34").LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD34", code)

	_, err = NewManager(p, "bad").LoadOrCreate(ctx)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestManager_MalformedPersistedCodeIsReplaced(t *testing.T) {
	ctx := context.Background()
	p := store.NewPersistence(store.NewMemoryBackend(nil), nil)
	require.NoError(t, p.SaveDeviceCode(ctx, "nope"))

	code, err := NewManager(p, "").LoadOrCreate(ctx)
	require.NoError(t, err)
	assert.True(t, Valid(code))
	persisted, err := p.LoadDeviceCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, persisted)
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	p := store.NewPersistence(store.NewMemoryBackend(nil), nil)
	m := NewManager(p, "AB12CD34")
	_, err := m.LoadOrCreate(ctx)
	require.NoError(t, err)

	code, err := m.Reset(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "AB12CD34", code)
	assert.Equal(t, code, m.Current())

	persisted, err := p.LoadDeviceCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, persisted)

	assert.ErrorIs(t, m.Set(ctx, "lower123"), ErrInvalidCode)
}
