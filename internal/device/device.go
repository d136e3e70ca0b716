// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device owns the player's identity: the 8 character code the
// backend uses to look up the screen.
package device

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"

	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/rs/zerolog"
)

const (
	CodeLength = 8
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrInvalidCode is returned for codes that are not 8 uppercase alphanumerics.
var ErrInvalidCode = errors.New("invalid device code")

// Generate returns a fresh random code.
func Generate() (string, error) {
	buf := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate device code: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}
	return string(buf), nil
}

// Valid reports whether code is well formed.
func Valid(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// Manager loads, creates and replaces the device code.
type Manager struct {
	store    *store.Persistence
	override string
	logger   zerolog.Logger

	mu   sync.RWMutex
	code string
}

// NewManager creates a manager. A non-empty override (from config) wins over
// the persisted code.
func NewManager(p *store.Persistence, override string) *Manager {
	return &Manager{
		store:    p,
		override: override,
		logger:   xglog.WithComponent("device"),
	}
}

// LoadOrCreate resolves the identity: config override, then persisted code,
// then a newly generated one which is persisted. Storage failures are logged;
// the player keeps running with an in-memory code.
func (m *Manager) LoadOrCreate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.override != "" {
		if !Valid(m.override) {
			return "", fmt.Errorf("%w: %q", ErrInvalidCode, m.override)
		}
		m.code = m.override
		return m.code, nil
	}

	code, err := m.store.LoadDeviceCode(ctx)
	switch {
	case err == nil && Valid(code):
		m.code = code
		m.logger.Info().Str("event", "device.loaded").Str(xglog.FieldDeviceCode, code).Msg("device code loaded")
		return code, nil
	case err == nil:
		m.logger.Warn().Str("event", "device.invalid_persisted").Msg("persisted device code malformed, generating a new one")
	case !errors.Is(err, store.ErrNotFound):
		m.logger.Warn().Err(err).Str("event", "device.load_failed").Msg("could not read device code")
	}

	code, err = Generate()
	if err != nil {
		return "", err
	}
	m.code = code
	m.persist(ctx, code)
	m.logger.Info().Str("event", "device.generated").Str(xglog.FieldDeviceCode, code).Msg("generated new device code")
	return code, nil
}

// Current returns the active code, empty before LoadOrCreate.
func (m *Manager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

// Reset replaces the identity with a newly generated code. A config override
// is dropped for the rest of the process lifetime.
func (m *Manager) Reset(ctx context.Context) (string, error) {
	code, err := Generate()
	if err != nil {
		return "", err
	}
	return code, m.Set(ctx, code)
}

// Set installs a specific code, e.g. one entered by an operator.
func (m *Manager) Set(ctx context.Context, code string) error {
	if !Valid(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	m.mu.Lock()
	old := m.code
	m.code = code
	m.override = ""
	m.mu.Unlock()

	m.persist(ctx, code)
	m.logger.Info().
		Str("event", "device.changed").
		Str("old_code", old).
		Str(xglog.FieldDeviceCode, code).
		Msg("device code changed")
	return nil
}

func (m *Manager) persist(ctx context.Context, code string) {
	if err := m.store.SaveDeviceCode(ctx, code); err != nil {
		m.logger.Warn().Err(err).Str("event", "device.persist_failed").Msg("device code not persisted")
	}
}
