// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !windows

package daemon

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	applied []config.AppConfig
	wakes   int
}

func (f *fakeController) ApplyConfig(cfg config.AppConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cfg)
}

func (f *fakeController) Wake() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
}

func (f *fakeController) lastApplied() (config.AppConfig, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applied) == 0 {
		return config.AppConfig{}, 0
	}
	return f.applied[len(f.applied)-1], len(f.applied)
}

func (f *fakeController) wakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes
}

type blockingManager struct{ started chan struct{} }

func (m *blockingManager) Start(ctx context.Context) error {
	close(m.started)
	<-ctx.Done()
	return nil
}
func (m *blockingManager) Shutdown(context.Context) error            { return nil }
func (m *blockingManager) RegisterShutdownHook(string, ShutdownHook) {}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestApp_RequiresManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	assert.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}

func TestApp_ReloadSignalAppliesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signplay.yaml")
	writeConfig(t, path, "data_dir: "+dir+"\nsync:\n  interval: 30s\n")

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(cfg, loader)

	// Keep the default disposition (terminate) away while the app subscribes.
	guard := make(chan os.Signal, 16)
	signal.Notify(guard, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(guard)

	ctrl := &fakeController{}
	mgr := &blockingManager{started: make(chan struct{})}
	app := NewApp(log.WithComponent("test"), mgr, holder, ctrl)
	app.reloadSignal = syscall.SIGUSR2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	<-mgr.started

	writeConfig(t, path, "data_dir: "+dir+"\nsync:\n  interval: 45s\n")
	require.Eventually(t, func() bool {
		_ = syscall.Kill(os.Getpid(), syscall.SIGUSR2)
		last, _ := ctrl.lastApplied()
		return last.Sync.Interval == 45*time.Second
	}, 5*time.Second, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = syscall.Kill(os.Getpid(), syscall.SIGUSR1)
		return ctrl.wakeCount() > 0
	}, 2*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_InvalidReloadKeepsConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signplay.yaml")
	writeConfig(t, path, "data_dir: "+dir+"\n")

	loader := config.NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(cfg, loader)

	writeConfig(t, path, "data_dir: "+dir+"\nno_such_section: true\n")
	assert.Error(t, holder.Reload(context.Background()))
	assert.Equal(t, cfg.Sync.Interval, holder.Get().Sync.Interval)
}
