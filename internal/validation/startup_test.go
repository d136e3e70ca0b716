// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Preload.FFprobeBin = ""
	return cfg
}

func TestStartupChecks_Pass(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/api/health" {
			probes.Add(1)
		}
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.Server.BaseURL = srv.URL + "/api/"
	require.NoError(t, PerformStartupChecks(context.Background(), cfg))
	assert.Equal(t, int32(1), probes.Load())

	entries, err := os.ReadDir(cfg.DataDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe is removed")
}

func TestStartupChecks_UnreachableBackendIsNotFatal(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Server.BaseURL = "http://127.0.0.1:1"
	assert.NoError(t, PerformStartupChecks(context.Background(), cfg))
}

func TestStartupChecks_DataDir(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DataDir = filepath.Join(cfg.DataDir, "missing")
	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	cfg = baseConfig(t)
	file := filepath.Join(cfg.DataDir, "state.json")
	require.NoError(t, os.WriteFile(file, []byte("{}"), 0o600))
	cfg.DataDir = file
	err = PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestStartupChecks_ExecRendererNeedsBinaries(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Render = config.RenderConfig{
		Backend:  "exec",
		ImageCmd: "signplay-no-such-viewer {url}",
		VideoCmd: "",
	}
	err := PerformStartupChecks(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "render.image_cmd")
	assert.Contains(t, err.Error(), "render.video_cmd is empty")
}

func TestStartupChecks_MissingFFprobeIsNotFatal(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Preload.FFprobeBin = "signplay-no-such-ffprobe"
	assert.NoError(t, PerformStartupChecks(context.Background(), cfg))
}
