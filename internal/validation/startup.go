// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package validation holds the pre-flight checks run before the player starts.
package validation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/log"
	"github.com/rs/zerolog"
)

const backendCheckTimeout = 5 * time.Second

// PerformStartupChecks validates the environment before the player starts.
// Only a data directory that cannot be written and missing viewer binaries
// are fatal; an unreachable backend or a missing ffprobe only degrade the
// player, which must still start offline from its snapshot.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks").Msg("running pre-flight startup checks")

	// 1. Data Directory Permissions
	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	// 2. Renderer binaries
	if err := checkRenderer(logger, cfg.Render); err != nil {
		return fmt.Errorf("renderer check failed: %w", err)
	}

	// 3. Video probe (best effort)
	checkFFprobe(logger, cfg.Preload.FFprobeBin)

	// 4. Backend connectivity (best effort)
	checkBackend(ctx, logger, cfg.Server)

	// 5. Durability warnings
	checkDurability(logger, cfg)

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Msg("data directory is writable")
	return nil
}

func checkRenderer(logger zerolog.Logger, cfg config.RenderConfig) error {
	if cfg.Backend != "exec" {
		return nil
	}
	var errs []error
	for name, tmpl := range map[string]string{"image_cmd": cfg.ImageCmd, "video_cmd": cfg.VideoCmd} {
		fields := strings.Fields(tmpl)
		if len(fields) == 0 {
			errs = append(errs, fmt.Errorf("render.%s is empty", name))
			continue
		}
		bin, err := exec.LookPath(fields[0])
		if err != nil {
			errs = append(errs, fmt.Errorf("render.%s: %w", name, err))
			continue
		}
		logger.Info().Str("setting", "render."+name).Str(log.FieldPath, bin).Msg("viewer binary found")
	}
	return errors.Join(errs...)
}

func checkFFprobe(logger zerolog.Logger, bin string) {
	if bin == "" {
		return
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "startup.ffprobe_missing").
			Msg("ffprobe not found, videos are preloaded without length checks")
		return
	}
	logger.Info().Str(log.FieldPath, path).Msg("ffprobe found")
}

func checkBackend(ctx context.Context, logger zerolog.Logger, cfg config.ServerConfig) {
	if cfg.BaseURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, backendCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, strings.TrimRight(cfg.BaseURL, "/")+"/health", nil)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "startup.backend_invalid").Msg("backend URL unusable")
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "startup.backend_unreachable").
			Msg("backend unreachable, starting offline")
		return
	}
	_ = resp.Body.Close()
	logger.Info().Int(log.FieldStatus, resp.StatusCode).Msg("backend is reachable")
}

func checkDurability(logger zerolog.Logger, cfg config.AppConfig) {
	if strings.HasPrefix(cfg.Server.BaseURL, "http://") {
		logger.Warn().Str(log.FieldEndpoint, cfg.Server.BaseURL).Msg("backend is reached over plain http")
	}
	if strings.EqualFold(cfg.Store.Backend, "memory") {
		logger.Warn().
			Str("store_backend", cfg.Store.Backend).
			Msg("in-memory store; device code and offline snapshot are lost on restart")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; device code and cached content may be lost on reboot")
	}
}
