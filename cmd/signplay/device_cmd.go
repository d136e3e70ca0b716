// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ManuGH/signplay/internal/clock"
	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/device"
	"github.com/ManuGH/signplay/internal/store"
	"github.com/ManuGH/signplay/internal/version"
)

const deviceCmdTimeout = 10 * time.Second

func runDeviceCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printDeviceUsage(stdout)
		return 0
	}

	switch args[0] {
	case "show":
		return runDeviceShow(args[1:], stdout, stderr)
	case "reset":
		return runDeviceReset(args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printDeviceUsage(stderr)
		return 2
	}
}

func printDeviceUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  signplay device show  [-config PATH]")
	_, _ = fmt.Fprintln(w, "  signplay device reset [-config PATH] [-code CODE]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Both operate on the local store. Stop the player first when the")
	_, _ = fmt.Fprintln(w, "store backend is badger; a running player keeps its code until restart.")
	_, _ = fmt.Fprintln(w, "Use POST /device/reset on the status server to change it live.")
}

func openLocalState(configPath string) (config.AppConfig, *store.Persistence, func(), error) {
	cfg, err := config.NewLoader(configPath, version.Version).Load()
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	backend, err := store.Open(cfg.Store, cfg.DataDir)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, store.NewPersistence(backend, clock.Real{}), func() { _ = backend.Close() }, nil
}

func runDeviceShow(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("signplay device show", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, state, closeFn, err := openLocalState(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	if cfg.Device.Code != "" {
		_, _ = fmt.Fprintf(stdout, "%s (config override)\n", cfg.Device.Code)
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), deviceCmdTimeout)
	defer cancel()
	code, err := state.LoadDeviceCode(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrExpired):
		_, _ = fmt.Fprintln(stderr, "No device code stored yet; one is generated on first start.")
		return 1
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "Error: read device code: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, code)
	return 0
}

func runDeviceReset(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("signplay device reset", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	code := fs.String("code", "", "install this code instead of generating one")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, state, closeFn, err := openLocalState(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), deviceCmdTimeout)
	defer cancel()

	mgr := device.NewManager(state, "")
	next := strings.ToUpper(strings.TrimSpace(*code))
	if next == "" {
		next, err = mgr.Reset(ctx)
	} else {
		err = mgr.Set(ctx, next)
	}
	if errors.Is(err, device.ErrInvalidCode) {
		_, _ = fmt.Fprintf(stderr, "Error: -code %q is not 8 letters or digits\n", *code)
		return 1
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// The manager only logs persistence failures; confirm the write.
	stored, err := state.LoadDeviceCode(ctx)
	if err != nil || stored != next {
		_, _ = fmt.Fprintf(stderr, "Error: device code %s was not persisted: %v\n", next, err)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, next)
	if cfg.Device.Code != "" {
		_, _ = fmt.Fprintf(stderr, "Warning: device.code=%s in the config still overrides the stored code.\n", cfg.Device.Code)
	}
	return 0
}
