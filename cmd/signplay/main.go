// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command signplay runs the signage player daemon and a few operator
// subcommands against its local state and status server.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/ManuGH/signplay/internal/daemon"
	xglog "github.com/ManuGH/signplay/internal/log"
	"github.com/ManuGH/signplay/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "device":
			os.Exit(runDeviceCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "status":
			os.Exit(runStatusCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "validate":
			os.Exit(runValidateCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		case "help", "-h", "--help":
			printUsage(os.Stdout)
			os.Exit(0)
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	os.Exit(runDaemon(strings.TrimSpace(*configPath)))
}

func runDaemon(configPath string) int {
	xglog.Configure(xglog.Config{Level: "info", Service: "signplay", Version: version.Version})
	logger := xglog.WithComponent("main")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	d, err := daemon.New(ctx, daemon.Options{ConfigPath: configPath, Version: version.Version})
	if err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "startup.failed").
			Str("config_path", configPath).
			Msg("failed to start signplay")
		return 1
	}

	cfg := d.Config()
	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("backend", maskURL(cfg.Server.BaseURL)).
		Str("data_dir", cfg.DataDir).
		Msg("configuration loaded")

	if err := d.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("signplay stopped with error")
		return 1
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.exit").Msg("signplay stopped")
	return 0
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  signplay [-config PATH]          run the player")
	_, _ = fmt.Fprintln(w, "  signplay -version                print version and exit")
	_, _ = fmt.Fprintln(w, "  signplay device show|reset       inspect or replace the device code")
	_, _ = fmt.Fprintln(w, "  signplay status [-addr ADDR]     print the running player's status")
	_, _ = fmt.Fprintln(w, "  signplay validate -f FILE [-check] validate a config file")
	_, _ = fmt.Fprintln(w, "  signplay healthcheck [-mode ready|live]")
}
