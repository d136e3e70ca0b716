// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/validation"
	"github.com/ManuGH/signplay/internal/version"
)

const validateCheckTimeout = 15 * time.Second

// runValidateCLI exits 0 for a valid file, 1 for an invalid one and 2 on usage errors.
func runValidateCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("signplay validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var file string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	check := fs.Bool("check", false, "also run the startup checks against this host")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -file is required")
		_, _ = fmt.Fprintln(stderr, "")
		_, _ = fmt.Fprintln(stderr, "Usage:")
		_, _ = fmt.Fprintln(stderr, "  signplay validate -f config.yaml [-check]")
		return 2
	}

	// Load parses strictly and validates.
	cfg, err := config.NewLoader(file, version.Version).Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Configuration error in %s:\n", file)
		_, _ = fmt.Fprintf(stderr, "  %v\n", err)
		return 1
	}

	if *check {
		ctx, cancel := context.WithTimeout(context.Background(), validateCheckTimeout)
		defer cancel()
		if err := validation.PerformStartupChecks(ctx, cfg); err != nil {
			_, _ = fmt.Fprintf(stderr, "Startup check failed for %s:\n", file)
			_, _ = fmt.Fprintf(stderr, "  %v\n", err)
			return 1
		}
	}

	_, _ = fmt.Fprintf(stdout, "✓ %s is valid\n", file)
	return 0
}
