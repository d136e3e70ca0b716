// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ManuGH/signplay/internal/config"
	"github.com/ManuGH/signplay/internal/player"
	"github.com/goccy/go-json"
)

func defaultStatusAddr() string {
	return config.ParseString(config.EnvPrefix+"STATUS_LISTEN", config.Defaults().Status.Listen)
}

func runStatusCLI(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("signplay status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", defaultStatusAddr(), "status server address")
	raw := fs.Bool("json", false, "print the raw JSON snapshot")
	timeout := fs.Duration("timeout", 5*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+*addr+"/status", nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Status unavailable (is signplay running?): %v\n", err)
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Status request failed: %s\n", resp.Status)
		return 1
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *raw {
		_, _ = stdout.Write(body)
		return 0
	}

	var snap player.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: malformed status: %v\n", err)
		return 1
	}
	printSnapshot(stdout, snap)
	return 0
}

func printSnapshot(w io.Writer, s player.Snapshot) {
	_, _ = fmt.Fprintf(w, "Device:   %s\n", s.DeviceCode)
	_, _ = fmt.Fprintf(w, "Status:   %s\n", s.Status)
	_, _ = fmt.Fprintf(w, "Online:   %t\n", s.Online)
	if s.PlaylistName != "" {
		_, _ = fmt.Fprintf(w, "Playlist: %s (item %d of %d)\n", s.PlaylistName, s.Position+1, s.ItemCount)
	} else {
		_, _ = fmt.Fprintln(w, "Playlist: none")
	}
	_, _ = fmt.Fprintf(w, "Uptime:   %s\n", time.Duration(s.UptimeSeconds*float64(time.Second)).Round(time.Second))
	if s.ErrorCount > 0 {
		_, _ = fmt.Fprintf(w, "Errors:   %d (last: %s)\n", s.ErrorCount, s.LastError)
	}
}
