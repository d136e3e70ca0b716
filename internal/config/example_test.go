// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"

	"github.com/ManuGH/signplay/internal/testutil"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

// The shipped example must parse strictly and only differ from the
// built-in defaults where it documents a deployment value.
func TestExampleConfigMatchesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("SIGNPLAY_DATA_DIR", dataDir)

	cfg, err := NewLoader(testutil.ExampleConfig(t), "v-test").Load()
	require.NoError(t, err)

	want, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)
	want.Server.BaseURL = "https://signage.example.com/api"
	want.Quality.ConnectionType = "ethernet"

	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("example config drifted from defaults (-want +got):\n%s", diff)
	}
}
