// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package daemon

import "os"

// Windows has no user signals; use POST /sync on the status server.
var wakeSignal os.Signal
