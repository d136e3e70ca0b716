// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows viewers are not grouped; only the direct child is stopped.
func setGroup(*exec.Cmd) {}

// signalGroup maps SIGKILL to Process.Kill. Windows has no graceful
// signal, so SIGTERM is a no-op and Terminate escalates after its grace.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if sig != syscall.SIGKILL {
		return nil
	}
	return p.Kill()
}
