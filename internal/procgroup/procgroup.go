// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts viewer processes in their own process group so a
// player and every helper it forks can be stopped together.
package procgroup

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/signplay/internal/metrics"
)

// Set makes cmd start as the leader of its own process group and, where the
// platform allows, die with the player.
func Set(cmd *exec.Cmd) {
	setGroup(cmd)
	setParentDeath(cmd)
}

// Kill signals every process in cmd's group. A group that is already gone
// is not an error, nor is a nil or unstarted command.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signalGroup(cmd.Process, sig)
}

// Terminate stops the process group of cmd. It sends SIGTERM, waits for the
// exit reported on waitCh and escalates to SIGKILL after grace. It consumes
// and returns the error from waitCh. Safe to call on nil or unstarted
// commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	metrics.RecordProcTerminate("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
	}

	metrics.RecordProcTerminate("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))
	return <-waitCh
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, syscall.ESRCH), errors.Is(err, os.ErrProcessDone):
		return "esrch"
	}
	return "error"
}
