// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
)

// setParentDeath asks the kernel to SIGTERM the viewer if the player dies
// without stopping it, so a crashed player leaves no frozen frame behind.
// Must run after setGroup.
func setParentDeath(cmd *exec.Cmd) {
	cmd.SysProcAttr.Pdeathsig = syscall.SIGTERM
}
