//go:build !windows

package pane

import (
	"os/exec"
	"syscall"
)

// detach puts the agent in its own session so terminal signals aimed at the
// parent do not reach it.
func detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}
