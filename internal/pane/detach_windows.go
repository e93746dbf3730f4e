//go:build windows

package pane

import "os/exec"

func detach(cmd *exec.Cmd) {}
