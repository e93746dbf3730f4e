//go:build !windows

package agenttree

import (
	"errors"
	"syscall"
)

// processAlive reports whether pid still exists. EPERM means it exists but
// belongs to someone else.
func processAlive(pid int) bool {
	if pid <= 0 {
		return true
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
