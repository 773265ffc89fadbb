//go:build unix

package process

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// isProcessAlive checks if a process with the given PID is still running
func isProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything
	return p.Signal(syscall.Signal(0)) == nil
}

// TerminateProcess sends SIGTERM and escalates to SIGKILL if the process
// is still alive shortly after.
func TerminateProcess(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}

	time.Sleep(100 * time.Millisecond)

	if isProcessAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
