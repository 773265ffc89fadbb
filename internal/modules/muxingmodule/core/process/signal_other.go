//go:build !unix

package process

import (
	"os"
)

func isProcessAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

// TerminateProcess kills the process; there is no graceful stage here
func TerminateProcess(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return p.Kill()
}
