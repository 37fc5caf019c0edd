//go:build !windows

package util

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that trigger a graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// GracefulSignal asks p to terminate with SIGINT.
func GracefulSignal(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Signal(syscall.SIGINT)
}
