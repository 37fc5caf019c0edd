//go:build windows

package util

import "os"

// ShutdownSignals returns the signals that trigger a graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal is a no-op on Windows; the process is killed after
// its WaitDelay instead.
func GracefulSignal(p *os.Process) error {
	return nil
}
