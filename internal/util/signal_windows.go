//go:build windows

package util

import (
	"os"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// GracefulSignal attempts graceful process termination.
// Windows has no SIGINT delivery for child processes; the capture and encode
// subprocesses are shut down by closing their stdin instead, so this is a no-op
// that keeps the teardown sequence error-free.
func GracefulSignal(p *os.Process) error {
	return nil
}
