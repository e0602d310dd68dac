//go:build windows

package device

import "os"

// suspendProcess is not available without job objects on Windows
func suspendProcess(_ *os.Process) error {
	return ErrUnsupported
}

// resumeProcess is not available without job objects on Windows
func resumeProcess(_ *os.Process) error {
	return ErrUnsupported
}

// interruptProcess kills the process; Windows has no SIGTERM delivery
func interruptProcess(p *os.Process) error {
	return p.Kill()
}
