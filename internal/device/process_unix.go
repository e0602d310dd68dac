//go:build !windows

package device

import (
	"os"
	"syscall"
)

// suspendProcess pauses a process in place (SIGSTOP)
func suspendProcess(p *os.Process) error {
	return p.Signal(syscall.SIGSTOP)
}

// resumeProcess continues a suspended process (SIGCONT)
func resumeProcess(p *os.Process) error {
	return p.Signal(syscall.SIGCONT)
}

// interruptProcess asks a process to exit (SIGTERM)
func interruptProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
