package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Status is a sampled process state: still running, or exited with a code.
type Status struct {
	Exited bool
	Code   int
}

// Running reports whether the process had not exited when sampled.
func (s Status) Running() bool {
	return !s.Exited
}

// Success reports whether the process exited with code 0.
func (s Status) Success() bool {
	return s.Exited && s.Code == 0
}

// String returns "running" or "exited(<code>)".
func (s Status) String() string {
	if !s.Exited {
		return "running"
	}
	return fmt.Sprintf("exited(%d)", s.Code)
}

// exitCode extracts the exit code from a Wait() error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
