package process

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Handle is a live reference to one background process and its pipes.
type Handle struct {
	command string
	cmd     *exec.Cmd
	pid     int
	group   bool
	tty     bool

	// Closed by reap once status is final.
	done   chan struct{}
	status Status

	mu           sync.Mutex
	stdin        *os.File
	stdout       *os.File
	stdinClosed  bool
	stdoutClosed bool
	eof          bool
}

// reap waits for the process and publishes its exit status.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.status = Status{Exited: true, Code: exitCode(err)}
	close(h.done)
}

// Command returns the command line the handle was started with.
func (h *Handle) Command() string {
	return h.command
}

// PID returns the operating system process identifier.
func (h *Handle) PID() int {
	return h.pid
}

// Stdin returns the write end of the stdin pipe, or nil if none was requested.
func (h *Handle) Stdin() io.WriteCloser {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil || h.stdinClosed {
		return nil
	}
	return h.stdin
}

// TTY reports whether the output passes through a pseudo-terminal.
func (h *Handle) TTY() bool {
	return h.tty
}

// HasStdout reports whether the handle owns a readable output pipe.
func (h *Handle) HasStdout() bool {
	return h.stdout != nil
}

// Poll samples the process status without blocking.
func (h *Handle) Poll() Status {
	select {
	case <-h.done:
		return h.status
	default:
		return Status{}
	}
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Status, error) {
	select {
	case <-h.done:
		return h.status, nil
	case <-ctx.Done():
		return h.Poll(), ctx.Err()
	}
}

// Signal sends sig to the process. Background handles signal their whole
// process group, even after the leader has exited, so children that are
// still holding the output pipe are reached too. Signaling a process (or
// group) that is already gone is not an error: liveness checks and signal
// delivery are inherently racy.
func (h *Handle) Signal(sig syscall.Signal) error {
	var err error
	if h.group {
		err = unix.Kill(-h.pid, sig)
	} else {
		if h.Poll().Exited {
			return nil
		}
		err = h.cmd.Process.Signal(sig)
	}

	if err == nil || errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if !h.group && h.Poll().Exited {
		return nil
	}
	return err
}

// Close closes every stream owned by the handle that is not already closed.
// It does not signal the process and is safe to call repeatedly.
func (h *Handle) Close() error {
	return h.closeStreams()
}

func (h *Handle) closeStreams() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	if h.stdin != nil && !h.stdinClosed {
		h.stdinClosed = true
		if err := h.stdin.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.stdout != nil && !h.stdoutClosed {
		h.stdoutClosed = true
		if err := h.stdout.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Closed reports whether all of the handle's streams have been closed.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return (h.stdin == nil || h.stdinClosed) && (h.stdout == nil || h.stdoutClosed)
}

// OutputDone reports whether no more output can arrive: the handle has no
// pipe, its pipe is closed, or the pipe has been drained to EOF.
func (h *Handle) OutputDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout == nil || h.stdoutClosed || h.eof
}

// Drain returns every byte currently available on the output pipe without
// waiting for more. It returns nil when nothing is available, the pipe is
// at EOF, or the handle has no pipe.
func (h *Handle) Drain() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stdout == nil || h.stdoutClosed || h.eof {
		return nil, nil
	}

	rc, err := h.stdout.SyscallConn()
	if err != nil {
		return nil, err
	}

	var (
		data    []byte
		eof     bool
		readErr error
	)
	// Control leaves the descriptor in non-blocking mode, unlike Fd().
	if err := rc.Control(func(fd uintptr) {
		data, eof, readErr = readAvailable(int(fd))
	}); err != nil {
		return nil, err
	}
	if eof {
		h.eof = true
	}
	return data, readErr
}
