// Package teardown signals and reaps every process started within an
// orchestration scope, on every exit path.
package teardown

import (
	"context"
	"errors"
	"log/slog"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-procctl/internal/process"
)

// resignalInterval is how often survivors of a blocking SignalAll get the
// signal again. A signal that lands before a shell has exec'd its command
// can be dropped.
const resignalInterval = time.Second

// SignalOptions controls SignalAll.
type SignalOptions struct {
	// Signal is sent to each running handle. Zero means SIGINT.
	Signal syscall.Signal

	// Block waits until every handle has exited, repeating the signal to
	// survivors every second.
	Block bool

	// CloseStreams closes each handle's pipes whether or not the signal
	// was delivered.
	CloseStreams bool

	// KillAfter escalates survivors to SIGKILL once it has elapsed.
	// Only used with Block; zero waits indefinitely.
	KillAfter time.Duration

	Logger *slog.Logger
}

// DefaultSignalOptions interrupts, closes streams and blocks.
func DefaultSignalOptions() SignalOptions {
	return SignalOptions{
		Signal:       syscall.SIGINT,
		Block:        true,
		CloseStreams: true,
	}
}

// SignalAll sends opts.Signal to every handle. A process exiting between
// the liveness check and the signal is not an error, so calling SignalAll
// again on the same handles is a no-op. Handles whose leader has already
// exited still have their process group signaled.
func SignalAll(ctx context.Context, handles []*process.Handle, opts SignalOptions) error {
	sig := opts.Signal
	if sig == 0 {
		sig = syscall.SIGINT
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for _, h := range handles {
		if h.Poll().Running() {
			logger.Debug("signaling_process", "pid", h.PID(), "signal", sig.String(), "command", h.Command())
		}
		if err := h.Signal(sig); err != nil {
			errs = append(errs, err)
		}
		if opts.CloseStreams {
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if opts.Block {
		if err := waitAll(ctx, handles, sig, opts.KillAfter, logger); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// waitAll blocks until every handle has exited, re-sending sig to survivors
// each resignalInterval and switching to SIGKILL once killAfter has passed.
func waitAll(ctx context.Context, handles []*process.Handle, sig syscall.Signal, killAfter time.Duration, logger *slog.Logger) error {
	var escalate <-chan time.Time
	if killAfter > 0 {
		t := time.NewTimer(killAfter)
		defer t.Stop()
		escalate = t.C
	}
	resend := time.NewTicker(resignalInterval)
	defer resend.Stop()

	for {
		next := firstRunning(handles)
		if next == nil {
			return nil
		}

		select {
		case <-next.Done():
		case <-ctx.Done():
			return ctx.Err()
		case <-escalate:
			escalate = nil
			sig = syscall.SIGKILL
			for _, h := range handles {
				if h.Poll().Running() {
					logger.Warn("force_killing_process", "pid", h.PID(), "command", h.Command())
				}
			}
			if err := signalRunning(handles, sig); err != nil {
				return err
			}
		case <-resend.C:
			logger.Debug("resignaling_processes", "signal", sig.String())
			if err := signalRunning(handles, sig); err != nil {
				return err
			}
		}
	}
}

func firstRunning(handles []*process.Handle) *process.Handle {
	for _, h := range handles {
		if h.Poll().Running() {
			return h
		}
	}
	return nil
}

func signalRunning(handles []*process.Handle, sig syscall.Signal) error {
	for _, h := range handles {
		if h.Poll().Running() {
			if err := h.Signal(sig); err != nil {
				return err
			}
		}
	}
	return nil
}
