package teardown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-procctl/internal/registry"
)

// ErrInterrupted is returned by Scope.Run when an operator interrupt arrived
// at any point during the scope. It is only returned after teardown has
// completed.
var ErrInterrupted = errors.New("interrupted")

// Observer receives teardown events.
type Observer interface {
	TeardownPass(pass, handles int)
	Interrupted()
}

// Scope runs a body of work and guarantees that every process in the
// registry is signaled and closed when the body ends, however it ends.
type Scope struct {
	// Interrupts delivers operator interrupts. When nil, Run subscribes to
	// SIGINT and SIGTERM for its duration.
	Interrupts <-chan os.Signal

	Signal   SignalOptions
	Diag     io.Writer
	Logger   *slog.Logger
	Observer Observer
}

// NewScope creates a Scope that interrupts, closes and waits for every
// process at teardown, escalating to SIGKILL after killAfter.
func NewScope(logger *slog.Logger, killAfter time.Duration) *Scope {
	opts := DefaultSignalOptions()
	opts.KillAfter = killAfter
	opts.Logger = logger
	return &Scope{
		Signal: opts,
		Diag:   os.Stderr,
		Logger: logger,
	}
}

// Run calls body with a context that is canceled on the first interrupt.
// On return, error or panic, every handle in reg is torn down and reg is
// cleared. An interrupt during teardown restarts the full pass instead of
// abandoning it.
func (s *Scope) Run(ctx context.Context, reg *registry.Registry, body func(ctx context.Context) error) (err error) {
	interrupts := s.Interrupts
	if interrupts == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		interrupts = ch
	}

	bodyCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.watch(interrupts, func(sig os.Signal) {
		s.logger().Info("received_signal", "signal", sig.String())
		cancel()
	})

	defer func() {
		pending := w.stop()
		p := recover()

		if s.teardown(reg, interrupts) {
			pending = true
		}

		if p != nil {
			panic(p)
		}
		if pending {
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			err = errors.Join(ErrInterrupted, err)
		}
	}()

	return body(bodyCtx)
}

// teardown signals and closes every registered handle until one pass
// completes without an interrupt. It reports whether any interrupt arrived.
func (s *Scope) teardown(reg *registry.Registry, interrupts <-chan os.Signal) bool {
	pending := false
	for pass := 1; ; pass++ {
		handles := reg.Handles()
		if s.Observer != nil {
			s.Observer.TeardownPass(pass, len(handles))
		}
		s.logger().Info("teardown_pass", "pass", pass, "processes", len(handles))

		ctx, cancel := context.WithCancel(context.Background())
		w := s.watch(interrupts, func(os.Signal) { cancel() })

		start := time.Now()
		err := SignalAll(ctx, handles, s.Signal)

		hit := w.stop()
		cancel()
		if !hit {
			// Anything queued while the watcher was shutting down counts too.
			select {
			case <-interrupts:
				hit = true
				s.interrupted()
			default:
			}
		}

		if hit {
			pending = true
			if s.Diag != nil {
				fmt.Fprintln(s.Diag, "(Trying to kill processes...)")
			}
			s.logger().Warn("teardown_interrupted", "pass", pass)
			continue
		}

		if err != nil {
			s.logger().Warn("teardown_error", "pass", pass, "error", err)
		}
		s.logger().Info("teardown_complete",
			"pass", pass,
			"processes", len(handles),
			"elapsed", time.Since(start).String(),
		)
		reg.Clear()
		return pending
	}
}

func (s *Scope) interrupted() {
	if s.Observer != nil {
		s.Observer.Interrupted()
	}
}

func (s *Scope) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// watcher consumes at most one interrupt in the background.
type watcher struct {
	done chan struct{}
	wg   sync.WaitGroup
	hit  bool
}

func (s *Scope) watch(interrupts <-chan os.Signal, onInterrupt func(os.Signal)) *watcher {
	w := &watcher{done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case sig := <-interrupts:
			w.hit = true
			s.interrupted()
			onInterrupt(sig)
		case <-w.done:
		}
	}()
	return w
}

// stop ends the watcher and reports whether it saw an interrupt.
func (w *watcher) stop() bool {
	close(w.done)
	w.wg.Wait()
	return w.hit
}
