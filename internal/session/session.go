// Package session runs one configured orchestration session: setup
// commands, named background processes gated on readiness, a fixed-length
// polling loop, teardown, and post-teardown commands.
package session

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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/metrics"
	"github.com/randomizedcoder/go-procctl/internal/process"
	"github.com/randomizedcoder/go-procctl/internal/registry"
	"github.com/randomizedcoder/go-procctl/internal/remote"
	"github.com/randomizedcoder/go-procctl/internal/teardown"
	"github.com/randomizedcoder/go-procctl/internal/terminal"
)

// LocalTag labels output of commands that run on this host.
const LocalTag = "local"

// Options wires a Session to its environment. Zero values use the
// process's standard streams and signal handling.
type Options struct {
	Logger  *slog.Logger
	Version string

	// RunID identifies the session in logs and metrics. Generated if empty.
	RunID string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Interrupts replaces SIGINT/SIGTERM delivery, for tests. It is
	// consumed for the whole of Run, not only while processes are running.
	Interrupts <-chan os.Signal
}

// Session is a configured, not yet running, orchestration session.
type Session struct {
	cfg    *config.Config
	runID  string
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer

	runner    *process.Runner
	executors map[string]*remote.Executor

	reg        *registry.Registry
	poller     *registry.Poller
	scope      *teardown.Scope
	interrupts <-chan os.Signal

	promRegistry *prometheus.Registry
	collector    *metrics.Collector
}

// New builds a Session from a validated configuration.
func New(cfg *config.Config, opts Options) (*Session, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithRunID(logger, runID)

	s := &Session{
		cfg:       cfg,
		runID:     runID,
		logger:    logger,
		stdout:    pickWriter(opts.Stdout, os.Stdout),
		stderr:    pickWriter(opts.Stderr, os.Stderr),
		executors: make(map[string]*remote.Executor),
		reg:       registry.New(),

		interrupts: opts.Interrupts,
	}

	s.promRegistry = prometheus.NewRegistry()
	s.collector = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: opts.Version,
		RunID:   runID,
	}, s.promRegistry)

	s.runner = process.NewRunner(logger)
	s.runner.Diag = s.stderr
	s.runner.Stdout = s.stdout
	s.runner.Stderr = s.stderr
	if opts.Stdin != nil {
		s.runner.Stdin = opts.Stdin
	}
	s.runner.Observer = s.collector

	for name, t := range cfg.Targets {
		target, err := remote.NewTarget(t.User, t.Host)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
		e := remote.New(s.runner, target, logger)
		e.SSHPath = cfg.SSHPath
		e.ExtraOptions = cfg.SSHOptions
		e.Out = s.stdout
		s.executors[name] = e
	}

	s.poller = registry.NewPoller(s.reg, s.stdout, logger)
	s.poller.SetObserver(s.collector)

	s.scope = teardown.NewScope(logger, cfg.KillAfter)
	s.scope.Diag = s.stderr
	s.scope.Observer = s.collector

	return s, nil
}

// RunID returns the session's identifier.
func (s *Session) RunID() string {
	return s.runID
}

// Gatherer exposes the session's metrics.
func (s *Session) Gatherer() prometheus.Gatherer {
	return s.promRegistry
}

// Collector returns the session's metrics collector.
func (s *Session) Collector() *metrics.Collector {
	return s.collector
}

// Executor returns the remote executor for a configured target.
func (s *Session) Executor(target string) (*remote.Executor, bool) {
	e, ok := s.executors[target]
	return e, ok
}

// Run executes the whole session. Post-teardown commands run on every path.
// An operator interrupt at any point, including during setup and after
// steps, is reported as teardown.ErrInterrupted once everything has been
// cleaned up.
func (s *Session) Run(ctx context.Context) (err error) {
	interrupts := s.interrupts
	if interrupts == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		interrupts = ch
	}
	s.scope.Interrupts = interrupts

	if err := os.MkdirAll(s.cfg.ScratchDir, 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	lock, err := acquireLock(s.cfg.LockPath())
	if err != nil {
		return err
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			s.logger.Warn("lock_release_failed", "path", s.cfg.LockPath(), "error", uerr)
		}
	}()

	// Background ssh sessions allocate ptys that can leave the local
	// terminal in a bad state.
	guard, err := terminal.Save(os.Stdin)
	if err != nil {
		s.logger.Warn("terminal_save_failed", "error", err)
	}
	defer func() {
		if rerr := guard.Restore(); rerr != nil {
			s.logger.Warn("terminal_restore_failed", "error", rerr)
		}
	}()

	var server *metrics.Server
	if s.cfg.MetricsAddr != "" {
		server = metrics.NewServer(s.cfg.MetricsAddr, s.promRegistry, s.logger)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				s.logger.Warn("metrics_server_shutdown_error", "error", serr)
			}
		}()
	}

	s.logger.Info("session_starting",
		"processes", len(s.cfg.Processes),
		"duration", s.cfg.Duration.String(),
		"scratch_dir", s.cfg.ScratchDir,
	)

	setupCtx, cancelSetup := context.WithCancel(ctx)
	stop := s.watchInterrupts(interrupts, func(sig os.Signal) {
		s.logger.Info("received_signal", "signal", sig.String(), "phase", "setup")
		cancelSetup()
	})
	err = s.runSteps(setupCtx, "setup", s.cfg.Setup)
	interrupted := stop()
	cancelSetup()

	switch {
	case interrupted:
		err = interruptedError(err)
	case err == nil:
		err = s.scope.Run(ctx, s.reg, s.supervise)
	}

	// Cleanup commands must run even when the session was interrupted, so
	// interrupts arriving now are noted and otherwise ignored.
	stop = s.watchInterrupts(interrupts, func(sig os.Signal) {
		s.logger.Warn("interrupt_deferred", "signal", sig.String(), "phase", "after")
		fmt.Fprintln(s.stderr, "(Running cleanup commands...)")
	})
	afterErr := s.runSteps(context.WithoutCancel(ctx), "after", s.cfg.After)
	if stop() && !errors.Is(err, teardown.ErrInterrupted) {
		err = interruptedError(err)
	}
	err = errors.Join(err, afterErr)

	if s.cfg.MetricsSnapshot != "" {
		if werr := metrics.WriteSnapshot(s.cfg.MetricsSnapshot, s.promRegistry); werr != nil {
			s.logger.Warn("metrics_snapshot_failed", "path", s.cfg.MetricsSnapshot, "error", werr)
		}
	}

	s.logger.Info("session_finished", "error", err)
	return err
}

// supervise starts every process, waits for readiness, and polls for the
// configured duration. It runs inside the teardown scope.
func (s *Session) supervise(ctx context.Context) error {
	for _, p := range s.cfg.Processes {
		h, err := s.start(ctx, p)
		if err != nil {
			return fmt.Errorf("start %s: %w", p.Name, err)
		}
		if err := s.reg.Add(p.Name, h); err != nil {
			// Not registered, so teardown would never see it.
			_ = teardown.SignalAll(context.Background(), []*process.Handle{h}, teardown.DefaultSignalOptions())
			return err
		}
	}

	opts := s.pollOptions()

	for _, p := range s.cfg.Processes {
		if p.ReadyMarker == "" {
			continue
		}
		if err := s.waitReady(ctx, p, opts); err != nil {
			return err
		}
	}

	if s.cfg.Duration > 0 {
		fmt.Fprintf(s.stderr, "Running for %s...\n", s.cfg.Duration)
		err := s.poller.PollFor(ctx, s.cfg.Duration, s.cfg.PollInterval, opts)
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintln(s.stderr, "Running until interrupted...")
		for {
			if _, err := s.poller.Poll(opts); err != nil {
				return err
			}
			if err := sleep(ctx, s.cfg.PollInterval); err != nil {
				return err
			}
		}
	}

	// Pick up anything written since the last poll.
	_, err := s.poller.Poll(opts)
	return err
}

func (s *Session) start(ctx context.Context, p config.ProcessSpec) (*process.Handle, error) {
	if p.Target == "" {
		return s.runner.Start(ctx, process.ShellCommand(p.Command), process.Options{
			Check: process.Bool(false),
			Pipe:  true,
		})
	}
	return s.executors[p.Target].Start(ctx, p.Command, remote.StartOptions{Login: p.Login})
}

func (s *Session) waitReady(ctx context.Context, p config.ProcessSpec, opts registry.PollOptions) error {
	waitCtx := ctx
	if p.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.ReadyTimeout)
		defer cancel()
	}

	begin := time.Now()
	err := s.poller.WaitForOutput(waitCtx, p.Name, p.ReadyMarker, s.cfg.PollInterval, opts)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &NotReadyError{Name: p.Name, Marker: p.ReadyMarker, Timeout: p.ReadyTimeout}
	}
	var notSeen *registry.MarkerNotSeenError
	if errors.As(err, &notSeen) {
		return &NotReadyError{
			Name:    p.Name,
			Marker:  p.ReadyMarker,
			Timeout: p.ReadyTimeout,
			Exited:  true,
			Code:    notSeen.Code,
			Output:  notSeen.Output,
		}
	}
	if err != nil {
		return err
	}
	s.logger.Info("process_ready", "name", p.Name, "elapsed", time.Since(begin).String())
	return nil
}

func (s *Session) pollOptions() registry.PollOptions {
	opts := registry.DefaultPollOptions()
	for _, p := range s.cfg.Processes {
		if !p.RequireAlive {
			if opts.Tolerate == nil {
				opts.Tolerate = make(map[string]bool)
			}
			opts.Tolerate[p.Name] = true
		}
	}
	return opts
}

// Output returns everything the named process printed during the session.
func (s *Session) Output(name string) string {
	return s.poller.Output(name)
}

// watchInterrupts hands every interrupt to onInterrupt until the returned
// stop func is called. stop reports whether any interrupt arrived.
func (s *Session) watchInterrupts(interrupts <-chan os.Signal, onInterrupt func(os.Signal)) (stop func() bool) {
	done := make(chan struct{})
	var (
		wg  sync.WaitGroup
		hit bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case sig := <-interrupts:
				hit = true
				s.collector.Interrupted()
				onInterrupt(sig)
			case <-done:
				return
			}
		}
	}()
	return func() bool {
		close(done)
		wg.Wait()
		return hit
	}
}

// interruptedError marks err as caused by an operator interrupt. The
// cancellation the interrupt itself caused is not reported separately.
func interruptedError(err error) error {
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(teardown.ErrInterrupted, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func pickWriter(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}
