// Package process runs external commands in the foreground or as detached
// background handles. Background handles rely on Unix process groups and
// non-blocking pipe reads, so the package builds on Unix systems only.
package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Mode identifies how a command invocation is wired.
type Mode int

const (
	// ModeForeground blocks until exit, optionally capturing output.
	ModeForeground Mode = iota

	// ModeBackground returns a live Handle immediately.
	ModeBackground

	// ModeInteractive blocks with the terminal attached to the child.
	ModeInteractive
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeForeground:
		return "foreground"
	case ModeBackground:
		return "background"
	case ModeInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

// cancelGrace is how long a foreground command gets between the interrupt sent
// on context cancellation and a forced kill.
const cancelGrace = 5 * time.Second

// Observer receives lifecycle events from the Runner.
type Observer interface {
	CommandFinished(mode string, code int, elapsed time.Duration)
	ProcessStarted(mode string)
}

// Options configures a single invocation.
type Options struct {
	// Check fails a foreground command that exits non-zero. Defaults to true
	// for foreground; must not be true for background.
	Check *bool

	// Capture collects stdout (and stderr, unless Stderr is set) as text.
	// Foreground only; mutually exclusive with Stdout.
	Capture bool

	// Quiet suppresses the "+ <command>" echo.
	Quiet bool

	// Terminal attaches the runner's stdin/stdout/stderr and forbids Capture.
	Terminal bool

	Dir string
	Env []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Pipe routes a background command's stdout and stderr into a pipe that
	// Handle.Drain reads without blocking.
	Pipe bool

	// StdinPipe gives a background command a stdin pipe held open by the Handle.
	StdinPipe bool

	// TTY marks a background command whose output passes through a
	// pseudo-terminal (ssh -tt), so lines end in "\r\n".
	TTY bool
}

// Bool returns a pointer to b, for Options.Check.
func Bool(b bool) *bool {
	return &b
}

// Result is the outcome of a foreground command.
type Result struct {
	Command string
	Code    int
	Output  string
	Elapsed time.Duration
}

// Runner executes commands and echoes each one to a diagnostic stream.
type Runner struct {
	// Diag receives "+ <command>" lines. Defaults to os.Stderr.
	Diag io.Writer

	// Stdin, Stdout and Stderr are inherited by uncaptured commands.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Dir string
	Env []string

	Logger   *slog.Logger
	Observer Observer
}

// NewRunner creates a Runner wired to the process's standard streams.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		Diag:   os.Stderr,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// echo writes the diagnostic line for c unless quiet.
func (r *Runner) echo(c Command, quiet bool) {
	if quiet || r.Diag == nil {
		return
	}
	fmt.Fprintf(r.Diag, "+ %s\n", c.String())
}

// echoOutput copies a failed command's captured text to Diag.
func (r *Runner) echoOutput(text string, quiet bool) {
	if quiet || r.Diag == nil || text == "" {
		return
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	io.WriteString(r.Diag, text)
}

// Run executes c in the foreground and waits for it to exit.
//
// When ctx is cancelled the command is sent SIGINT, then killed after a
// grace period.
func (r *Runner) Run(ctx context.Context, c Command, opts Options) (*Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if opts.Pipe || opts.StdinPipe {
		return nil, invalidf("pipes are only available to background commands")
	}
	if opts.Capture && opts.Stdout != nil {
		return nil, invalidf("capture cannot be combined with an explicit stdout")
	}
	if opts.Capture && opts.Terminal {
		return nil, invalidf("capture cannot be combined with a terminal session")
	}
	check := true
	if opts.Check != nil {
		check = *opts.Check
	}

	r.echo(c, opts.Quiet)

	cmd := c.cmd(ctx)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = cancelGrace
	r.configure(cmd, opts)

	var captured bytes.Buffer
	switch {
	case opts.Capture:
		cmd.Stdin = r.inheritIn(opts.Stdin)
		cmd.Stdout = &captured
		cmd.Stderr = &captured
		if opts.Stderr != nil {
			cmd.Stderr = opts.Stderr
		}
	default:
		cmd.Stdin = r.inheritIn(opts.Stdin)
		cmd.Stdout = pick(opts.Stdout, r.Stdout)
		cmd.Stderr = pick(opts.Stderr, r.Stderr)
	}

	mode := ModeForeground
	if opts.Terminal {
		mode = ModeInteractive
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil && cmd.ProcessState == nil {
		// Never started (binary missing, bad dir, ...).
		r.logger().Error("command_start_failed", "command", c.String(), "error", err)
		return nil, fmt.Errorf("start %s: %w", c.String(), err)
	}

	res := &Result{
		Command: c.String(),
		Code:    exitCode(err),
		Elapsed: elapsed,
	}
	if opts.Capture {
		res.Output = strings.ToValidUTF8(captured.String(), "\uFFFD")
	}

	if r.Observer != nil {
		r.Observer.CommandFinished(mode.String(), res.Code, elapsed)
	}

	r.logger().Debug("command_finished",
		"command", res.Command,
		"mode", mode.String(),
		"exit_code", res.Code,
		"elapsed", elapsed.String(),
	)

	if ctxErr := ctx.Err(); ctxErr != nil && res.Code != 0 {
		return res, fmt.Errorf("%s interrupted: %w", res.Command, ctxErr)
	}

	if check && res.Code != 0 {
		if opts.Capture {
			// Never swallow the diagnostic output of a failed command.
			r.logger().Warn("command_failed",
				"command", res.Command,
				"exit_code", res.Code,
				"output", res.Output,
			)
			r.echoOutput(res.Output, opts.Quiet)
		}
		return res, &ProcessFailedError{Command: res.Command, Code: res.Code, Output: res.Output}
	}

	return res, nil
}

// Output runs c in capture mode and returns its text.
func (r *Runner) Output(ctx context.Context, c Command, opts Options) (string, error) {
	opts.Capture = true
	res, err := r.Run(ctx, c, opts)
	if res == nil {
		return "", err
	}
	return res.Output, err
}

// Start launches c in the background and returns immediately.
// The returned Handle is owned by the caller until it is added to a registry.
func (r *Runner) Start(ctx context.Context, c Command, opts Options) (*Handle, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if opts.Check != nil && *opts.Check {
		return nil, invalidf("check cannot be enabled for a background command")
	}
	if opts.Capture {
		return nil, invalidf("capture is only available to foreground commands")
	}
	if opts.Terminal {
		return nil, invalidf("a background command cannot own the terminal")
	}
	if opts.Pipe && opts.Stdout != nil {
		return nil, invalidf("pipe cannot be combined with an explicit stdout")
	}
	if opts.StdinPipe && opts.Stdin != nil {
		return nil, invalidf("stdin pipe cannot be combined with an explicit stdin")
	}

	r.echo(c, opts.Quiet)

	// Background processes outlive ctx; teardown owns their termination.
	cmd := c.cmd(context.WithoutCancel(ctx))
	r.configure(cmd, opts)
	// Own process group so signals reach the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	h := &Handle{
		command: c.String(),
		group:   true,
		tty:     opts.TTY,
		done:    make(chan struct{}),
	}

	var childOut, childIn *os.File
	if opts.Pipe {
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		h.stdout = pr
		childOut = pw
		cmd.Stdout = pw
		cmd.Stderr = pw
		if opts.Stderr != nil {
			cmd.Stderr = opts.Stderr
		}
	} else {
		cmd.Stdout = pick(opts.Stdout, r.Stdout)
		cmd.Stderr = pick(opts.Stderr, r.Stderr)
	}

	if opts.StdinPipe {
		pr, pw, err := os.Pipe()
		if err != nil {
			h.closeStreams()
			closeFile(childOut)
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		h.stdin = pw
		childIn = pr
		cmd.Stdin = pr
	} else {
		// Never hand the operator's terminal to a background process.
		cmd.Stdin = opts.Stdin
	}

	if err := cmd.Start(); err != nil {
		h.closeStreams()
		closeFile(childOut)
		closeFile(childIn)
		r.logger().Error("process_start_failed", "command", h.command, "error", err)
		return nil, fmt.Errorf("start %s: %w", h.command, err)
	}

	// The child holds its own copies; keeping ours open would prevent EOF.
	closeFile(childOut)
	closeFile(childIn)

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	go h.reap()

	if r.Observer != nil {
		r.Observer.ProcessStarted(ModeBackground.String())
	}
	r.logger().Debug("process_started", "command", h.command, "pid", h.pid)

	return h, nil
}

func (r *Runner) configure(cmd *exec.Cmd, opts Options) {
	cmd.Dir = r.Dir
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(r.Env) > 0 || len(opts.Env) > 0 {
		cmd.Env = append(append(os.Environ(), r.Env...), opts.Env...)
	}
}

func (r *Runner) inheritIn(in io.Reader) io.Reader {
	if in != nil {
		return in
	}
	return r.Stdin
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func pick(w, fallback io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return fallback
}

func closeFile(f *os.File) {
	if f != nil {
		f.Close()
	}
}
