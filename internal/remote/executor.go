// Package remote runs command strings inside a bash shell on another host
// over ssh.
package remote

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/process"
	"github.com/randomizedcoder/go-procctl/internal/shell"
	"github.com/randomizedcoder/go-procctl/internal/terminal"
)

// DefaultSSHPath is the transport binary looked up on PATH.
const DefaultSSHPath = "ssh"

// transportOptions are always passed: never prompt, forward the agent.
var transportOptions = []string{"-A", "-o", "BatchMode=yes"}

// Executor runs commands on one Target.
type Executor struct {
	Runner *process.Runner
	Target Target

	// SSHPath overrides the ssh binary.
	SSHPath string

	// ExtraOptions are inserted after the fixed transport options.
	ExtraOptions []string

	// Out receives "[<host>] " tagged output of uncaptured commands.
	Out io.Writer

	// TTY is the terminal restored after interactive sessions.
	TTY *os.File

	Logger *slog.Logger
}

// New creates an Executor for target using runner.
func New(runner *process.Runner, target Target, logger *slog.Logger) *Executor {
	return &Executor{
		Runner:  runner,
		Target:  target,
		SSHPath: DefaultSSHPath,
		Out:     os.Stdout,
		TTY:     os.Stdin,
		Logger:  logger,
	}
}

// RunOptions configures a foreground remote command.
type RunOptions struct {
	// Capture returns the output instead of printing it tagged with the host.
	Capture bool

	// Check fails on a non-zero exit. Defaults to true.
	Check *bool

	// Login runs bash as a login shell.
	Login bool

	Quiet bool
}

// StartOptions configures a background remote command.
type StartOptions struct {
	Login bool
	Quiet bool
}

// InteractiveOptions configures an interactive session. Capture and
// Background exist so callers passing them get an error rather than having
// them silently ignored.
type InteractiveOptions struct {
	Capture    bool
	Background bool

	// Check fails on a non-zero exit. Defaults to true.
	Check *bool
}

// BuildArgs returns the full ssh argument vector for text in mode.
// Background and interactive sessions get a pty (-tt); for background ones
// this is what makes ssh forward termination to the remote process tree.
func (e *Executor) BuildArgs(mode process.Mode, text string, login bool) []string {
	flags := shell.BashFlags{Login: login}
	args := []string{e.sshPath()}

	switch mode {
	case process.ModeInteractive:
		flags = shell.BashFlags{Login: true, Interactive: true}
		args = append(args, "-tt")
	case process.ModeBackground:
		args = append(args, "-tt")
	}

	args = append(args, transportOptions...)
	args = append(args, e.ExtraOptions...)
	args = append(args, e.Target.String(), shell.BashCommand(text, flags))
	return args
}

// Run executes text in the foreground without a pty and waits for it.
// The output has exactly one trailing newline stripped. Without Capture it
// is printed line by line prefixed with "[<host>] " and "" is returned.
func (e *Executor) Run(ctx context.Context, text string, opts RunOptions) (string, error) {
	check := true
	if opts.Check != nil {
		check = *opts.Check
	}

	args := e.BuildArgs(process.ModeForeground, text, opts.Login)
	res, err := e.Runner.Run(ctx, process.Argv(args...), process.Options{
		Capture: true,
		Check:   process.Bool(false),
		Quiet:   opts.Quiet,
	})
	if err != nil {
		return "", err
	}

	out := strings.TrimSuffix(res.Output, "\n")
	if !opts.Capture && out != "" {
		if err := logging.NewTaggedWriter(e.out()).Print(e.Target.Host, out); err != nil {
			e.logger().Warn("echo_failed", "host", e.Target.Host, "error", err)
		}
	}

	if check && res.Code != 0 {
		e.logger().Warn("remote_command_failed",
			"host", e.Target.Host,
			"exit_code", res.Code,
			"output", out,
		)
		return out, &RemoteCommandFailedError{Host: e.Target.Host, Code: res.Code, Output: out}
	}

	if opts.Capture {
		return out, nil
	}
	return "", nil
}

// Start launches text in the background and returns immediately.
// Output and stderr are merged into the handle's pipe; stdin is a pipe the
// handle keeps open so ssh does not see EOF. The remote pty's "\r\n" line
// endings are normalized when the output is polled.
func (e *Executor) Start(ctx context.Context, text string, opts StartOptions) (*process.Handle, error) {
	args := e.BuildArgs(process.ModeBackground, text, opts.Login)
	h, err := e.Runner.Start(ctx, process.Argv(args...), process.Options{
		Check:     process.Bool(false),
		Pipe:      true,
		StdinPipe: true,
		Quiet:     opts.Quiet,
		TTY:       true,
	})
	if err != nil {
		return nil, err
	}
	e.logger().Info("remote_process_started", "host", e.Target.Host, "pid", h.PID())
	return h, nil
}

// Interactive runs text in a login, interactive bash with a pty so remote
// prompts reach the operator. It blocks for the whole session and restores
// the local terminal afterwards.
func (e *Executor) Interactive(ctx context.Context, text string, opts InteractiveOptions) error {
	if opts.Capture {
		return &process.InvalidConfigurationError{Reason: "an interactive session cannot capture output"}
	}
	if opts.Background {
		return &process.InvalidConfigurationError{Reason: "an interactive session cannot run in the background"}
	}
	check := true
	if opts.Check != nil {
		check = *opts.Check
	}

	guard, err := terminal.Save(e.TTY)
	if err != nil {
		return err
	}
	defer func() {
		if err := guard.Restore(); err != nil {
			e.logger().Warn("terminal_restore_failed", "error", err)
		}
	}()

	args := e.BuildArgs(process.ModeInteractive, text, true)
	res, err := e.Runner.Run(ctx, process.Argv(args...), process.Options{
		Terminal: true,
		Check:    process.Bool(false),
	})
	if err != nil {
		return err
	}

	if check && res.Code != 0 {
		return &RemoteCommandFailedError{Host: e.Target.Host, Code: res.Code}
	}
	return nil
}

func (e *Executor) sshPath() string {
	if e.SSHPath == "" {
		return DefaultSSHPath
	}
	return e.SSHPath
}

func (e *Executor) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
