package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/process"
	"github.com/randomizedcoder/go-procctl/internal/registry"
	"github.com/randomizedcoder/go-procctl/internal/remote"
	"github.com/randomizedcoder/go-procctl/internal/teardown"
)

// execName is the registry name of the process started by exec --background.
const execName = "exec"

type execOptions struct {
	target      string
	host        string
	background  bool
	interactive bool
	capture     bool
	login       bool
	noCheck     bool
	timeout     time.Duration
}

func newExecCmd(a *app) *cobra.Command {
	var o execOptions

	cmd := &cobra.Command{
		Use:   "exec [flags] -- COMMAND...",
		Short: "Run one command locally or on a remote host",
		Long: `Run a single shell command, locally or over ssh with --target/--host.

By default the command runs in the foreground and its exit status is checked.
--background starts it detached, echoes its output as it arrives and tears it
down on Ctrl+C or after --timeout. --interactive attaches the terminal to a
remote login shell.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return runExec(cmd.Context(), cmd, cfg, logger, o, strings.Join(args, " "))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.target, "target", "t", "", "Named target from the session file")
	f.StringVarP(&o.host, "host", "H", "", "Remote host as [user@]host")
	f.BoolVarP(&o.background, "background", "b", false, "Run detached and poll output until it exits")
	f.BoolVarP(&o.interactive, "interactive", "i", false, "Attach the terminal (remote only)")
	f.BoolVar(&o.capture, "capture", false, "Collect the output and print it once the command exits")
	f.BoolVarP(&o.login, "login", "l", false, "Run in a remote login shell")
	f.BoolVar(&o.noCheck, "no-check", false, "Do not fail on a non-zero exit")
	f.DurationVar(&o.timeout, "timeout", 0, "Stop a --background command after this long (0 = until it exits)")

	cmd.MarkFlagsMutuallyExclusive("target", "host")
	cmd.MarkFlagsMutuallyExclusive("background", "interactive", "capture")
	return cmd
}

func runExec(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *slog.Logger, o execOptions, text string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	runner := process.NewRunner(logger)
	runner.Stdin = cmd.InOrStdin()
	runner.Stdout = stdout
	runner.Stderr = stderr
	runner.Diag = stderr

	executor, err := resolveExecutor(cfg, runner, logger, o)
	if err != nil {
		return err
	}
	if executor != nil {
		executor.Out = stdout
	}
	check := process.Bool(!o.noCheck)

	switch {
	case o.background:
		return execBackground(ctx, cfg, runner, executor, logger, stdout, stderr, o, text)

	case o.interactive:
		if executor == nil {
			return &process.InvalidConfigurationError{Reason: "--interactive requires --target or --host"}
		}
		return executor.Interactive(ctx, text, remote.InteractiveOptions{Check: check})

	case executor != nil:
		out, err := executor.Run(ctx, text, remote.RunOptions{Capture: o.capture, Check: check, Login: o.login})
		if o.capture && out != "" {
			fmt.Fprintln(stdout, out)
		}
		return err

	default:
		res, err := runner.Run(ctx, process.ShellCommand(text), process.Options{Capture: o.capture, Check: check})
		if o.capture && res != nil && res.Output != "" {
			fmt.Fprint(stdout, res.Output)
		}
		return err
	}
}

// resolveExecutor returns the executor for --target/--host, or nil for a
// local command.
func resolveExecutor(cfg *config.Config, runner *process.Runner, logger *slog.Logger, o execOptions) (*remote.Executor, error) {
	var (
		target remote.Target
		err    error
	)
	switch {
	case o.target != "":
		t, ok := cfg.Targets[o.target]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", o.target)
		}
		target, err = remote.NewTarget(t.User, t.Host)
	case o.host != "":
		user, host, found := strings.Cut(o.host, "@")
		if !found {
			user, host = "", o.host
		}
		target, err = remote.NewTarget(user, host)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e := remote.New(runner, target, logger)
	e.SSHPath = cfg.SSHPath
	e.ExtraOptions = cfg.SSHOptions
	return e, nil
}

// execBackground starts the command detached and echoes its output until it
// exits, the timeout passes or the operator interrupts.
func execBackground(
	ctx context.Context,
	cfg *config.Config,
	runner *process.Runner,
	executor *remote.Executor,
	logger *slog.Logger,
	stdout, stderr io.Writer,
	o execOptions,
	text string,
) error {
	reg := registry.New()
	poller := registry.NewPoller(reg, stdout, logger)

	scope := teardown.NewScope(logger, cfg.KillAfter)
	scope.Diag = stderr

	return scope.Run(ctx, reg, func(ctx context.Context) error {
		var (
			h   *process.Handle
			err error
		)
		if executor != nil {
			h, err = executor.Start(ctx, text, remote.StartOptions{Login: o.login})
		} else {
			h, err = runner.Start(ctx, process.ShellCommand(text), process.Options{
				Check: process.Bool(false),
				Pipe:  true,
			})
		}
		if err != nil {
			return err
		}
		if err := reg.Add(execName, h); err != nil {
			return err
		}

		if o.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}

		opts := registry.DefaultPollOptions()
		if o.noCheck {
			opts.Tolerate = map[string]bool{execName: true}
		}
		for {
			st, err := poller.Poll(opts)
			if err != nil {
				return err
			}
			if st[execName].Exited {
				logger.Info("exec_finished", "exit_code", st[execName].Code)
				return nil
			}
			if err := sleepCtx(ctx, cfg.PollInterval); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					fmt.Fprintf(stderr, "%s timeout reached after %s\n", logging.Tag(execName), o.timeout)
					return nil
				}
				return err
			}
		}
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
