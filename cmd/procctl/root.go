package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/teardown"
)

// exitInterrupted is the conventional status for a run ended by SIGINT.
const exitInterrupted = 130

// app carries state shared by every subcommand.
type app struct {
	configPath string
	overrides  *config.Overrides
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "procctl",
		Short: "Run and supervise local and remote processes as one session",
		Long: `procctl runs a session described by a TOML file: setup commands,
named background processes (locally or over ssh) that are polled for output
and torn down together, and cleanup commands that run however the session
ends.

Ctrl+C stops the session. Teardown is never abandoned half way: a second
Ctrl+C restarts it.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "Session file (TOML)")
	a.overrides = config.BindFlags(pf)

	root.AddCommand(
		newRunCmd(a),
		newExecCmd(a),
		newCheckCmd(a),
		newVersionCmd(),
	)
	return root
}

// load resolves the configuration and installs the default logger, which
// writes to logOut.
func (a *app) load(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(a.configPath, a.overrides)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("configuration error:\n%w", err)
	}

	logger := logging.New(logging.Options{
		Format:  cfg.LogFormat,
		Level:   cfg.LogLevel,
		Verbose: cfg.Verbose,
		Output:  logOut,
	})
	logging.SetDefault(logger)
	return cfg, logger, nil
}

// execute runs the CLI and maps the outcome to a process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, teardown.ErrInterrupted):
		fmt.Fprintln(stderr, "Interrupted.")
		return exitInterrupted
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}
