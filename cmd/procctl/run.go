package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/preflight"
	"github.com/randomizedcoder/go-procctl/internal/session"
	"github.com/randomizedcoder/go-procctl/internal/terminal"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the session described by --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.configPath == "" {
				return errors.New("run requires --config")
			}
			cfg, logger, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

			if !cfg.SkipPreflight {
				if err := runPreflight(stderr, cfg); err != nil {
					return err
				}
			}

			s, err := session.New(cfg, session.Options{
				Logger:  logger,
				Version: version,
				Stdin:   cmd.InOrStdin(),
				Stdout:  stdout,
				Stderr:  stderr,
			})
			if err != nil {
				return err
			}

			printBanner(stderr, cfg, s.RunID())

			runErr := s.Run(cmd.Context())
			if !cfg.NoSummary {
				s.PrintSummary(stderr, runErr, terminal.ShouldUseColor())
			}
			return runErr
		},
	}
}

// runPreflight prints the system checks and fails on any required one.
func runPreflight(w io.Writer, cfg *config.Config) error {
	result := preflight.RunAll(preflight.Requirements{
		Processes: len(cfg.Processes),
		SSHPath:   cfg.SSHPath,
		Remote:    len(cfg.Targets) > 0,
	})
	preflight.PrintResults(w, result)
	if !result.Passed {
		return errors.New("preflight checks failed (use --skip-preflight to bypass)")
	}
	return nil
}

func printBanner(w io.Writer, cfg *config.Config, runID string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                            procctl                                ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Run ID:      %s\n", runID)
	fmt.Fprintf(w, "  Processes:   %d\n", len(cfg.Processes))
	fmt.Fprintf(w, "  Targets:     %d\n", len(cfg.Targets))
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", cfg.Duration)
	} else {
		fmt.Fprintln(w, "  Duration:    until interrupted")
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}
