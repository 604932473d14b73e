package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/process"
	"github.com/randomizedcoder/go-procctl/internal/remote"
	"github.com/randomizedcoder/go-procctl/internal/shell"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the session file and print the commands it would run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := a.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			runner := process.NewRunner(logger)
			if err := printPlan(out, cfg, runner); err != nil {
				return err
			}

			if cfg.SkipPreflight {
				return nil
			}
			fmt.Fprintln(out)
			return runPreflight(out, cfg)
		},
	}
}

// printPlan prints the exact argv of every step and process.
func printPlan(w io.Writer, cfg *config.Config, runner *process.Runner) error {
	executors := make(map[string]*remote.Executor, len(cfg.Targets))
	for name, t := range cfg.Targets {
		target, err := remote.NewTarget(t.User, t.Host)
		if err != nil {
			return fmt.Errorf("target %s: %w", name, err)
		}
		e := remote.New(runner, target, nil)
		e.SSHPath = cfg.SSHPath
		e.ExtraOptions = cfg.SSHOptions
		executors[name] = e
	}

	resolve := func(target, command string, mode process.Mode, login bool) string {
		if target == "" {
			return process.ShellCommand(command).String()
		}
		return shell.Join(executors[target].BuildArgs(mode, command, login))
	}

	section := func(title string, steps []config.StepSpec) {
		if len(steps) == 0 {
			return
		}
		fmt.Fprintf(w, "%s:\n", title)
		for i, st := range steps {
			mode := process.ModeForeground
			if st.Interactive {
				mode = process.ModeInteractive
			}
			fmt.Fprintf(w, "  [%d] %s\n", i, resolve(st.Target, st.Command, mode, st.Login))
		}
	}

	section("Setup", cfg.Setup)
	if len(cfg.Processes) > 0 {
		fmt.Fprintln(w, "Processes:")
		for _, p := range cfg.Processes {
			fmt.Fprintf(w, "  %s: %s\n", p.Name, resolve(p.Target, p.Command, process.ModeBackground, p.Login))
			if p.ReadyMarker != "" {
				fmt.Fprintf(w, "    ready when output contains %q\n", p.ReadyMarker)
			}
		}
	}
	section("After", cfg.After)
	return nil
}
