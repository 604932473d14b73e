package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/randomizedcoder/go-procctl/internal/config"
	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/process"
	"github.com/randomizedcoder/go-procctl/internal/remote"
)

// runSteps runs foreground steps in order, stopping at the first failure.
func (s *Session) runSteps(ctx context.Context, section string, steps []config.StepSpec) error {
	for i, st := range steps {
		name := fmt.Sprintf("%s[%d]", section, i)
		if err := s.runStep(ctx, name, st); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// runStep runs one foreground step and checks its expected output.
func (s *Session) runStep(ctx context.Context, name string, st config.StepSpec) error {
	check := process.Bool(!st.AllowFailure)
	tag := LocalTag

	var (
		out string
		err error
	)
	switch {
	case st.Target == "":
		out, err = s.runLocal(ctx, st, check)
	case st.Interactive:
		err = s.executors[st.Target].Interactive(ctx, st.Command, remote.InteractiveOptions{Check: check})
	default:
		e := s.executors[st.Target]
		tag = e.Target.Host
		out, err = e.Run(ctx, st.Command, remote.RunOptions{
			Capture: st.Capture,
			Check:   check,
			Login:   st.Login,
		})
	}
	if err != nil {
		return err
	}

	if st.Capture && out != "" {
		if perr := logging.NewTaggedWriter(s.stdout).Print(tag, out); perr != nil {
			s.logger.Warn("echo_failed", "step", name, "error", perr)
		}
	}

	if st.Expect != "" && !strings.Contains(out, st.Expect) {
		return &ExpectationError{Step: name, Expect: st.Expect, Output: out}
	}
	s.logger.Debug("step_finished", "step", name, "target", st.Target)
	return nil
}

func (s *Session) runLocal(ctx context.Context, st config.StepSpec, check *bool) (string, error) {
	res, err := s.runner.Run(ctx, process.ShellCommand(st.Command), process.Options{
		Capture: st.Capture,
		Check:   check,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(res.Output, "\n"), nil
}
