package process

import (
	"context"
	"os/exec"
	"strings"

	"github.com/randomizedcoder/go-procctl/internal/shell"
)

// Command is either an argument vector or a pre-quoted shell string.
// Exactly one of Args and Shell must be set.
type Command struct {
	Args  []string
	Shell string
}

// Argv returns a Command that runs args directly.
func Argv(args ...string) Command {
	return Command{Args: args}
}

// ShellCommand returns a Command that runs s through /bin/sh -c.
func ShellCommand(s string) Command {
	return Command{Shell: s}
}

// IsShell reports whether the command is a shell string.
func (c Command) IsShell() bool {
	return c.Shell != ""
}

// String returns the command exactly as it will run: shell strings verbatim,
// argument vectors joined with shell quoting.
func (c Command) String() string {
	if c.IsShell() {
		return c.Shell
	}
	return shell.Join(c.Args)
}

func (c Command) validate() error {
	switch {
	case c.IsShell() && len(c.Args) > 0:
		return invalidf("command has both argv and shell string")
	case !c.IsShell() && len(c.Args) == 0:
		return invalidf("command is empty")
	case !c.IsShell() && strings.TrimSpace(c.Args[0]) == "":
		return invalidf("command has an empty program name")
	}
	return nil
}

// cmd builds an unstarted exec.Cmd for c bound to ctx.
func (c Command) cmd(ctx context.Context) *exec.Cmd {
	if c.IsShell() {
		return exec.CommandContext(ctx, "/bin/sh", "-c", c.Shell)
	}
	return exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
}
