// Package shell builds shell-safe command lines.
package shell

import (
	"strings"

	"github.com/alessio/shellescape"
)

// Quote returns s quoted for a POSIX shell. Strings made only of safe
// characters are returned unchanged; everything else is wrapped in single
// quotes with embedded single quotes written as '"'"'.
func Quote(s string) string {
	return shellescape.Quote(s)
}

// Join quotes each argument and joins them with spaces. The result, when
// evaluated by a POSIX shell, yields exactly args.
func Join(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// BashFlags selects how the bash wrapper initializes the remote shell.
type BashFlags struct {
	// Login sources the user's profile (bash --login).
	Login bool

	// Interactive makes bash behave as an interactive shell (bash -i).
	Interactive bool
}

// BashCommand wraps command as a single quoted string that runs it through
// bash -c, e.g. `bash --login -i -c 'echo hi'`.
func BashCommand(command string, flags BashFlags) string {
	args := []string{"bash"}
	if flags.Login {
		args = append(args, "--login")
	}
	if flags.Interactive {
		args = append(args, "-i")
	}
	args = append(args, "-c", command)
	return Join(args)
}
