// Package terminal saves and restores the operator's tty around sessions
// that allocate a pseudo-terminal on the remote side.
package terminal

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

// IsTerminal returns true if f is connected to a terminal (TTY).
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used on stdout.
// Respects NO_COLOR, CLICOLOR, and CLICOLOR_FORCE.
func ShouldUseColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}
	return IsTerminal(os.Stdout)
}

// Guard holds a terminal state captured by Save.
// A Guard for a non-terminal is valid and restores nothing.
type Guard struct {
	fd    int
	state *term.State

	once sync.Once
	err  error
}

// Save captures the current state of f if it is a terminal.
func Save(f *os.File) (*Guard, error) {
	if !IsTerminal(f) {
		return &Guard{fd: -1}, nil
	}
	fd := int(f.Fd())
	state, err := term.GetState(fd)
	if err != nil {
		return nil, fmt.Errorf("save terminal state: %w", err)
	}
	return &Guard{fd: fd, state: state}, nil
}

// Active reports whether the guard will restore anything.
func (g *Guard) Active() bool {
	return g != nil && g.state != nil
}

// Restore puts the terminal back into the saved state. Safe to call
// more than once; only the first call touches the terminal.
func (g *Guard) Restore() error {
	if !g.Active() {
		return nil
	}
	g.once.Do(func() {
		if err := term.Restore(g.fd, g.state); err != nil {
			g.err = fmt.Errorf("restore terminal state: %w", err)
		}
	})
	return g.err
}
