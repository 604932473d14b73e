// Package config provides configuration management for procctl sessions.
package config

import "time"

// Target is a named remote host.
type Target struct {
	User string `toml:"user"`
	Host string `toml:"host"`
}

// ProcessSpec describes one named background process.
type ProcessSpec struct {
	Name string

	// Target names an entry in Config.Targets; empty runs locally.
	Target  string
	Command string
	Login   bool

	// ReadyMarker gates the session until it appears in the output.
	ReadyMarker  string
	ReadyTimeout time.Duration

	// RequireAlive fails the session if the process exits non-zero.
	RequireAlive bool
}

// StepSpec describes one foreground command run before or after the
// background processes.
type StepSpec struct {
	Target  string
	Command string
	Login   bool

	// Interactive runs the step with a pty so remote prompts are visible.
	Interactive bool

	// Capture returns the output instead of streaming it.
	Capture bool

	// Expect, when set, must appear in the captured output.
	Expect string

	// AllowFailure ignores a non-zero exit.
	AllowFailure bool
}

// Config holds all configuration options for a session.
type Config struct {
	// Session
	ScratchDir   string        `json:"scratch_dir"`
	PollInterval time.Duration `json:"poll_interval"`
	Duration     time.Duration `json:"duration"` // 0 = until interrupted
	KillAfter    time.Duration `json:"kill_after"`
	LockFile     string        `json:"lock_file"`

	Targets   map[string]Target `json:"targets"`
	Processes []ProcessSpec     `json:"processes"`
	Setup     []StepSpec        `json:"setup"`
	After     []StepSpec        `json:"after"`

	// Transport
	SSHPath    string   `json:"ssh_path"`
	SSHOptions []string `json:"ssh_options"`

	// Observability
	MetricsAddr     string `json:"metrics_addr"` // empty = disabled
	MetricsSnapshot string `json:"metrics_snapshot"`
	Verbose         bool   `json:"verbose"`
	LogFormat       string `json:"log_format"` // json, text
	LogLevel        string `json:"log_level"`

	// Diagnostics
	SkipPreflight bool `json:"skip_preflight"`
	NoSummary     bool `json:"no_summary"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Session
		ScratchDir:   "/tmp/procctl",
		PollInterval: 100 * time.Millisecond,
		Duration:     0,
		KillAfter:    5 * time.Second,

		Targets: map[string]Target{},

		// Transport
		SSHPath: "ssh",

		// Observability
		LogFormat: "text",
		LogLevel:  "info",
	}
}

// LockPath returns the session lock file, defaulting to one inside the
// scratch directory.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return c.ScratchDir + "/procctl.lock"
}
