package config

import (
	"github.com/spf13/pflag"
)

// Overrides holds command-line settings that take precedence over the
// session file. Only flags the operator actually set are applied.
type Overrides struct {
	fs     *pflag.FlagSet
	values Config
}

// BindFlags registers the session flags on fs.
func BindFlags(fs *pflag.FlagSet) *Overrides {
	d := DefaultConfig()
	o := &Overrides{fs: fs}
	v := &o.values

	// Session
	fs.StringVar(&v.ScratchDir, "scratch-dir", d.ScratchDir, "Directory for session files and the lock")
	fs.DurationVar(&v.PollInterval, "poll-interval", d.PollInterval, "Sleep between output polls")
	fs.DurationVar(&v.Duration, "duration", d.Duration, "Run duration once processes are ready (0 = until interrupted)")
	fs.DurationVar(&v.KillAfter, "kill-after", d.KillAfter, "Grace period before SIGKILL during teardown (0 = wait)")
	fs.StringVar(&v.LockFile, "lock-file", d.LockFile, "Session lock file (default <scratch-dir>/procctl.lock)")

	// Transport
	fs.StringVar(&v.SSHPath, "ssh", d.SSHPath, "Path to the ssh binary")
	fs.StringArrayVar(&v.SSHOptions, "ssh-option", nil, "Extra ssh option (can repeat)")

	// Observability
	fs.StringVar(&v.MetricsAddr, "metrics", d.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	fs.StringVar(&v.MetricsSnapshot, "metrics-snapshot", d.MetricsSnapshot, "Write a metrics snapshot to this file at exit")
	fs.BoolVarP(&v.Verbose, "verbose", "v", d.Verbose, "Verbose logging")
	fs.StringVar(&v.LogFormat, "log-format", d.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&v.LogLevel, "log-level", d.LogLevel, "Log level: debug, info, warn, error")

	// Diagnostics
	fs.BoolVar(&v.SkipPreflight, "skip-preflight", d.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&v.NoSummary, "no-summary", d.NoSummary, "Do not print the exit summary")

	return o
}

// Apply copies every flag the operator set onto cfg.
func (o *Overrides) Apply(cfg *Config) {
	v := &o.values
	set := map[string]func(){
		"scratch-dir":      func() { cfg.ScratchDir = v.ScratchDir },
		"poll-interval":    func() { cfg.PollInterval = v.PollInterval },
		"duration":         func() { cfg.Duration = v.Duration },
		"kill-after":       func() { cfg.KillAfter = v.KillAfter },
		"lock-file":        func() { cfg.LockFile = v.LockFile },
		"ssh":              func() { cfg.SSHPath = v.SSHPath },
		"ssh-option":       func() { cfg.SSHOptions = append(cfg.SSHOptions, v.SSHOptions...) },
		"metrics":          func() { cfg.MetricsAddr = v.MetricsAddr },
		"metrics-snapshot": func() { cfg.MetricsSnapshot = v.MetricsSnapshot },
		"verbose":          func() { cfg.Verbose = v.Verbose },
		"log-format":       func() { cfg.LogFormat = v.LogFormat },
		"log-level":        func() { cfg.LogLevel = v.LogLevel },
		"skip-preflight":   func() { cfg.SkipPreflight = v.SkipPreflight },
		"no-summary":       func() { cfg.NoSummary = v.NoSummary },
	}
	for name, apply := range set {
		if o.fs.Changed(name) {
			apply()
		}
	}
}

// Load builds the effective configuration: defaults, then the session file
// at path (if any), then flag overrides, then environment defaults.
func Load(path string, o *Overrides) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if o != nil {
		o.Apply(cfg)
	}
	ApplyEnvironment(cfg)
	return cfg, nil
}
