package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the session file's key mapping.
type fileConfig struct {
	ScratchDir      string            `toml:"scratch_dir"`
	PollInterval    string            `toml:"poll_interval"`
	Duration        string            `toml:"duration"`
	KillAfter       string            `toml:"kill_after"`
	LockFile        string            `toml:"lock_file"`
	SSHPath         string            `toml:"ssh_path"`
	SSHOptions      []string          `toml:"ssh_options"`
	MetricsAddr     string            `toml:"metrics_addr"`
	MetricsSnapshot string            `toml:"metrics_snapshot"`
	LogFormat       string            `toml:"log_format"`
	LogLevel        string            `toml:"log_level"`
	Targets         map[string]Target `toml:"targets"`
	Processes       []fileProcess     `toml:"process"`
	Setup           []fileStep        `toml:"setup"`
	After           []fileStep        `toml:"after"`
}

type fileProcess struct {
	Name         string `toml:"name"`
	Target       string `toml:"target"`
	Command      string `toml:"command"`
	Login        bool   `toml:"login"`
	ReadyMarker  string `toml:"ready_marker"`
	ReadyTimeout string `toml:"ready_timeout"`
	RequireAlive *bool  `toml:"require_alive"`
}

type fileStep struct {
	Target       string `toml:"target"`
	Command      string `toml:"command"`
	Login        bool   `toml:"login"`
	Interactive  bool   `toml:"interactive"`
	Capture      bool   `toml:"capture"`
	Expect       string `toml:"expect"`
	AllowFailure bool   `toml:"allow_failure"`
}

// LoadFile overlays the TOML session file at path onto cfg. Keys that do not
// map to a known setting are rejected.
func LoadFile(path string, cfg *Config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load session config: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("load session config: unknown keys: %s", strings.Join(keys, ", "))
	}

	var errs []error
	duration := func(key, value string, dst *time.Duration) {
		if !meta.IsDefined(key) {
			return
		}
		d, err := parseDuration(key, value)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*dst = d
	}

	if meta.IsDefined("scratch_dir") {
		cfg.ScratchDir = strings.TrimSpace(raw.ScratchDir)
	}
	duration("poll_interval", raw.PollInterval, &cfg.PollInterval)
	duration("duration", raw.Duration, &cfg.Duration)
	duration("kill_after", raw.KillAfter, &cfg.KillAfter)
	if meta.IsDefined("lock_file") {
		cfg.LockFile = strings.TrimSpace(raw.LockFile)
	}
	if meta.IsDefined("ssh_path") {
		cfg.SSHPath = strings.TrimSpace(raw.SSHPath)
	}
	if meta.IsDefined("ssh_options") {
		cfg.SSHOptions = raw.SSHOptions
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_snapshot") {
		cfg.MetricsSnapshot = strings.TrimSpace(raw.MetricsSnapshot)
	}
	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if cfg.Targets == nil {
		cfg.Targets = map[string]Target{}
	}
	for name, t := range raw.Targets {
		cfg.Targets[name] = Target{User: strings.TrimSpace(t.User), Host: strings.TrimSpace(t.Host)}
	}

	for i, p := range raw.Processes {
		spec := ProcessSpec{
			Name:         strings.TrimSpace(p.Name),
			Target:       strings.TrimSpace(p.Target),
			Command:      p.Command,
			Login:        p.Login,
			ReadyMarker:  p.ReadyMarker,
			RequireAlive: true,
		}
		if p.RequireAlive != nil {
			spec.RequireAlive = *p.RequireAlive
		}
		if p.ReadyTimeout != "" {
			d, err := parseDuration(fmt.Sprintf("process[%d].ready_timeout", i), p.ReadyTimeout)
			if err != nil {
				errs = append(errs, err)
			}
			spec.ReadyTimeout = d
		}
		cfg.Processes = append(cfg.Processes, spec)
	}

	cfg.Setup = append(cfg.Setup, steps(raw.Setup)...)
	cfg.After = append(cfg.After, steps(raw.After)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func steps(raw []fileStep) []StepSpec {
	out := make([]StepSpec, 0, len(raw))
	for _, s := range raw {
		out = append(out, StepSpec{
			Target:       strings.TrimSpace(s.Target),
			Command:      s.Command,
			Login:        s.Login,
			Interactive:  s.Interactive,
			Capture:      s.Capture,
			Expect:       s.Expect,
			AllowFailure: s.AllowFailure,
		})
	}
	return out
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)}
	}
	return d, nil
}

// ApplyEnvironment fills remote users left empty from $USER.
func ApplyEnvironment(cfg *Config) {
	user := os.Getenv("USER")
	for name, t := range cfg.Targets {
		if t.User == "" {
			t.User = user
			cfg.Targets[name] = t
		}
	}
}
