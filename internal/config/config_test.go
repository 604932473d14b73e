package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

const sampleSession = `
scratch_dir = "/tmp/rig"
poll_interval = "50ms"
duration = "10s"
kill_after = "3s"
metrics_addr = "127.0.0.1:17092"

[targets.control]
user = "ops"
host = "control.local"

[targets.robot]
host = "robot.local"

[[process]]
name = "tshark"
target = "control"
command = "sudo tshark -i eth0 -f udp -w /tmp/x.pcap"
ready_marker = "Capturing"
ready_timeout = "30s"

[[process]]
name = "client"
command = "./client --rate 100"
require_alive = false

[[setup]]
target = "control"
command = "uname -a"
capture = true
expect = " PREEMPT_RT "

[[after]]
target = "control"
command = "killall -v tshark || :"
allow_failure = true
`

func writeSession(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval)
	}
	if cfg.KillAfter != 5*time.Second {
		t.Errorf("KillAfter = %v, want 5s", cfg.KillAfter)
	}
	if cfg.SSHPath != "ssh" {
		t.Errorf("SSHPath = %q, want ssh", cfg.SSHPath)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(DefaultConfig()) = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	cfg := DefaultConfig()
	if err := LoadFile(writeSession(t, sampleSession), cfg); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.ScratchDir != "/tmp/rig" || cfg.PollInterval != 50*time.Millisecond ||
		cfg.Duration != 10*time.Second || cfg.KillAfter != 3*time.Second {
		t.Errorf("session settings = %+v", cfg)
	}
	if cfg.MetricsAddr != "127.0.0.1:17092" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.Targets["control"] != (Target{User: "ops", Host: "control.local"}) {
		t.Errorf("control target = %+v", cfg.Targets["control"])
	}

	if len(cfg.Processes) != 2 {
		t.Fatalf("Processes = %d, want 2", len(cfg.Processes))
	}
	ts := cfg.Processes[0]
	if ts.Name != "tshark" || ts.Target != "control" || ts.ReadyMarker != "Capturing" ||
		ts.ReadyTimeout != 30*time.Second || !ts.RequireAlive {
		t.Errorf("tshark = %+v", ts)
	}
	if cfg.Processes[1].RequireAlive {
		t.Error("client require_alive = false not honored")
	}

	if len(cfg.Setup) != 1 || cfg.Setup[0].Expect != " PREEMPT_RT " || !cfg.Setup[0].Capture {
		t.Errorf("Setup = %+v", cfg.Setup)
	}
	if len(cfg.After) != 1 || !cfg.After[0].AllowFailure {
		t.Errorf("After = %+v", cfg.After)
	}

	// Unset keys keep their defaults.
	if cfg.LogFormat != "text" || cfg.SSHPath != "ssh" {
		t.Errorf("defaults overwritten: log_format=%q ssh_path=%q", cfg.LogFormat, cfg.SSHPath)
	}

	ApplyEnvironment(cfg)
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadFile_UnknownKeys(t *testing.T) {
	path := writeSession(t, "scratch_dri = \"/tmp\"\n[[process]]\nname = \"a\"\ncommand = \"true\"\nreadymarker = \"x\"\n")

	err := LoadFile(path, DefaultConfig())
	if err == nil {
		t.Fatal("LoadFile() should reject unknown keys")
	}
	for _, key := range []string{"scratch_dri", "readymarker"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %q", err, key)
		}
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := writeSession(t, "poll_interval = \"fast\"\n")

	err := LoadFile(path, DefaultConfig())
	var ve ValidationError
	if !errors.As(err, &ve) || ve.Field != "poll_interval" {
		t.Fatalf("LoadFile() error = %v, want ValidationError on poll_interval", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"), DefaultConfig()); err == nil {
		t.Error("LoadFile() on a missing file should fail")
	}
}

func TestApplyEnvironment(t *testing.T) {
	t.Setenv("USER", "carol")
	cfg := DefaultConfig()
	cfg.Targets["a"] = Target{Host: "a.local"}
	cfg.Targets["b"] = Target{User: "dave", Host: "b.local"}

	ApplyEnvironment(cfg)

	if cfg.Targets["a"].User != "carol" {
		t.Errorf("a user = %q, want carol", cfg.Targets["a"].User)
	}
	if cfg.Targets["b"].User != "dave" {
		t.Errorf("b user = %q, want dave", cfg.Targets["b"].User)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"negative duration", func(c *Config) { c.Duration = -time.Second }, "duration"},
		{"negative kill_after", func(c *Config) { c.KillAfter = -1 }, "kill_after"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "nope" }, "metrics_addr"},
		{"empty ssh", func(c *Config) { c.SSHPath = " " }, "ssh_path"},
		{"target without host", func(c *Config) { c.Targets["x"] = Target{User: "u"} }, "targets.x.host"},
		{
			"duplicate process",
			func(c *Config) {
				c.Processes = []ProcessSpec{{Name: "a", Command: "true"}, {Name: "a", Command: "true"}}
			},
			"process[1].name",
		},
		{"empty process name", func(c *Config) { c.Processes = []ProcessSpec{{Command: "true"}} }, "process[0].name"},
		{"empty command", func(c *Config) { c.Processes = []ProcessSpec{{Name: "a"}} }, "process[0].command"},
		{
			"unknown target",
			func(c *Config) { c.Processes = []ProcessSpec{{Name: "a", Command: "true", Target: "ghost"}} },
			"process[0].target",
		},
		{
			"ready timeout without marker",
			func(c *Config) {
				c.Processes = []ProcessSpec{{Name: "a", Command: "true", ReadyTimeout: time.Second}}
			},
			"process[0].ready_timeout",
		},
		{
			"expect without capture",
			func(c *Config) { c.Setup = []StepSpec{{Command: "uname", Expect: "RT"}} },
			"setup[0].expect",
		},
		{
			"interactive capture",
			func(c *Config) {
				c.Targets["r"] = Target{User: "u", Host: "h"}
				c.After = []StepSpec{{Command: "sudo -v", Target: "r", Interactive: true, Capture: true}}
			},
			"after[0].capture",
		},
		{
			"interactive local",
			func(c *Config) { c.Setup = []StepSpec{{Command: "sudo -v", Interactive: true}} },
			"setup[0].interactive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.field+":") {
				t.Errorf("Validate() = %v, want error on %s", err, tt.field)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	cfg.LogFormat = "xml"

	err := Validate(cfg)
	if !strings.Contains(err.Error(), "poll_interval") || !strings.Contains(err.Error(), "log_format") {
		t.Errorf("Validate() = %v, want both fields", err)
	}
}

func TestOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := BindFlags(fs)
	if err := fs.Parse([]string{"--duration", "30s", "--ssh-option", "-p", "--ssh-option", "2222", "-v"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.ScratchDir = "/from/file"
	cfg.Duration = 5 * time.Second
	o.Apply(cfg)

	if cfg.Duration != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", cfg.Duration)
	}
	if !cfg.Verbose {
		t.Error("Verbose not applied")
	}
	if strings.Join(cfg.SSHOptions, " ") != "-p 2222" {
		t.Errorf("SSHOptions = %v", cfg.SSHOptions)
	}
	if cfg.ScratchDir != "/from/file" {
		t.Errorf("unset flag overwrote ScratchDir: %q", cfg.ScratchDir)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("USER", "erin")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := BindFlags(fs)
	if err := fs.Parse([]string{"--kill-after", "1s"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(writeSession(t, sampleSession), o)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.KillAfter != time.Second {
		t.Errorf("KillAfter = %v, flag should win over file", cfg.KillAfter)
	}
	if cfg.Targets["robot"].User != "erin" {
		t.Errorf("robot user = %q, want $USER", cfg.Targets["robot"].User)
	}
}

func TestLockPath(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LockPath() != "/tmp/procctl/procctl.lock" {
		t.Errorf("LockPath() = %q", cfg.LockPath())
	}
	cfg.LockFile = "/run/x.lock"
	if cfg.LockPath() != "/run/x.lock" {
		t.Errorf("LockPath() = %q", cfg.LockPath())
	}
}
