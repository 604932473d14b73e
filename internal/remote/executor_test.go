package remote

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-procctl/internal/process"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSSH writes an ssh stand-in that records its arguments and runs the
// final one (the bash wrapper) locally.
func fakeSSH(t *testing.T) (path, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "ssh")
	argsFile = filepath.Join(dir, "args")
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + argsFile + `"
for a in "$@"; do last="$a"; done
exec sh -c "$last"
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path, argsFile
}

func newTestExecutor(t *testing.T) (*Executor, *bytes.Buffer, *bytes.Buffer, string) {
	t.Helper()
	sshPath, argsFile := fakeSSH(t)
	var diag, out bytes.Buffer
	runner := &process.Runner{
		Diag:   &diag,
		Stdout: &out,
		Stderr: &out,
		Logger: newTestLogger(),
	}
	e := New(runner, Target{User: "ops", Host: "rig"}, newTestLogger())
	e.SSHPath = sshPath
	e.Out = &out
	e.TTY = nil
	return e, &diag, &out, argsFile
}

func recordedArgs(t *testing.T, argsFile string) []string {
	t.Helper()
	data, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

// =============================================================================
// Target
// =============================================================================

func TestNewTarget(t *testing.T) {
	t.Setenv("USER", "alice")

	tg, err := NewTarget("", "host.local")
	if err != nil {
		t.Fatalf("NewTarget() error = %v", err)
	}
	if tg.String() != "alice@host.local" {
		t.Errorf("String() = %q", tg.String())
	}

	tg, _ = NewTarget("bob", "h")
	if tg.String() != "bob@h" {
		t.Errorf("String() = %q", tg.String())
	}

	if _, err := NewTarget("bob", "  "); err == nil {
		t.Error("empty host should fail")
	}
}

// =============================================================================
// BuildArgs
// =============================================================================

func TestBuildArgs(t *testing.T) {
	e := New(nil, Target{User: "user", Host: "host"}, newTestLogger())

	tests := []struct {
		name  string
		mode  process.Mode
		login bool
		want  []string
	}{
		{
			name: "foreground",
			mode: process.ModeForeground,
			want: []string{"ssh", "-A", "-o", "BatchMode=yes", "user@host", "bash -c 'echo hi'"},
		},
		{
			name:  "foreground login",
			mode:  process.ModeForeground,
			login: true,
			want:  []string{"ssh", "-A", "-o", "BatchMode=yes", "user@host", "bash --login -c 'echo hi'"},
		},
		{
			name: "background",
			mode: process.ModeBackground,
			want: []string{"ssh", "-tt", "-A", "-o", "BatchMode=yes", "user@host", "bash -c 'echo hi'"},
		},
		{
			name: "interactive always logs in",
			mode: process.ModeInteractive,
			want: []string{"ssh", "-tt", "-A", "-o", "BatchMode=yes", "user@host", "bash --login -i -c 'echo hi'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.BuildArgs(tt.mode, "echo hi", tt.login)
			if strings.Join(got, "\x00") != strings.Join(tt.want, "\x00") {
				t.Errorf("BuildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildArgs_ExtraOptions(t *testing.T) {
	e := New(nil, Target{User: "u", Host: "h"}, newTestLogger())
	e.ExtraOptions = []string{"-p", "2222"}

	got := e.BuildArgs(process.ModeForeground, "true", false)
	want := []string{"ssh", "-A", "-o", "BatchMode=yes", "-p", "2222", "u@h", "bash -c true"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("BuildArgs() = %q, want %q", got, want)
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_CaptureStripsOneNewline(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)

	got, err := e.Run(context.Background(), `printf 'a\n\n'`, RunOptions{Capture: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "a\n" {
		t.Errorf("Run() = %q, want %q", got, "a\n")
	}
}

func TestRun_PrintsTaggedLines(t *testing.T) {
	e, _, out, _ := newTestExecutor(t)

	got, err := e.Run(context.Background(), `echo one; echo two`, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != "" {
		t.Errorf("Run() = %q, want empty", got)
	}
	if out.String() != "[rig] one\n[rig] two\n" {
		t.Errorf("printed %q", out.String())
	}
}

func TestRun_EchoesSSHCommand(t *testing.T) {
	e, diag, _, argsFile := newTestExecutor(t)

	if _, err := e.Run(context.Background(), "echo hi", RunOptions{Capture: true}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "+ " + e.SSHPath + " -A -o BatchMode=yes ops@rig 'bash -c '\"'\"'echo hi'\"'\"''\n"
	if diag.String() != want {
		t.Errorf("diag = %q, want %q", diag.String(), want)
	}

	args := recordedArgs(t, argsFile)
	if args[len(args)-1] != "bash -c 'echo hi'" {
		t.Errorf("last ssh arg = %q", args[len(args)-1])
	}
}

func TestRun_FailureIsRemoteCommandFailed(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)

	out, err := e.Run(context.Background(), "echo broken; exit 3", RunOptions{Capture: true})

	var failed *RemoteCommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Run() error = %v, want *RemoteCommandFailedError", err)
	}
	if failed.Host != "rig" || failed.Code != 3 || failed.Output != "broken" {
		t.Errorf("failed = %+v", failed)
	}
	if out != "broken" {
		t.Errorf("output = %q", out)
	}
}

func TestRun_CheckDisabled(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)

	out, err := e.Run(context.Background(), "echo meh; exit 1", RunOptions{Capture: true, Check: process.Bool(false)})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out != "meh" {
		t.Errorf("output = %q", out)
	}
}

// =============================================================================
// Start
// =============================================================================

func TestStart_BackgroundWithPty(t *testing.T) {
	e, _, _, argsFile := newTestExecutor(t)

	h, err := e.Start(context.Background(), "echo started; sleep 5", StartOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		_ = h.Signal(syscall.SIGKILL)
		_ = h.Close()
	}()

	if !h.Poll().Running() {
		t.Error("background process should be running")
	}
	if h.Stdin() == nil {
		t.Error("background remote process should hold a stdin pipe")
	}
	if !h.TTY() {
		t.Error("background remote process should be marked as pty-backed")
	}

	var got strings.Builder
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(got.String(), "started") && time.Now().Before(deadline) {
		data, err := h.Drain()
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		got.Write(data)
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(got.String(), "started") {
		t.Errorf("output = %q", got.String())
	}

	args := recordedArgs(t, argsFile)
	if args[0] != "-tt" {
		t.Errorf("first ssh arg = %q, want -tt", args[0])
	}
}

// =============================================================================
// Interactive
// =============================================================================

func TestInteractive_RejectsCaptureAndBackground(t *testing.T) {
	e, diag, _, _ := newTestExecutor(t)

	for _, opts := range []InteractiveOptions{{Capture: true}, {Background: true}, {Capture: true, Background: true}} {
		err := e.Interactive(context.Background(), "true", opts)
		var invalid *process.InvalidConfigurationError
		if !errors.As(err, &invalid) {
			t.Errorf("Interactive(%+v) error = %v, want *InvalidConfigurationError", opts, err)
		}
	}
	if diag.Len() != 0 {
		t.Errorf("nothing should run, diag = %q", diag.String())
	}
}

func TestInteractive_RunsLoginShell(t *testing.T) {
	e, _, out, argsFile := newTestExecutor(t)

	if err := e.Interactive(context.Background(), "echo session", InteractiveOptions{}); err != nil {
		t.Fatalf("Interactive() error = %v", err)
	}
	if !strings.Contains(out.String(), "session") {
		t.Errorf("output = %q", out.String())
	}

	args := recordedArgs(t, argsFile)
	if args[len(args)-1] != "bash --login -i -c 'echo session'" {
		t.Errorf("wrapper = %q", args[len(args)-1])
	}
}

func TestInteractive_Failure(t *testing.T) {
	e, _, _, _ := newTestExecutor(t)

	err := e.Interactive(context.Background(), "exit 4", InteractiveOptions{})
	var failed *RemoteCommandFailedError
	if !errors.As(err, &failed) || failed.Code != 4 {
		t.Fatalf("Interactive() error = %v, want RemoteCommandFailed(4)", err)
	}

	if err := e.Interactive(context.Background(), "exit 4", InteractiveOptions{Check: process.Bool(false)}); err != nil {
		t.Errorf("unchecked Interactive() error = %v", err)
	}
}
