package teardown

import (
	"context"
	"errors"
	"io"
	"log/slog"
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

func start(t *testing.T, script string) *process.Handle {
	t.Helper()
	r := &process.Runner{Logger: newTestLogger()}
	h, err := r.Start(context.Background(), process.ShellCommand(script),
		process.Options{Pipe: true, StdinPipe: true, Quiet: true})
	if err != nil {
		t.Fatalf("Start(%q) error = %v", script, err)
	}
	t.Cleanup(func() {
		_ = h.Signal(syscall.SIGKILL)
		_ = h.Close()
	})
	return h
}

// startSleep runs sleep directly. A signal sent the instant a shell starts
// can be lost before the shell has exec'd its command.
func startSleep(t *testing.T) *process.Handle {
	t.Helper()
	r := &process.Runner{Logger: newTestLogger()}
	h, err := r.Start(context.Background(), process.Argv("sleep", "5"),
		process.Options{Pipe: true, StdinPipe: true, Quiet: true})
	if err != nil {
		t.Fatalf("Start(sleep) error = %v", err)
	}
	t.Cleanup(func() {
		_ = h.Signal(syscall.SIGKILL)
		_ = h.Close()
	})
	return h
}

// waitOutput drains h until marker has been printed.
func waitOutput(t *testing.T, h *process.Handle, marker string) {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(string(got), marker) {
		if time.Now().After(deadline) {
			t.Fatalf("%q never printed; got %q", marker, got)
		}
		data, err := h.Drain()
		if err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		got = append(got, data...)
		time.Sleep(10 * time.Millisecond)
	}
}

func testOptions() SignalOptions {
	opts := DefaultSignalOptions()
	opts.Logger = newTestLogger()
	return opts
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// SignalAll
// =============================================================================

func TestSignalAll_InterruptsAndReaps(t *testing.T) {
	handles := []*process.Handle{startSleep(t), startSleep(t)}

	if err := SignalAll(withTimeout(t), handles, testOptions()); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}

	for _, h := range handles {
		st := h.Poll()
		if !st.Exited {
			t.Errorf("pid %d still running", h.PID())
		}
		if st.Code != 128+int(syscall.SIGINT) {
			t.Errorf("pid %d code = %d, want %d", h.PID(), st.Code, 128+int(syscall.SIGINT))
		}
		if !h.Closed() {
			t.Errorf("pid %d streams not closed", h.PID())
		}
	}
}

func TestSignalAll_Idempotent(t *testing.T) {
	handles := []*process.Handle{startSleep(t), start(t, "exit 0")}
	ctx := withTimeout(t)

	for i := 0; i < 2; i++ {
		if err := SignalAll(ctx, handles, testOptions()); err != nil {
			t.Fatalf("SignalAll() call %d error = %v", i+1, err)
		}
	}
}

func TestSignalAll_AlreadyExited(t *testing.T) {
	h := start(t, "exit 3")
	if _, err := h.Wait(withTimeout(t)); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if err := SignalAll(withTimeout(t), []*process.Handle{h}, testOptions()); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if h.Poll().Code != 3 {
		t.Errorf("code = %d, want 3", h.Poll().Code)
	}
}

func TestSignalAll_NoBlock(t *testing.T) {
	// Ignores SIGINT, so only a non-blocking call can return promptly.
	h := start(t, "trap '' INT; sleep 5")
	time.Sleep(100 * time.Millisecond)

	opts := testOptions()
	opts.Block = false

	begin := time.Now()
	if err := SignalAll(withTimeout(t), []*process.Handle{h}, opts); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("non-blocking SignalAll took %v", elapsed)
	}
}

func TestSignalAll_KeepStreams(t *testing.T) {
	h := startSleep(t)
	opts := testOptions()
	opts.CloseStreams = false

	if err := SignalAll(withTimeout(t), []*process.Handle{h}, opts); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if h.Closed() {
		t.Error("streams closed with CloseStreams=false")
	}
}

func TestSignalAll_CustomSignal(t *testing.T) {
	h := startSleep(t)
	opts := testOptions()
	opts.Signal = syscall.SIGTERM

	if err := SignalAll(withTimeout(t), []*process.Handle{h}, opts); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if got, want := h.Poll().Code, 128+int(syscall.SIGTERM); got != want {
		t.Errorf("code = %d, want %d", got, want)
	}
}

func TestSignalAll_KillAfter(t *testing.T) {
	h := start(t, "trap '' INT; sleep 5")
	time.Sleep(100 * time.Millisecond)

	opts := testOptions()
	opts.KillAfter = 200 * time.Millisecond

	if err := SignalAll(withTimeout(t), []*process.Handle{h}, opts); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if got, want := h.Poll().Code, 128+int(syscall.SIGKILL); got != want {
		t.Errorf("code = %d, want %d", got, want)
	}
}

func TestSignalAll_BlockHonorsContext(t *testing.T) {
	h := start(t, "trap '' INT; sleep 5")
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := SignalAll(ctx, []*process.Handle{h}, testOptions())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SignalAll() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestSignalAll_ResignalsSurvivors(t *testing.T) {
	// The first SIGINT only removes the trap; the repeat is what stops it.
	h := start(t, "trap 'trap - INT' INT; echo ready; while :; do sleep 0.1; done")
	waitOutput(t, h, "ready")

	opts := testOptions()
	opts.CloseStreams = false

	begin := time.Now()
	if err := SignalAll(withTimeout(t), []*process.Handle{h}, opts); err != nil {
		t.Fatalf("SignalAll() error = %v", err)
	}
	if h.Poll().Running() {
		t.Fatal("process still running")
	}
	if elapsed := time.Since(begin); elapsed < resignalInterval/2 || elapsed > 3*resignalInterval {
		t.Errorf("SignalAll took %v, want about one resignal interval", elapsed)
	}
}
