package registry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/randomizedcoder/go-procctl/internal/logging"
	"github.com/randomizedcoder/go-procctl/internal/process"
)

// DefaultPollInterval is the sleep between polls in the cooperative loop.
const DefaultPollInterval = 100 * time.Millisecond

// Observer receives output and exit events seen while polling.
type Observer interface {
	OutputBytes(name string, n int)
	ProcessExited(name string, code int)
}

// PollOptions controls a single Poll.
type PollOptions struct {
	// RequireAliveOrSuccess fails with *ProcessDiedError when a process has
	// exited with a non-zero code.
	RequireAliveOrSuccess bool

	// Echo prints each new chunk with lines tagged "[<name>] ".
	Echo bool

	// Tolerate names processes whose non-zero exit is not fatal.
	Tolerate map[string]bool
}

// DefaultPollOptions requires every process to be alive or successful and
// echoes output.
func DefaultPollOptions() PollOptions {
	return PollOptions{RequireAliveOrSuccess: true, Echo: true}
}

// Poller drains output from every process in a Registry and samples their
// exit status without blocking.
type Poller struct {
	reg      *Registry
	out      *logging.TaggedWriter
	logger   *slog.Logger
	observer Observer

	buffers  map[string]*strings.Builder
	pending  map[string][]byte
	openCR   map[string]bool
	reported map[*process.Handle]bool
}

// NewPoller creates a Poller over reg. The registry is referenced, not
// copied: entries added later are seen by the next Poll.
func NewPoller(reg *Registry, out io.Writer, logger *slog.Logger) *Poller {
	return &Poller{
		reg:      reg,
		out:      logging.NewTaggedWriter(out),
		logger:   logger,
		buffers:  make(map[string]*strings.Builder),
		pending:  make(map[string][]byte),
		openCR:   make(map[string]bool),
		reported: make(map[*process.Handle]bool),
	}
}

// SetObserver registers an observer for output and exit events.
func (p *Poller) SetObserver(o Observer) {
	p.observer = o
}

// Poll drains every process's available output and samples its status.
// The returned map holds each name's status at the time it was sampled.
func (p *Poller) Poll(opts PollOptions) (map[string]process.Status, error) {
	entries := p.reg.Entries()
	statuses := make(map[string]process.Status, len(entries))

	for _, e := range entries {
		// Status first: once a process is seen exited, the drain that follows
		// picks up everything it wrote.
		st := e.Handle.Poll()
		p.collect(e, st.Exited, opts.Echo)

		if st.Exited && !p.reported[e.Handle] {
			p.reported[e.Handle] = true
			p.logger.Info("process_exited", "name", e.Name, "pid", e.Handle.PID(), "exit_code", st.Code)
			if p.observer != nil {
				p.observer.ProcessExited(e.Name, st.Code)
			}
		}

		statuses[e.Name] = st

		if opts.RequireAliveOrSuccess && st.Exited && st.Code != 0 && !opts.Tolerate[e.Name] {
			return statuses, &ProcessDiedError{
				Name:   e.Name,
				Code:   st.Code,
				Output: p.Output(e.Name),
			}
		}
	}

	return statuses, nil
}

// collect drains one entry and appends any new text to its buffer.
func (p *Poller) collect(e Entry, exited, echo bool) {
	data, err := e.Handle.Drain()
	if err != nil {
		p.logger.Warn("drain_failed", "name", e.Name, "error", err)
	}
	if len(data) > 0 && p.observer != nil {
		p.observer.OutputBytes(e.Name, len(data))
	}

	tty := e.Handle.TTY()
	if tty && p.openCR[e.Name] && len(data) > 0 {
		// The last chunk ended in "\r" and was already closed as a line.
		p.openCR[e.Name] = false
		data = bytes.TrimPrefix(data, []byte("\n"))
	}

	data = append(p.pending[e.Name], data...)
	complete, rest := splitIncompleteRune(data)
	if exited {
		// Nothing more is coming from the process itself.
		complete, rest = data, nil
	}
	p.pending[e.Name] = rest

	text := strings.ToValidUTF8(string(complete), "\uFFFD")
	if tty {
		// A remote pty ends lines with "\r\n".
		text = strings.ReplaceAll(text, "\r\n", "\n")
		if strings.HasSuffix(text, "\r") {
			text = strings.TrimSuffix(text, "\r")
			p.openCR[e.Name] = true
		}
	}
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return
	}

	buf, ok := p.buffers[e.Name]
	if !ok {
		buf = &strings.Builder{}
		p.buffers[e.Name] = buf
	}
	buf.WriteString(text)
	buf.WriteString("\n")

	if echo {
		if err := p.out.Print(e.Name, text); err != nil {
			p.logger.Warn("echo_failed", "name", e.Name, "error", err)
		}
	}
}

// Output returns everything name has printed so far, or "" if nothing.
func (p *Poller) Output(name string) string {
	if buf, ok := p.buffers[name]; ok {
		return buf.String()
	}
	return ""
}

// WaitForOutput polls until marker appears in name's output.
// It returns early on a poll error or when ctx is done, and with
// *MarkerNotSeenError once name has exited and its output is exhausted.
func (p *Poller) WaitForOutput(ctx context.Context, name, marker string, interval time.Duration, opts PollOptions) error {
	for !strings.Contains(p.Output(name), marker) {
		statuses, err := p.Poll(opts)
		if err != nil {
			return err
		}
		if strings.Contains(p.Output(name), marker) {
			break
		}
		if st, ok := statuses[name]; ok && st.Exited {
			if h, ok := p.reg.Get(name); ok && h.OutputDone() {
				return &MarkerNotSeenError{Name: name, Marker: marker, Code: st.Code, Output: p.Output(name)}
			}
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	p.logger.Debug("marker_seen", "name", name, "marker", marker)
	return nil
}

// PollFor polls repeatedly until d has elapsed.
// It returns early on a poll error or when ctx is done.
func (p *Poller) PollFor(ctx context.Context, d, interval time.Duration, opts PollOptions) error {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if _, err := p.Poll(opts); err != nil {
			return err
		}
		if err := sleep(ctx, min(interval, time.Until(deadline))); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// splitIncompleteRune splits b before a trailing, partially received UTF-8
// sequence so it can be completed by the next read.
func splitIncompleteRune(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i > len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}
