package session

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-procctl/internal/metrics"
)

var (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSuccess   = lipgloss.Color("#10B981")
	colorWarning   = lipgloss.Color("#F59E0B")
	colorError     = lipgloss.Color("#EF4444")
	colorTextMuted = lipgloss.Color("#9CA3AF")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	labelStyle   = lipgloss.NewStyle().Foreground(colorTextMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorError)
)

const banner = "═══════════════════════════════════════════════════════════════════════════════"

// summaryStyle applies lipgloss styles only when color output is wanted.
type summaryStyle struct {
	color bool
}

func (s summaryStyle) render(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

// FormatSummary renders the end-of-session report.
func FormatSummary(sum *metrics.Summary, runID string, sessionErr error, color bool) string {
	st := summaryStyle{color: color}
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(banner + "\n")
	b.WriteString(st.render(titleStyle, "                           procctl Session Summary") + "\n")
	b.WriteString(banner + "\n\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", st.render(labelStyle, fmt.Sprintf("%-22s", label+":")), value)
	}

	row("Run ID", runID)
	row("Duration", FormatDuration(sum.Duration))
	row("Processes Started", fmt.Sprintf("%d", sum.ProcessesStarted))

	failed := fmt.Sprintf("%d", sum.FailedCommands)
	if sum.FailedCommands > 0 {
		failed = st.render(warningStyle, failed)
	}
	row("Commands", fmt.Sprintf("%d (failed: %s)", sum.Commands, failed))
	if sum.Commands > 0 {
		row("Command Latency", fmt.Sprintf("P50 %s  P95 %s  P99 %s",
			FormatMs(sum.CommandP50), FormatMs(sum.CommandP95), FormatMs(sum.CommandP99)))
	}
	row("Teardown Passes", fmt.Sprintf("%d", sum.TeardownPasses))
	if sum.Interrupts > 0 {
		row("Interrupts", st.render(warningStyle, fmt.Sprintf("%d", sum.Interrupts)))
	}

	if len(sum.Exits) > 0 {
		b.WriteString("\n")
		b.WriteString(st.render(titleStyle, "Processes") + "\n")
		fmt.Fprintf(&b, "  %-20s %-10s %s\n", "NAME", "EXIT", "OUTPUT")
		for _, e := range sum.Exits {
			label := fmt.Sprintf("%-10s", metrics.ExitLabel(e.Code))
			fmt.Fprintf(&b, "  %-20s %s %s\n", e.Name, st.render(exitStyle(e.Code), label), FormatBytes(e.OutputBytes))
		}
	}

	b.WriteString("\n")
	switch {
	case sessionErr == nil:
		b.WriteString(st.render(successStyle, "Result: ok") + "\n")
	default:
		b.WriteString(st.render(errorStyle, "Result: failed") + "\n")
	}
	b.WriteString(banner + "\n")

	return b.String()
}

// exitStyle colors an exit code. Codes above 128 are the normal result of
// teardown signals.
func exitStyle(code int) lipgloss.Style {
	switch {
	case code == 0:
		return successStyle
	case code < 0, code > 128:
		return labelStyle
	default:
		return errorStyle
	}
}

// PrintSummary writes the session's report to w.
func (s *Session) PrintSummary(w io.Writer, sessionErr error, color bool) {
	fmt.Fprint(w, FormatSummary(s.collector.GenerateSummary(), s.runID, sessionErr, color))
}

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
