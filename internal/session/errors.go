package session

import (
	"fmt"
	"time"

	"github.com/randomizedcoder/go-procctl/internal/logging"
)

// NotReadyError reports a process whose readiness marker did not appear in
// time, or that exited without ever printing it.
type NotReadyError struct {
	Name    string
	Marker  string
	Timeout time.Duration

	// Exited is set when the process ended before printing Marker.
	Exited bool
	Code   int
	Output string
}

func (e *NotReadyError) Error() string {
	if e.Exited {
		return fmt.Sprintf("process %s exited with %d before printing %q:\n%s",
			e.Name, e.Code, e.Marker, logging.Indent(e.Output, "  "))
	}
	return fmt.Sprintf("process %s did not print %q within %s", e.Name, e.Marker, e.Timeout)
}

// ExpectationError reports a setup or after step whose captured output did
// not contain the expected text.
type ExpectationError struct {
	Step   string
	Expect string
	Output string
}

func (e *ExpectationError) Error() string {
	return fmt.Sprintf("%s: expected %q in output:\n%s", e.Step, e.Expect, logging.Indent(e.Output, "  "))
}
