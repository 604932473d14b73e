package registry

import (
	"fmt"

	"github.com/randomizedcoder/go-procctl/internal/logging"
)

// ProcessDiedError reports a background process that was expected to stay
// alive (or succeed) but exited abnormally. Output is everything the process
// printed during the scope.
type ProcessDiedError struct {
	Name   string
	Code   int
	Output string
}

func (e *ProcessDiedError) Error() string {
	return fmt.Sprintf("Process '%s' died with %d:\n%s", e.Name, e.Code, logging.Indent(e.Output, "  "))
}

// MarkerNotSeenError reports a process that exited, successfully or with a
// tolerated code, without ever printing the output a caller was waiting for.
type MarkerNotSeenError struct {
	Name   string
	Marker string
	Code   int
	Output string
}

func (e *MarkerNotSeenError) Error() string {
	return fmt.Sprintf("Process '%s' exited with %d before printing %q:\n%s",
		e.Name, e.Code, e.Marker, logging.Indent(e.Output, "  "))
}
