package process

import "fmt"

// InvalidConfigurationError reports an incompatible combination of options.
// It is always a programming error in the caller and is never retried.
type InvalidConfigurationError struct {
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return "invalid configuration: " + e.Reason
}

func invalidf(format string, args ...any) error {
	return &InvalidConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ProcessFailedError reports a checked foreground command that exited non-zero.
type ProcessFailedError struct {
	Command string
	Code    int

	// Output holds the captured text when the command ran in capture mode.
	Output string
}

func (e *ProcessFailedError) Error() string {
	return fmt.Sprintf("command exited with %d: %s", e.Code, e.Command)
}
