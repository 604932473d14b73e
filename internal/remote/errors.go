package remote

import "fmt"

// RemoteCommandFailedError reports a checked remote command that exited
// non-zero. Code 255 usually means ssh itself failed to connect.
type RemoteCommandFailedError struct {
	Host   string
	Code   int
	Output string
}

func (e *RemoteCommandFailedError) Error() string {
	return fmt.Sprintf("remote command on %s exited with %d", e.Host, e.Code)
}
