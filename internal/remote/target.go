package remote

import (
	"errors"
	"os"
	"strings"
)

// Target identifies where a remote command runs. It is immutable once
// constructed.
type Target struct {
	User string
	Host string
}

// NewTarget builds a Target. An empty user falls back to $USER.
func NewTarget(user, host string) (Target, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Target{}, errors.New("remote target requires a host")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		return Target{}, errors.New("remote target requires a user and $USER is unset")
	}
	return Target{User: user, Host: host}, nil
}

// String returns user@host.
func (t Target) String() string {
	return t.User + "@" + t.Host
}
