// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Requirements describes what a session is about to start.
type Requirements struct {
	// Processes is the number of background processes.
	Processes int

	// SSHPath is checked when any command runs remotely.
	SSHPath string
	Remote  bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks.
func RunAll(req Requirements) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(req.Processes))
	add(checkProcessLimit(req.Processes))
	add(checkBinary("sh", "/bin/sh"))
	if req.Remote {
		add(checkSSH(req.SSHPath))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(processes int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Each background process holds an output and a stdin pipe; ssh adds
	// its own sockets. Plus metrics server, logging and the lock file.
	required := processes*8 + 64
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d processes)", actual, required, processes),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(processes int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (restricted)",
		}
	}

	// A wrapped command is a shell plus its children.
	required := processes*4 + 50
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkBinary verifies a program exists, by name on PATH or at an
// absolute path.
func checkBinary(name, path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: "found at " + resolved,
	}
}

// checkSSH verifies the ssh client is available and working.
func checkSSH(path string) Check {
	if path == "" {
		path = "ssh"
	}
	// ssh -V prints its version on stderr.
	output, err := exec.Command(path, "-V").CombinedOutput()
	if err != nil {
		return Check{
			Name:    "ssh",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	// "OpenSSH_9.6p1 Ubuntu-3ubuntu13, OpenSSL 3.0.13 30 Jan 2024"
	version := "unknown"
	if fields := strings.Fields(string(output)); len(fields) > 0 {
		version = strings.TrimSuffix(fields[0], ",")
	}

	return Check{
		Name:    "ssh",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%s)", path, version),
	}
}

func clampLimit(v uint64) int {
	const unlimited = 1 << 30
	if v > unlimited {
		return unlimited
	}
	return int(v)
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "ssh":
		return "install an OpenSSH client (apt install openssh-client) or set ssh_path"
	case "sh":
		return "a POSIX shell is required at /bin/sh"
	default:
		return "see documentation"
	}
}
