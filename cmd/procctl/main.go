// Package main provides the procctl CLI entry point.
//
// procctl runs a session of local and remote commands: setup steps, a set of
// named background processes that are polled and torn down together, and
// cleanup steps that run however the session ends.
package main

import "os"

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/procctl
var version = "dev"

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
