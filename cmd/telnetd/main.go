// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main is the entry point for the telnetd server and its admin CLI.
package main

import (
	"fmt"
	"os"

	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/pkg/errutil"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errutil.HasCode(err, daemon.CodeUsage) {
			fmt.Fprintln(os.Stderr, "usage: "+usageLine)
		}
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errutil.HasCode(err, daemon.CodeUsage):
		return exitUsage
	default:
		return exitFailure
	}
}
