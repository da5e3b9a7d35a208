// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package daemon

import (
	"strconv"

	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/listener"
)

// Error codes surfaced to the admin caller.
const (
	CodeUsage          = "USAGE"
	CodeAlreadyRunning = listener.CodeAlreadyRunning
	CodeNotRunning     = listener.CodeNotRunning
	CodeBindFailed     = listener.CodeBindFailed
)

// ErrNotRunning is returned by Stop when nothing is running.
var ErrNotRunning = oops.Code(CodeNotRunning).Errorf("telnetd is not running.")

func alreadyRunning(ip string, port int) error {
	return oops.Code(CodeAlreadyRunning).
		With("ip", ip).
		With("port", port).
		Errorf("telnetd is already running on port %s", strconv.Itoa(port))
}

func usageError(format string, args ...any) error {
	return oops.Code(CodeUsage).Errorf(format, args...)
}
