// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"github.com/samber/oops"
)

// Error codes raised by the connection manager.
const (
	CodeBusy         = "BUSY"
	CodeDenied       = "ACCESS_DENIED"
	CodeShuttingDown = "SHUTTING_DOWN"
	CodeSession      = "SESSION_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeConfig       = "CONFIG_INVALID"
)

// ErrBusy is returned by Admit when the connection limit is reached.
var ErrBusy = oops.Code(CodeBusy).Errorf("connection limit reached")

// ErrDenied is returned by Admit when the peer is not on the allow list.
var ErrDenied = oops.Code(CodeDenied).Errorf("remote address not allowed")

// ErrShuttingDown is returned by Admit after Shutdown has begun.
var ErrShuttingDown = oops.Code(CodeShuttingDown).Errorf("connection manager is shutting down")

func sessionError(err error) error {
	return oops.Code(CodeSession).Wrapf(err, "session failed")
}

func sessionPanic(r any) error {
	return oops.Code(CodeSession).With("panic", r).Errorf("session panicked: %v", r)
}
