// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes raised by the telnet stream.
const (
	CodeClosed   = "IO_CLOSED"
	CodeIO       = "IO_ERROR"
	CodeProtocol = "PROTOCOL"
)

// ErrClosed is returned when writing to a stream whose output side is closed.
var ErrClosed = errors.New("telnet stream closed")

func closedError(op string) error {
	return oops.Code(CodeClosed).With("operation", op).Wrap(ErrClosed)
}

// ioError wraps an unexpected network error.
func ioError(op string, err error) error {
	return oops.Code(CodeIO).With("operation", op).Wrap(err)
}
