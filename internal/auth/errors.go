// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import "github.com/samber/oops"

// Error codes raised by this package.
const (
	CodeFailed        = "AUTH_FAILED"
	CodeInvalidHash   = "AUTH_INVALID_HASH"
	CodeEmptyPassword = "AUTH_EMPTY_PASSWORD"
	CodeLockedOut     = "AUTH_LOCKED_OUT"
	CodeSaltFailed    = "AUTH_SALT_FAILED"
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = oops.Code(CodeEmptyPassword).Errorf("password cannot be empty")

func invalidHash(format string, args ...any) error {
	return oops.Code(CodeInvalidHash).Errorf(format, args...)
}
