// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error whose code, as reported
// by Code, is code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	require.Error(t, err, "expected an error with code %s", code)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorCodeIs asserts that err carries code and still wraps target,
// as closed-stream and not-running errors do.
func AssertErrorCodeIs(t testing.TB, err, target error, code string) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.True(t, errors.Is(err, target), "expected %v to wrap %v", err, target)
}

// AssertErrorContext asserts that err is an oops error carrying key=value
// in its context, such as the "addr" a listener failed to bind.
func AssertErrorContext(t testing.TB, err error, key string, value any) {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	ctx := oopsErr.Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
