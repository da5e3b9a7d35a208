// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// StaticOptions tunes a StaticAuthenticator. Zero values take the defaults;
// a negative LockoutThreshold disables lockouts.
type StaticOptions struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	// FailureDelay is the delay after a first failure. It doubles with each
	// further failure. Zero answers at once.
	FailureDelay time.Duration
	Logger       *slog.Logger
}

// StaticAuthenticator checks logins against a fixed user table.
type StaticAuthenticator struct {
	users   map[string]string
	hasher  *Argon2idHasher
	lockout *lockout
	logger  *slog.Logger
	now     func() time.Time
	// dummy is verified for unknown users so they cost the same as known ones.
	dummy string
}

// NewStatic returns an authenticator for users, a map of user name to
// argon2id hash. Every hash is validated up front.
func NewStatic(users map[string]string, opts StaticOptions) (*StaticAuthenticator, error) {
	table := make(map[string]string, len(users))
	for name, hash := range users {
		if name == "" {
			return nil, oops.Code(CodeInvalidHash).Errorf("user name cannot be empty")
		}
		if err := CheckHash(hash); err != nil {
			return nil, oops.Code(CodeInvalidHash).With("user", name).Wrap(err)
		}
		table[name] = hash
	}

	threshold := opts.LockoutThreshold
	switch {
	case threshold == 0:
		threshold = DefaultLockoutThreshold
	case threshold < 0:
		threshold = 0
	}
	duration := opts.LockoutDuration
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hasher := NewArgon2idHasher()
	dummy, err := hasher.Hash("telnetd-unknown-user")
	if err != nil {
		return nil, err
	}

	return &StaticAuthenticator{
		users:   table,
		hasher:  hasher,
		lockout: newLockout(threshold, duration, opts.FailureDelay),
		logger:  logger,
		now:     time.Now,
		dummy:   dummy,
	}, nil
}

// Authenticate verifies password for user. It fails with AUTH_LOCKED_OUT
// while the user is locked out and AUTH_FAILED otherwise.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, user, password string) error {
	if remaining := a.lockout.lockedFor(user, a.now()); remaining > 0 {
		return oops.Code(CodeLockedOut).
			With("user", user).
			With("remaining", remaining.Round(time.Second).String()).
			Errorf("too many failed logins")
	}

	hash, known := a.users[user]
	if !known {
		hash = a.dummy
	}
	ok, err := a.hasher.Verify(password, hash)
	if err != nil {
		a.logger.Error("stored hash is invalid", "user", user, "error", err)
	}
	if ok && known {
		a.lockout.succeed(user)
		return nil
	}

	// Only known users are tracked, so unknown names cannot grow the table.
	delay := a.lockout.baseDelay
	if known {
		delay = a.lockout.fail(user, a.now())
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return oops.Code(CodeFailed).With("user", user).Errorf("authentication failed")
}
