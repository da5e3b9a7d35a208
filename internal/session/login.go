// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/holomush/telnetd/internal/terminal"
)

// DefaultMaxAttempts is the number of failed logins allowed per connection.
const DefaultMaxAttempts = 3

// Authenticator verifies a user name and password. Any error is treated as
// a failed login.
type Authenticator interface {
	Authenticate(ctx context.Context, user, password string) error
}

// login prompts for credentials until they verify or attempts run out. It
// reports ok=false, with a nil error, when the user gave up or failed.
func (b *Bridge) login(ctx context.Context, term *terminal.Terminal, out io.Writer) (string, bool, error) {
	lr := terminal.NewLineReader(term)

	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		if _, err := io.WriteString(out, "login: "); err != nil {
			return "", false, err
		}
		user, err := lr.ReadLine()
		if err != nil {
			return "", false, endOfLogin(err)
		}
		// A blank name uses up an attempt without asking for a password.
		user = strings.TrimSpace(user)
		if user == "" {
			continue
		}

		if _, err := io.WriteString(out, "Password: "); err != nil {
			return "", false, err
		}
		password, err := lr.ReadSecret()
		if err != nil {
			return "", false, endOfLogin(err)
		}

		if err := b.opts.Authenticator.Authenticate(ctx, user, password); err == nil {
			return user, true, nil
		}
		b.logger.Info("login failed", "user", user, "attempt", attempt)
		if _, err := io.WriteString(out, "Login incorrect\n"); err != nil {
			return "", false, err
		}
	}

	_, _ = io.WriteString(out, "Too many login failures\n")
	return "", false, nil
}

// endOfLogin hides the errors that simply mean the user went away.
func endOfLogin(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, terminal.ErrInterrupted) {
		return nil
	}
	return err
}
