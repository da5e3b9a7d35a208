// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"sync"
	"time"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that
	// locks a user out.
	DefaultLockoutThreshold = 7

	// DefaultLockoutDuration is how long a lockout lasts.
	DefaultLockoutDuration = 15 * time.Minute

	// maxFailureDelay caps the progressive delay after a failure.
	maxFailureDelay = 32 * time.Second
)

// failureState tracks one user's recent failures.
type failureState struct {
	failures    int
	lockedUntil time.Time
}

// lockout counts consecutive failures per user.
type lockout struct {
	threshold int
	duration  time.Duration
	baseDelay time.Duration

	mu    sync.Mutex
	users map[string]*failureState
}

func newLockout(threshold int, duration, baseDelay time.Duration) *lockout {
	return &lockout{
		threshold: threshold,
		duration:  duration,
		baseDelay: baseDelay,
		users:     make(map[string]*failureState),
	}
}

// lockedFor returns how much of a lockout remains for user.
func (l *lockout) lockedFor(user string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.users[user]
	if !ok || !st.lockedUntil.After(now) {
		return 0
	}
	return st.lockedUntil.Sub(now)
}

// fail records a failure and returns the delay to apply before answering:
// baseDelay doubled per consecutive failure, capped.
func (l *lockout) fail(user string, now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.users[user]
	if !ok {
		st = &failureState{}
		l.users[user] = st
	}
	if !st.lockedUntil.IsZero() && !st.lockedUntil.After(now) {
		// An expired lockout starts the count again.
		*st = failureState{}
	}
	st.failures++
	if l.threshold > 0 && st.failures >= l.threshold {
		st.lockedUntil = now.Add(l.duration)
		return 0
	}
	if l.baseDelay <= 0 {
		return 0
	}
	delay := l.baseDelay << (st.failures - 1)
	if delay <= 0 || delay > maxFailureDelay {
		delay = maxFailureDelay
	}
	return delay
}

// succeed clears user's failures.
func (l *lockout) succeed(user string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, user)
}
