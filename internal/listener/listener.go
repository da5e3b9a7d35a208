// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package listener runs the TCP accept loop for one (interface, port) pair.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Error codes raised by the listener.
const (
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeNotRunning     = "NOT_RUNNING"
	CodeBindFailed     = "BIND_FAILED"
)

const (
	stopTimeout = 2 * time.Second

	bindAttempts = 3
	bindBackoff  = 100 * time.Millisecond

	acceptBackoff    = 5 * time.Millisecond
	acceptBackoffCap = time.Second
	acceptAttempts   = 10
)

// State is the listener's lifecycle state.
type State int32

// Listener states.
const (
	StateStopped State = iota
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "STOPPED"
	case StateListening:
		return "LISTENING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Admitter takes ownership of accepted sockets.
type Admitter interface {
	Admit(conn net.Conn) error
}

// Option configures a Listener.
type Option func(*Listener)

// WithLogger sets the listener's logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// Listener accepts TCP connections on one address and hands them to an
// Admitter. The configured accept backlog of 10 is not applied: net.ListenConfig
// has no backlog setting, so the kernel default (somaxconn) is used instead.
type Listener struct {
	addr   string
	admit  Admitter
	logger *slog.Logger

	mu    sync.Mutex
	state State
	ln    net.Listener
	done  chan struct{}
}

// New returns a stopped listener for addr (host:port).
func New(addr string, a Admitter, opts ...Option) *Listener {
	l := &Listener{
		addr:   addr,
		admit:  a,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("addr", addr)
	return l
}

// Start binds the socket and launches the accept loop. A port still held by
// a previous instance is retried briefly before BIND_FAILED is returned.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateStopped {
		return oops.Code(CodeAlreadyRunning).
			With("addr", l.addr).
			With("state", l.state.String()).
			Errorf("listener already running")
	}

	var lc net.ListenConfig
	var ln net.Listener
	backoff := retry.WithMaxRetries(bindAttempts, retry.NewExponential(bindBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		ln, err = lc.Listen(ctx, "tcp", l.addr)
		if errors.Is(err, syscall.EADDRINUSE) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return oops.Code(CodeBindFailed).With("addr", l.addr).Wrapf(err, "failed to bind")
	}

	l.ln = ln
	l.state = StateListening
	l.done = make(chan struct{})
	go l.acceptLoop(ln, l.done)

	l.logger.Info("listening", "bound", ln.Addr().String())
	return nil
}

func (l *Listener) acceptLoop(ln net.Listener, done chan struct{}) {
	defer close(done)

	backoff := newAcceptBackoff()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			wait, stop := backoff.Next()
			if stop {
				l.logger.Error("accept failed repeatedly, stopping listener", "error", err)
				l.abandon(ln)
				return
			}
			l.logger.Warn("accept failed", "error", err, "retry_in", wait)
			time.Sleep(wait)
			continue
		}
		backoff = newAcceptBackoff()

		if err := l.admit.Admit(conn); err != nil {
			l.logger.Debug("connection refused",
				"remote_addr", conn.RemoteAddr().String(),
				"error", err)
		}
	}
}

func newAcceptBackoff() retry.Backoff {
	b := retry.NewExponential(acceptBackoff)
	b = retry.WithCappedDuration(acceptBackoffCap, b)
	return retry.WithMaxRetries(acceptAttempts, b)
}

// abandon marks the listener stopped after an unrecoverable accept error.
func (l *Listener) abandon(ln net.Listener) {
	_ = ln.Close()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == ln && l.state == StateListening {
		l.state = StateStopped
		l.ln = nil
	}
}

// Stop closes the socket and waits, at most two seconds, for the accept loop
// to exit.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if l.state != StateListening {
		state := l.state
		l.mu.Unlock()
		return oops.Code(CodeNotRunning).
			With("addr", l.addr).
			With("state", state.String()).
			Errorf("listener not running")
	}
	l.state = StateStopping
	ln, done := l.ln, l.done
	l.mu.Unlock()

	if err := ln.Close(); err != nil {
		l.logger.Debug("error closing listener", "error", err)
	}

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		l.logger.Warn("accept loop did not exit in time")
	}

	l.mu.Lock()
	l.state = StateStopped
	l.ln = nil
	l.mu.Unlock()

	l.logger.Info("stopped listening")
	return nil
}

// State returns the current lifecycle state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Addr returns the bound address, or nil when not listening.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Done is closed when the current accept loop exits. It returns nil when the
// listener has never started.
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}
