// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package session connects an admitted telnet connection to a shell: it
// wires the shell's standard streams to the connection, exposes properties
// and session variables, and runs the optional login hook first.
package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/terminal"
)

// VarTerminal is the session variable holding the *terminal.Terminal.
const VarTerminal = "TERMINAL"

// Context is what a shell sees of its session.
type Context interface {
	// Property resolves a configured property, then the connection
	// environment, then the process environment.
	Property(name string) (string, bool)
	// Variable returns a session variable.
	Variable(name string) (any, bool)
	// SetVariable sets a session variable.
	SetVariable(name string, value any)
	// Terminal returns the connection's terminal.
	Terminal() *terminal.Terminal
	// User returns the authenticated user, or "" without a login hook.
	User() string
	// Exit closes the connection. The shell's stdin then reports EOF.
	Exit()
}

// Shell runs an interactive session. Run must return once stdin reports EOF.
type Shell interface {
	Run(ctx context.Context, sc Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error
}

// ShellFunc adapts a function to Shell.
type ShellFunc func(ctx context.Context, sc Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error

// Run implements Shell.
func (f ShellFunc) Run(ctx context.Context, sc Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	return f(ctx, sc, stdin, stdout, stderr, args)
}

type sessionContext struct {
	conn       *connection.Connection
	properties map[string]string
	lookupEnv  func(string) (string, bool)

	mu   sync.RWMutex
	vars map[string]any
	user string
}

func newContext(c *connection.Connection, properties map[string]string) *sessionContext {
	return &sessionContext{
		conn:       c,
		properties: properties,
		lookupEnv:  os.LookupEnv,
		vars:       make(map[string]any),
	}
}

func (s *sessionContext) Property(name string) (string, bool) {
	if v, ok := s.properties[name]; ok {
		return v, true
	}
	if v, ok := s.conn.Data().Getenv(name); ok {
		return v, true
	}
	return s.lookupEnv(name)
}

func (s *sessionContext) Variable(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

func (s *sessionContext) SetVariable(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
}

func (s *sessionContext) Terminal() *terminal.Terminal {
	return s.conn.Terminal()
}

func (s *sessionContext) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *sessionContext) setUser(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

func (s *sessionContext) Exit() {
	_ = s.conn.Close()
}

// Options configures a Bridge.
type Options struct {
	Shell Shell
	// Args are passed to every shell invocation.
	Args []string
	// Properties take precedence over environment lookups.
	Properties map[string]string
	// Authenticator enables the login prompt when set.
	Authenticator Authenticator
	// MaxAttempts bounds failed logins before the connection is closed.
	MaxAttempts int
	Logger      *slog.Logger
}

// Bridge runs a shell for each connection. It implements connection.Handler.
type Bridge struct {
	opts   Options
	logger *slog.Logger
}

var _ connection.Handler = (*Bridge)(nil)

// NewBridge returns a bridge running opts.Shell.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Shell == nil {
		return nil, oops.Code("CONFIG_INVALID").Errorf("session shell is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{opts: opts, logger: logger}, nil
}

// ServeConnection runs the login hook, if any, then the shell.
func (b *Bridge) ServeConnection(ctx context.Context, c *connection.Connection) error {
	term := c.Terminal()
	out := newWriter(c.Stream(), c, c.Logger())
	sc := newContext(c, b.opts.Properties)
	sc.SetVariable(VarTerminal, term)

	if b.opts.Authenticator != nil {
		user, ok, err := b.login(ctx, term, out)
		if err != nil || !ok {
			return err
		}
		sc.setUser(user)
		c.Data().Setenv("USER", user)
		c.Logger().Info("login succeeded", "user", user)
	}

	return b.opts.Shell.Run(ctx, sc, term.Input(), out, out, b.opts.Args)
}

// ConnectionClosed implements connection.Handler.
func (b *Bridge) ConnectionClosed(c *connection.Connection) {
	c.Logger().Debug("session closing", "state", c.State().String())
}
