// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package shell provides the interactive shells run for telnet sessions:
// a small built-in command shell that can be extended with Lua scripts,
// and a shell that runs an external program under a pseudo-terminal.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/terminal"
	"github.com/holomush/telnetd/pkg/errutil"
)

// DefaultPrompt is printed before each command line.
const DefaultPrompt = "g! "

// Options configures a Gosh shell.
type Options struct {
	Prompt string
	// Registry holds the commands. A registry with only the builtins is
	// used when nil.
	Registry *Registry
	Logger   *slog.Logger
}

// Gosh is the built-in line-oriented shell.
type Gosh struct {
	prompt   string
	registry *Registry
	logger   *slog.Logger
}

var _ session.Shell = (*Gosh)(nil)

// New returns a shell configured by opts.
func New(opts Options) (*Gosh, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry(logger)
		if err := RegisterBuiltins(reg); err != nil {
			return nil, err
		}
	}
	prompt := opts.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Gosh{prompt: prompt, registry: reg, logger: logger}, nil
}

// Registry returns the shell's command registry.
func (g *Gosh) Registry() *Registry { return g.registry }

// Run reads and executes command lines until input ends or a command ends
// the session. With args, the single command they form is run instead.
func (g *Gosh) Run(ctx context.Context, sc session.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	term := sc.Terminal()
	prev := term.Handle(func(terminal.Signal) {})
	defer term.Handle(prev)

	if len(args) > 0 {
		line := &Line{Name: args[0], Args: args[1:]}
		if g.execute(ctx, sc, line, stdin, stdout, stderr) {
			sc.Exit()
		}
		return nil
	}

	lr := terminal.NewLineReaderFrom(term, stdin)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.WriteString(stdout, g.prompt); err != nil {
			return err
		}
		text, err := lr.ReadLine()
		switch {
		case errors.Is(err, terminal.ErrInterrupted):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		line, err := Parse(text)
		if err != nil {
			if errutil.Code(err) != CodeEmptyInput {
				fmt.Fprintf(stderr, "gosh: syntax error: %v\n", errors.Unwrap(err))
			}
			continue
		}
		if g.execute(ctx, sc, line, stdin, stdout, stderr) {
			sc.Exit()
			return nil
		}
	}
}

// execute runs one command and reports whether it asked to end the session.
func (g *Gosh) execute(ctx context.Context, sc session.Context, line *Line, stdin io.Reader, stdout, stderr io.Writer) bool {
	cmd, ok := g.registry.Get(line.Name)
	if !ok {
		fmt.Fprintf(stderr, "gosh: %s: command not found\n", line.Name)
		return false
	}

	err := cmd.Handler(ctx, &Invocation{
		Name:     line.Name,
		Args:     line.Args,
		Session:  sc,
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		Registry: g.registry,
	})
	switch {
	case err == nil:
		return false
	case errors.Is(err, errExit):
		return true
	default:
		g.logger.Debug("command failed", "command", line.Name, "source", cmd.Source, "error", err)
		fmt.Fprintf(stderr, "gosh: %s: %v\n", line.Name, err)
		return false
	}
}
