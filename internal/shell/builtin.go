// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SourceBuiltin marks commands compiled into the shell.
const SourceBuiltin = "builtin"

// errExit asks the shell loop to end the session.
var errExit = errors.New("exit")

type usageError struct{ usage string }

func (e usageError) Error() string { return "usage: " + e.usage }

// RegisterBuiltins adds the built-in commands to r.
func RegisterBuiltins(r *Registry) error {
	builtins := []Command{
		{Name: "help", Usage: "help [command]", Help: "list commands or describe one", Handler: helpCommand},
		{Name: "echo", Usage: "echo [arg ...]", Help: "print the arguments", Handler: echoCommand},
		{Name: "size", Usage: "size", Help: "print the terminal size", Handler: sizeCommand},
		{Name: "term", Usage: "term", Help: "print the terminal type", Handler: termCommand},
		{Name: "getprop", Usage: "getprop NAME", Help: "print a session property", Handler: getpropCommand},
		{Name: "exit", Usage: "exit", Help: "end the session", Handler: exitCommand},
		{Name: "logout", Usage: "logout", Help: "end the session", Handler: exitCommand},
	}
	for _, b := range builtins {
		b.Source = SourceBuiltin
		if err := r.Register(b); err != nil {
			return err
		}
	}
	return nil
}

func helpCommand(_ context.Context, inv *Invocation) error {
	if len(inv.Args) > 0 {
		cmd, ok := inv.Registry.Get(inv.Args[0])
		if !ok {
			return fmt.Errorf("no help for %s", inv.Args[0])
		}
		_, err := fmt.Fprintf(inv.Stdout, "usage: %s\n%s\n", usageOf(cmd), cmd.Help)
		return err
	}

	cmds := inv.Registry.All()
	width := 0
	for _, c := range cmds {
		width = max(width, len(c.Name))
	}
	var b strings.Builder
	for _, c := range cmds {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, c.Name, c.Help)
	}
	_, err := fmt.Fprint(inv.Stdout, b.String())
	return err
}

func usageOf(c Command) string {
	if c.Usage != "" {
		return c.Usage
	}
	return c.Name
}

func echoCommand(_ context.Context, inv *Invocation) error {
	_, err := fmt.Fprintln(inv.Stdout, strings.Join(inv.Args, " "))
	return err
}

func sizeCommand(_ context.Context, inv *Invocation) error {
	_, err := fmt.Fprintln(inv.Stdout, inv.Session.Terminal().Size().String())
	return err
}

func termCommand(_ context.Context, inv *Invocation) error {
	_, err := fmt.Fprintln(inv.Stdout, inv.Session.Terminal().Type())
	return err
}

func getpropCommand(_ context.Context, inv *Invocation) error {
	if len(inv.Args) != 1 {
		return usageError{usage: "getprop NAME"}
	}
	v, ok := inv.Session.Property(inv.Args[0])
	if !ok {
		return fmt.Errorf("%s: not set", inv.Args[0])
	}
	_, err := fmt.Fprintln(inv.Stdout, v)
	return err
}

func exitCommand(context.Context, *Invocation) error {
	return errExit
}
