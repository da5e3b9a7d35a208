// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/session"
)

// MaxNameLength is the maximum length of a command name.
const MaxNameLength = 20

var namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_!?@#$%^+\-]{0,19}$`)

// Invocation is what a command sees when it runs.
type Invocation struct {
	Name    string
	Args    []string
	Session session.Context
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	// Registry is the registry the command was found in.
	Registry *Registry
}

// Handler runs one command.
type Handler func(ctx context.Context, inv *Invocation) error

// Command is a registered shell command.
type Command struct {
	Name    string
	Help    string // one line
	Usage   string
	Source  string // "builtin" or the script path
	Handler Handler
}

// Registry maps command names to commands. It is safe for concurrent use.
type Registry struct {
	commands map[string]Command
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(map[string]Command),
		logger:   logger,
	}
}

// Register adds cmd. An existing command of the same name is replaced and a
// warning logged.
func (r *Registry) Register(cmd Command) error {
	if err := ValidateName(cmd.Name); err != nil {
		return err
	}
	if cmd.Handler == nil {
		return oops.Code(CodeInvalidName).With("command", cmd.Name).Errorf("command %s has no handler", cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.commands[cmd.Name]; ok {
		r.logger.Warn("command conflict: overwriting existing command",
			"command", cmd.Name,
			"previous_source", existing.Source,
			"new_source", cmd.Source)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Get returns the command registered under name.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// All returns the registered commands sorted by name.
func (r *Registry) All() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateName reports whether name can be registered as a command.
func ValidateName(name string) error {
	if name == "" {
		return oops.Code(CodeInvalidName).Errorf("command name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return oops.Code(CodeInvalidName).
			With("name", name).
			With("max", MaxNameLength).
			Errorf("command name exceeds maximum length of %d", MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return oops.Code(CodeInvalidName).
			With("name", name).
			Errorf("command name must start with a letter and contain only letters, digits, or _!?@#$%%^+-")
	}
	return nil
}
