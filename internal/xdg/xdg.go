// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg provides XDG Base Directory paths for telnetd.
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "telnetd"

// home resolves the home-relative fallback for an XDG variable.
func home(env string, rel ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	h := os.Getenv("HOME")
	if h == "" {
		return "", fmt.Errorf("neither %s nor HOME is set", env)
	}
	return filepath.Join(append(append([]string{h}, rel...), appName)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/telnetd, falling back to ~/.config.
func ConfigDir() (string, error) {
	return home("XDG_CONFIG_HOME", ".config")
}

// StateDir returns $XDG_STATE_HOME/telnetd, falling back to ~/.local/state.
func StateDir() (string, error) {
	return home("XDG_STATE_HOME", ".local", "state")
}

// RuntimeDir returns $XDG_RUNTIME_DIR/telnetd, falling back to StateDir()/run.
func RuntimeDir() (string, error) {
	if base := os.Getenv("XDG_RUNTIME_DIR"); base != "" {
		return filepath.Join(base, appName), nil
	}
	state, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(state, "run"), nil
}

// ConfigFile returns the default configuration file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "telnetd.yaml"), nil
}

// ControlSocket returns the default control socket path.
func ControlSocket() (string, error) {
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "control.sock"), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
