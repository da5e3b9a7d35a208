// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads telnetd configuration from built-in defaults, an
// optional YAML file and command-line flags, in increasing precedence.
package config

import (
	"net"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/auth"
	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/daemon"
	"github.com/holomush/telnetd/internal/logging"
	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/shell"
)

// CodeInvalid marks configuration that fails validation.
const CodeInvalid = "CONFIG_INVALID"

// DefaultMetricsAddr is where /metrics and the health probes listen.
const DefaultMetricsAddr = "127.0.0.1:9119"

// Config is the complete telnetd configuration.
type Config struct {
	Listen      ListenConfig      `koanf:"listen" json:"listen,omitempty"`
	Connections ConnectionsConfig `koanf:"connections" json:"connections,omitempty"`
	Shell       ShellConfig       `koanf:"shell" json:"shell,omitempty"`
	Auth        AuthConfig        `koanf:"auth" json:"auth,omitempty"`
	Log         LogConfig         `koanf:"log" json:"log,omitempty"`
	Metrics     MetricsConfig     `koanf:"metrics" json:"metrics,omitempty"`
	Control     ControlConfig     `koanf:"control" json:"control,omitempty"`
}

// ListenConfig is the telnet endpoint.
type ListenConfig struct {
	IP   string `koanf:"ip" json:"ip,omitempty" jsonschema:"description=interface address to bind"`
	Port int    `koanf:"port" json:"port,omitempty" jsonschema:"minimum=0,maximum=65535"`
	// Autostart starts the telnet listener when serve begins.
	Autostart bool `koanf:"autostart" json:"autostart,omitempty"`
}

// ConnectionsConfig bounds and times connections.
type ConnectionsConfig struct {
	Max                  int           `koanf:"max" json:"max,omitempty" jsonschema:"minimum=1"`
	WarningTimeout       time.Duration `koanf:"warning_timeout" json:"warning_timeout,omitempty"`
	DisconnectTimeout    time.Duration `koanf:"disconnect_timeout" json:"disconnect_timeout,omitempty"`
	HousekeepingInterval time.Duration `koanf:"housekeeping_interval" json:"housekeeping_interval,omitempty"`
	NegotiationTimeout   time.Duration `koanf:"negotiation_timeout" json:"negotiation_timeout,omitempty"`
	ProtocolWarningLimit int           `koanf:"protocol_warning_limit" json:"protocol_warning_limit,omitempty"`
	// Allow lists glob patterns for permitted remote IPs. Empty allows all.
	Allow []string `koanf:"allow" json:"allow,omitempty"`
}

// ShellConfig selects and configures the session shell.
type ShellConfig struct {
	Prompt     string            `koanf:"prompt" json:"prompt,omitempty"`
	Script     string            `koanf:"script" json:"script,omitempty" jsonschema:"description=Lua file defining extra commands"`
	Exec       []string          `koanf:"exec" json:"exec,omitempty" jsonschema:"description=program and arguments run under a pty instead of the builtin shell"`
	Properties map[string]string `koanf:"properties" json:"properties,omitempty"`
}

// AuthConfig enables the login prompt when Users is non-empty.
type AuthConfig struct {
	// Users maps user names to argon2id PHC hashes.
	Users            map[string]string `koanf:"users" json:"users,omitempty"`
	MaxAttempts      int               `koanf:"max_attempts" json:"max_attempts,omitempty" jsonschema:"minimum=1"`
	LockoutThreshold int               `koanf:"lockout_threshold" json:"lockout_threshold,omitempty"`
	LockoutDuration  time.Duration     `koanf:"lockout_duration" json:"lockout_duration,omitempty"`
	FailureDelay     time.Duration     `koanf:"failure_delay" json:"failure_delay,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// ControlConfig locates the control socket. Empty means the XDG runtime path.
type ControlConfig struct {
	Socket string `koanf:"socket" json:"socket,omitempty"`
}

// Default returns the built-in configuration.
func Default() Config {
	conns := connection.DefaultConfig()
	return Config{
		Listen: ListenConfig{IP: daemon.DefaultIP, Port: daemon.DefaultPort, Autostart: true},
		Connections: ConnectionsConfig{
			Max:                  conns.MaxConnections,
			WarningTimeout:       conns.WarningTimeout,
			DisconnectTimeout:    conns.DisconnectTimeout,
			HousekeepingInterval: conns.HousekeepingInterval,
			NegotiationTimeout:   conns.NegotiationTimeout,
			ProtocolWarningLimit: conns.ProtocolWarningLimit,
		},
		Shell: ShellConfig{Prompt: shell.DefaultPrompt},
		Auth:  AuthConfig{MaxAttempts: session.DefaultMaxAttempts},
		Log:   LogConfig{Format: "json", Level: "info"},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
	}
}

// ManagerConfig converts the connection settings for the connection manager.
func (c ConnectionsConfig) ManagerConfig() connection.Config {
	return connection.Config{
		MaxConnections:       c.Max,
		WarningTimeout:       c.WarningTimeout,
		DisconnectTimeout:    c.DisconnectTimeout,
		HousekeepingInterval: c.HousekeepingInterval,
		NegotiationTimeout:   c.NegotiationTimeout,
		ProtocolWarningLimit: c.ProtocolWarningLimit,
		Allow:                c.Allow,
	}
}

// AuthEnabled reports whether logins are required.
func (c AuthConfig) AuthEnabled() bool { return len(c.Users) > 0 }

func invalid(key string, format string, args ...any) error {
	return oops.Code(CodeInvalid).With("key", key).Errorf(format, args...)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Listen.IP != "" && net.ParseIP(c.Listen.IP) == nil {
		return invalid("listen.ip", "listen.ip %q is not an IP address", c.Listen.IP)
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return invalid("listen.port", "listen.port %d out of range 0..65535", c.Listen.Port)
	}

	if c.Connections.Max < 1 {
		return invalid("connections.max", "connections.max must be at least 1")
	}
	for key, d := range map[string]time.Duration{
		"connections.warning_timeout":       c.Connections.WarningTimeout,
		"connections.disconnect_timeout":    c.Connections.DisconnectTimeout,
		"connections.housekeeping_interval": c.Connections.HousekeepingInterval,
		"connections.negotiation_timeout":   c.Connections.NegotiationTimeout,
	} {
		if d <= 0 {
			return invalid(key, "%s must be positive", key)
		}
	}

	if c.Shell.Script != "" && len(c.Shell.Exec) > 0 {
		return invalid("shell", "shell.script and shell.exec are mutually exclusive")
	}

	if c.Auth.MaxAttempts < 1 {
		return invalid("auth.max_attempts", "auth.max_attempts must be at least 1")
	}
	for user, hash := range c.Auth.Users {
		if err := auth.CheckHash(hash); err != nil {
			return oops.Code(CodeInvalid).With("key", "auth.users").With("user", user).Errorf("auth.users.%s: %v", user, err)
		}
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level %q is not a level", c.Log.Level)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return invalid("metrics.addr", "metrics.addr %q: %v", c.Metrics.Addr, err)
		}
	}
	return nil
}
