// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package daemon is the start/stop/status controller for the telnet server.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/holomush/telnetd/internal/connection"
	"github.com/holomush/telnetd/internal/listener"
	"github.com/holomush/telnetd/pkg/errutil"
)

// Defaults applied when start is given no endpoint.
const (
	DefaultIP   = "127.0.0.1"
	DefaultPort = 2019
)

// State is the controller's run state.
type State int

// Controller states.
const (
	StateNotRunning State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "NOT_RUNNING"
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "RUNNING":
		*s = StateRunning
	case "NOT_RUNNING":
		*s = StateNotRunning
	default:
		return usageError("unknown state %q", string(b))
	}
	return nil
}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State     `json:"state" yaml:"state"`
	IP          string    `json:"ip,omitempty" yaml:"ip,omitempty"`
	Port        int       `json:"port,omitempty" yaml:"port,omitempty"`
	Connections int       `json:"connections" yaml:"connections"`
	Since       time.Time `json:"since,omitzero" yaml:"since,omitempty"`
}

// Running reports whether the server is accepting connections.
func (s Status) Running() bool { return s.State == StateRunning }

// Options configures a Controller.
type Options struct {
	Connections connection.Config
	Handler     connection.Handler
	Listeners   []connection.Listener
	Logger      *slog.Logger
}

// Controller owns at most one running listener and connection manager.
type Controller struct {
	opts   Options
	logger *slog.Logger

	// opMu serialises Start and Stop; mu guards the fields read by Status.
	opMu sync.Mutex

	mu       sync.RWMutex
	state    State
	ip       string
	port     int
	since    time.Time
	manager  *connection.Manager
	listener *listener.Listener
	cancel   context.CancelFunc
}

// New returns a stopped controller.
func New(opts Options) (*Controller, error) {
	if opts.Handler == nil {
		return nil, usageError("a session handler is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger}, nil
}

// Start binds ip:port and begins admitting connections. An empty ip means
// DefaultIP. Port 0 picks a free port, reported by Status.
func (c *Controller) Start(ctx context.Context, ip string, port int) error {
	if ip == "" {
		ip = DefaultIP
	}
	if net.ParseIP(ip) == nil {
		return usageError("invalid ip address %q", ip)
	}
	if port < 0 || port > 65535 {
		return usageError("invalid port %d", port)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if st := c.Status(); st.Running() {
		return alreadyRunning(st.IP, st.Port)
	}

	opts := []connection.ManagerOption{connection.WithLogger(c.logger)}
	for _, l := range c.opts.Listeners {
		opts = append(opts, connection.WithListener(l))
	}
	mgr, err := connection.NewManager(c.opts.Connections, c.opts.Handler, opts...)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	ln := listener.New(addr, mgr, listener.WithLogger(c.logger))
	if err := ln.Start(ctx); err != nil {
		return err
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}

	hkCtx, cancel := context.WithCancel(context.Background())
	mgr.Start(hkCtx)

	c.mu.Lock()
	c.state = StateRunning
	c.ip = ip
	c.port = port
	c.since = time.Now()
	c.manager = mgr
	c.listener = ln
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("telnetd started", "ip", ip, "port", port)
	return nil
}

// Stop stops accepting, drains live connections and returns to NOT_RUNNING.
func (c *Controller) Stop(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.RLock()
	state, mgr, ln, cancel := c.state, c.manager, c.listener, c.cancel
	c.mu.RUnlock()

	if state != StateRunning {
		return ErrNotRunning
	}

	if err := ln.Stop(); err != nil {
		c.logger.Debug("listener already stopped", "error", err)
	}
	if err := mgr.Shutdown(ctx); err != nil {
		errutil.LogError(c.logger, "connections did not drain cleanly", err)
	}
	cancel()

	c.mu.Lock()
	c.state = StateNotRunning
	c.ip = ""
	c.port = 0
	c.since = time.Time{}
	c.manager = nil
	c.listener = nil
	c.cancel = nil
	c.mu.Unlock()

	c.logger.Info("telnetd stopped")
	return nil
}

// Status returns the current state and endpoint.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateRunning {
		return Status{State: StateNotRunning}
	}
	return Status{
		State:       StateRunning,
		IP:          c.ip,
		Port:        c.port,
		Connections: c.manager.Count(),
		Since:       c.since,
	}
}

// Manager returns the running connection manager, or nil.
func (c *Controller) Manager() *connection.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manager
}
