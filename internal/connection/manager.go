// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/telnet"
)

// Manager defaults.
const (
	DefaultMaxConnections       = 1000
	DefaultWarningTimeout       = 5 * time.Minute
	DefaultDisconnectTimeout    = 5 * time.Minute
	DefaultHousekeepingInterval = 60 * time.Second
	DefaultProtocolWarningLimit = 16
)

const (
	busyMessage   = "telnetd: server busy, try again later\r\n"
	deniedMessage = "telnetd: access denied\r\n"
	refusalWrite  = time.Second
	forcedDrain   = sessionExitTimeout + time.Second
)

// Config holds connection manager settings.
type Config struct {
	MaxConnections       int
	WarningTimeout       time.Duration
	DisconnectTimeout    time.Duration
	HousekeepingInterval time.Duration
	NegotiationTimeout   time.Duration
	// ProtocolWarningLimit closes a connection after this many framing
	// problems. Negative disables the limit.
	ProtocolWarningLimit int
	// Allow lists glob patterns matched against the remote IP. Empty admits everyone.
	Allow []string
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{
		MaxConnections:       DefaultMaxConnections,
		WarningTimeout:       DefaultWarningTimeout,
		DisconnectTimeout:    DefaultDisconnectTimeout,
		HousekeepingInterval: DefaultHousekeepingInterval,
		NegotiationTimeout:   telnet.DefaultNegotiationTimeout,
		ProtocolWarningLimit: DefaultProtocolWarningLimit,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.WarningTimeout <= 0 {
		c.WarningTimeout = d.WarningTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = d.DisconnectTimeout
	}
	if c.HousekeepingInterval <= 0 {
		c.HousekeepingInterval = d.HousekeepingInterval
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = d.NegotiationTimeout
	}
	if c.ProtocolWarningLimit == 0 {
		c.ProtocolWarningLimit = d.ProtocolWarningLimit
	}
	return c
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithListener subscribes l to the events of every connection the manager admits.
func WithListener(l Listener) ManagerOption {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// Manager owns the set of live connections.
type Manager struct {
	cfg       Config
	handler   Handler
	logger    *slog.Logger
	allow     []glob.Glob
	listeners []Listener

	mu       sync.Mutex
	live     map[ulid.ULID]*Connection
	shutdown bool
	wg       sync.WaitGroup

	hkOnce   sync.Once
	hkCancel context.CancelFunc
	hkDone   chan struct{}
}

// NewManager returns a manager running h for every admitted connection.
func NewManager(cfg Config, h Handler, opts ...ManagerOption) (*Manager, error) {
	if h == nil {
		return nil, oops.Code(CodeConfig).Errorf("connection handler is required")
	}
	m := &Manager{
		cfg:     cfg.withDefaults(),
		handler: h,
		logger:  slog.Default(),
		live:    make(map[ulid.ULID]*Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, pattern := range m.cfg.Allow {
		g, err := glob.Compile(pattern, '.', ':')
		if err != nil {
			return nil, oops.Code(CodeConfig).With("pattern", pattern).Wrapf(err, "invalid allow pattern")
		}
		m.allow = append(m.allow, g)
	}
	return m, nil
}

// Config returns the effective settings.
func (m *Manager) Config() Config { return m.cfg }

// Start launches the housekeeping loop. It stops when ctx is cancelled or
// Shutdown is called.
func (m *Manager) Start(ctx context.Context) {
	m.hkOnce.Do(func() {
		hkCtx, cancel := context.WithCancel(ctx)
		m.hkCancel = cancel
		m.hkDone = make(chan struct{})
		go func() {
			defer close(m.hkDone)
			m.housekeep(hkCtx)
		}()
	})
}

// Admit takes ownership of conn. It starts a session when the peer is allowed
// and capacity remains; otherwise it writes a short refusal, closes conn and
// returns ErrDenied, ErrBusy or ErrShuttingDown.
func (m *Manager) Admit(conn net.Conn) error {
	if !m.allowed(conn.RemoteAddr()) {
		recordAdmission(ResultDenied)
		m.refuse(conn, deniedMessage)
		return ErrDenied
	}

	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		recordAdmission(ResultShutdown)
		_ = conn.Close()
		return ErrShuttingDown
	}
	if len(m.live) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		recordAdmission(ResultBusy)
		m.logger.Warn("connection limit reached, refusing",
			"remote_addr", conn.RemoteAddr().String(),
			"max", m.cfg.MaxConnections)
		m.refuse(conn, busyMessage)
		return ErrBusy
	}
	c := newConnection(conn, m.handler, connConfig{
		negotiationTimeout:   m.cfg.NegotiationTimeout,
		protocolWarningLimit: m.cfg.ProtocolWarningLimit,
	}, m.logger, m.listeners, m.release)
	m.live[c.ID()] = c
	m.wg.Add(1)
	m.mu.Unlock()

	recordAdmission(ResultAccepted)
	ConnectionsActive.Inc()
	c.logger.Info("connection admitted")

	go c.run()
	return nil
}

func (m *Manager) refuse(conn net.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(refusalWrite))
	_, _ = conn.Write([]byte(msg))
	_ = conn.Close()
}

func (m *Manager) allowed(addr net.Addr) bool {
	if len(m.allow) == 0 {
		return true
	}
	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, g := range m.allow {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// release drops c from the live set once it is CLOSED.
func (m *Manager) release(c *Connection) {
	m.mu.Lock()
	_, ok := m.live[c.ID()]
	delete(m.live, c.ID())
	m.mu.Unlock()

	if ok {
		ConnectionsActive.Dec()
		m.wg.Done()
	}
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Get returns the live connection with the given id, or nil.
func (m *Manager) Get(id ulid.ULID) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}

// Connections returns a snapshot of the live connections.
func (m *Manager) Connections() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Connection, 0, len(m.live))
	for _, c := range m.live {
		out = append(out, c)
	}
	return out
}

// Shutdown stops admission, times out every live connection and waits for
// them to close, bounded by the disconnect timeout or ctx. Connections still
// open after that are closed forcibly.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.stopHousekeeping()

	conns := m.Connections()
	if len(conns) > 0 {
		m.logger.Info("closing connections", "count", len(conns))
	}
	for _, c := range conns {
		c.emit(Event{Kind: EventTimedOut})
		_ = c.Close()
	}

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(m.cfg.DisconnectTimeout)
	defer timer.Stop()
	select {
	case <-drained:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	remaining := m.Connections()
	m.logger.Warn("forcing remaining connections closed", "count", len(remaining))
	for _, c := range remaining {
		c.forceClose()
	}

	select {
	case <-drained:
		return nil
	case <-time.After(forcedDrain):
		return oops.Code(CodeTimeout).
			With("remaining", m.Count()).
			Errorf("connections did not drain")
	}
}

func (m *Manager) stopHousekeeping() {
	m.hkOnce.Do(func() {})
	if m.hkCancel != nil {
		m.hkCancel()
		<-m.hkDone
	}
}
