// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package connection manages live telnet clients: one Connection per socket,
// and a Manager that admits, watches and shuts them down.
package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/telnetd/internal/telnet"
	"github.com/holomush/telnetd/internal/terminal"
	"github.com/holomush/telnetd/pkg/errutil"
)

var tracer = otel.Tracer("telnetd/connection")

var defaultSize = terminal.Size{Cols: telnet.DefaultColumns, Rows: telnet.DefaultRows}

// Close bounds.
const (
	outputCloseTimeout = 2 * time.Second
	sessionExitTimeout = 5 * time.Second
)

// State is a connection's lifecycle state.
type State int32

// Connection states, in the only order they are entered.
const (
	StateNegotiating State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "NEGOTIATING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Handler supplies the body of every session and is told when a connection
// begins tearing down.
type Handler interface {
	// ServeConnection runs once the connection is ACTIVE. The connection is
	// closed when it returns.
	ServeConnection(ctx context.Context, c *Connection) error
	// ConnectionClosed is called once when the connection enters CLOSING,
	// before its streams are closed.
	ConnectionClosed(c *Connection)
}

// HandlerFuncs adapts a pair of functions to Handler. Either may be nil.
type HandlerFuncs struct {
	Serve  func(ctx context.Context, c *Connection) error
	Closed func(c *Connection)
}

// ServeConnection implements Handler.
func (h HandlerFuncs) ServeConnection(ctx context.Context, c *Connection) error {
	if h.Serve == nil {
		return nil
	}
	return h.Serve(ctx, c)
}

// ConnectionClosed implements Handler.
func (h HandlerFuncs) ConnectionClosed(c *Connection) {
	if h.Closed != nil {
		h.Closed(c)
	}
}

type connConfig struct {
	negotiationTimeout   time.Duration
	protocolWarningLimit int
}

// Connection is one admitted client.
type Connection struct {
	conn    net.Conn
	data    *Data
	stream  *telnet.IO
	handler Handler
	logger  *slog.Logger
	cfg     connConfig
	release func(*Connection)

	ctx    context.Context
	cancel context.CancelFunc

	state     atomic.Int32
	term      atomic.Pointer[terminal.Terminal]
	closeOnce sync.Once

	sessionDone chan struct{}
	done        chan struct{}

	emitMu    sync.Mutex
	lmu       sync.RWMutex
	listeners []Listener
}

func newConnection(conn net.Conn, h Handler, cfg connConfig, logger *slog.Logger, listeners []Listener, release func(*Connection)) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	data := newData(conn.RemoteAddr().String(), time.Now())
	c := &Connection{
		conn:        conn,
		data:        data,
		handler:     h,
		cfg:         cfg,
		release:     release,
		ctx:         ctx,
		cancel:      cancel,
		sessionDone: make(chan struct{}),
		done:        make(chan struct{}),
		listeners:   append([]Listener(nil), listeners...),
		logger: logger.With(
			"conn_id", data.ID().String(),
			"remote_addr", data.RemoteAddr(),
		),
	}
	c.stream = telnet.NewIO(conn,
		telnet.WithObserver(observer{c}),
		telnet.WithActivity(func() { c.data.Touch(time.Now()) }),
		telnet.WithLogger(c.logger),
	)
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() ulid.ULID { return c.data.ID() }

// Data returns the connection descriptor.
func (c *Connection) Data() *Data { return c.data }

// Stream returns the telnet byte stream.
func (c *Connection) Stream() *telnet.IO { return c.stream }

// Terminal returns the connection's terminal, or nil before it is ACTIVE.
func (c *Connection) Terminal() *terminal.Terminal { return c.term.Load() }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

// Logger returns a logger annotated with the connection's identity.
func (c *Connection) Logger() *slog.Logger { return c.logger }

// Done is closed once the connection reaches CLOSED.
func (c *Connection) Done() <-chan struct{} { return c.done }

// AddListener subscribes l to this connection's events.
func (c *Connection) AddListener(l Listener) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Close requests teardown and returns immediately. Repeated and concurrent
// calls collapse into one teardown.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		go c.teardown()
	})
	return nil
}

// forceClose drops the socket without waiting on the session.
func (c *Connection) forceClose() {
	_ = c.Close()
	_ = c.conn.Close()
}

// run negotiates, runs the session and closes the connection.
func (c *Connection) run() {
	defer close(c.sessionDone)
	defer func() {
		if r := recover(); r != nil {
			errutil.LogError(c.logger, "session panicked", sessionPanic(r))
			_ = c.Close()
		}
	}()

	n, err := c.stream.Negotiate(c.ctx, c.cfg.negotiationTimeout)
	if err != nil {
		if !orderly(err) {
			c.logger.Debug("negotiation failed", "error", err)
		}
		_ = c.Close()
		return
	}
	if n.TimedOut {
		c.logger.Debug("negotiation timed out, using defaults")
	}

	c.data.setTerminalType(n.TerminalType)
	c.data.setSize(terminal.Size{Cols: n.Cols, Rows: n.Rows})

	term := terminal.New(n.TerminalType, c.data.Size(), c.stream, c.stream)
	attrs := term.Attributes()
	attrs.Echo = n.Echo
	term.SetAttributes(attrs)
	c.term.Store(term)

	if !c.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive)) {
		return
	}
	c.logger.Info("connection active",
		"terminal_type", n.TerminalType,
		"cols", n.Cols,
		"rows", n.Rows)

	// A size reported during negotiation is a change from the default
	// geometry. The terminal holds the WINCH until the session subscribes.
	if size := term.Size(); size != defaultSize {
		term.Raise(terminal.SignalWINCH)
		c.emit(Event{Kind: EventGeometryChanged, Size: size})
	}

	ctx, span := tracer.Start(c.ctx, "connection.session",
		trace.WithAttributes(
			attribute.String("connection.id", c.ID().String()),
			attribute.String("connection.remote_addr", c.data.RemoteAddr()),
			attribute.String("terminal.type", n.TerminalType),
		),
	)
	err = c.handler.ServeConnection(ctx, c)
	if err != nil && !orderly(err) {
		err = sessionError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errutil.LogError(c.logger, "session ended with error", err)
	}
	span.End()

	_ = c.Close()
}

// orderly reports whether err marks a normal end of the session.
func orderly(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, telnet.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}

func (c *Connection) teardown() {
	c.cancel()

	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("close hook panicked", "panic", r)
			}
		}()
		c.handler.ConnectionClosed(c)
	}()
	if term := c.term.Load(); term != nil {
		term.Raise(terminal.SignalHUP)
	}

	if err := c.stream.CloseOutput(outputCloseTimeout); err != nil {
		c.logger.Debug("flush on close failed", "error", err)
	}
	_ = c.stream.CloseInput()

	timer := time.NewTimer(sessionExitTimeout)
	select {
	case <-c.sessionDone:
		timer.Stop()
	case <-timer.C:
		c.logger.Warn("session did not exit, forcing close")
	}
	_ = c.conn.Close()

	c.state.Store(int32(StateClosed))
	recordSessionDuration(time.Since(c.data.LoginTime()))
	c.logger.Info("connection closed")

	if c.release != nil {
		c.release(c)
	}
	close(c.done)
}

// emit delivers an event to every listener in registration order. Events on
// a closing connection are dropped, except TIMED_OUT which then closes it.
func (c *Connection) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	if c.State() >= StateClosing {
		return
	}
	ev.Conn = c
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	recordEvent(ev.Kind)
	c.logger.Debug("connection event", "event", ev.Kind.String())

	c.lmu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.lmu.RUnlock()

	for _, l := range listeners {
		c.deliver(l, ev)
	}

	if ev.Kind == EventTimedOut {
		_ = c.Close()
	}
}

func (c *Connection) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("connection listener panicked",
				"event", ev.Kind.String(), "panic", r)
		}
	}()
	l(ev)
}

// observer turns telnet protocol events into terminal updates and
// connection events.
type observer struct {
	c *Connection
}

func (o observer) TerminalType(name string) {
	o.c.data.setTerminalType(name)
	if term := o.c.term.Load(); term != nil {
		term.SetType(name)
	}
}

func (o observer) WindowSize(cols, rows int) {
	size := terminal.Size{Cols: cols, Rows: rows}
	o.c.data.setSize(size)

	term := o.c.term.Load()
	if term == nil {
		return
	}
	if term.SetSize(cols, rows) {
		term.Raise(terminal.SignalWINCH)
		o.c.emit(Event{Kind: EventGeometryChanged, Size: size})
	}
}

func (o observer) Command(cmd byte) {
	switch cmd {
	case telnet.IP:
		o.c.emit(Event{Kind: EventLogoutRequest})
	case telnet.BRK:
		o.c.emit(Event{Kind: EventBreakSent})
	}
}

func (o observer) ProtocolWarning(reason string) {
	ProtocolWarnings.Inc()
	o.c.logger.Debug("telnet protocol warning", "reason", reason)

	limit := o.c.cfg.protocolWarningLimit
	if limit > 0 && o.c.stream.ProtocolWarnings() > limit {
		o.c.logger.Warn("too many protocol warnings, closing",
			"warnings", o.c.stream.ProtocolWarnings())
		_ = o.c.Close()
	}
}
