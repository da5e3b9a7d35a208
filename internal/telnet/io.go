// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	bufferSize = 4096

	// Default terminal parameters adopted when negotiation yields nothing.
	DefaultTerminalType = "unknown"
	DefaultColumns      = 80
	DefaultRows         = 24

	eraseChar = 0x7f // injected for IAC EC
	killChar  = 0x15 // injected for IAC EL
)

var aytReply = []byte("\r\n[Yes]\r\n")

// Observer is notified of protocol-level events decoded from the stream.
// Calls are made on the reading goroutine before the read that consumed the
// bytes returns.
type Observer interface {
	TerminalType(name string)
	WindowSize(cols, rows int)
	Command(cmd byte)
	ProtocolWarning(reason string)
}

type nopObserver struct{}

func (nopObserver) TerminalType(string)    {}
func (nopObserver) WindowSize(int, int)    {}
func (nopObserver) Command(byte)           {}
func (nopObserver) ProtocolWarning(string) {}

// IOOption configures an IO.
type IOOption func(*IO)

// WithObserver routes protocol events to o.
func WithObserver(o Observer) IOOption {
	return func(t *IO) {
		if o != nil {
			t.obs = o
		}
	}
}

// WithActivity registers a callback invoked whenever bytes move in either direction.
func WithActivity(fn func()) IOOption {
	return func(t *IO) {
		t.activity = fn
	}
}

// WithLogger sets the logger used for protocol diagnostics.
func WithLogger(l *slog.Logger) IOOption {
	return func(t *IO) {
		if l != nil {
			t.logger = l
		}
	}
}

// IO is the byte stream of one telnet connection. Reads return data bytes
// only; commands and negotiation are consumed transparently. Writes are
// buffered and escaped.
type IO struct {
	conn     net.Conn
	obs      Observer
	activity func()
	logger   *slog.Logger

	rmu     sync.Mutex
	r       *bufio.Reader
	dec     *Decoder
	pending []byte
	opts    optionTable

	termType  string
	cols      int
	rows      int
	sizeKnown bool

	wmu     sync.Mutex
	w       *bufio.Writer
	scratch []byte

	warnings  atomic.Int64
	inClosed  atomic.Bool
	outClosed atomic.Bool
}

// NewIO layers a telnet stream over conn.
func NewIO(conn net.Conn, opts ...IOOption) *IO {
	t := &IO{
		conn:   conn,
		obs:    nopObserver{},
		logger: slog.Default(),
		r:      bufio.NewReaderSize(conn, bufferSize),
		w:      bufio.NewWriterSize(conn, bufferSize),
		cols:   DefaultColumns,
		rows:   DefaultRows,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.dec = NewDecoder(t.protocolWarning)
	return t
}

// ReadByte blocks until a data byte is available or the stream ends.
func (t *IO) ReadByte() (byte, error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	b, _, err := t.next(true)
	return b, err
}

// Read blocks until at least one data byte is available. It returns whatever
// is already buffered up to len(p) without waiting for more, and io.EOF once
// the stream has ended.
func (t *IO) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	t.rmu.Lock()
	defer t.rmu.Unlock()

	b, _, err := t.next(true)
	if err != nil {
		return 0, err
	}
	p[0] = b
	n := 1
	for n < len(p) {
		b, ok, err := t.next(false)
		if err != nil || !ok {
			break
		}
		p[n] = b
		n++
	}
	return n, nil
}

// next returns the next data byte. With block unset it reports ok=false
// rather than waiting on the socket.
func (t *IO) next(block bool) (byte, bool, error) {
	for {
		if len(t.pending) > 0 {
			b := t.pending[0]
			t.pending = t.pending[1:]
			return b, true, nil
		}
		if t.inClosed.Load() {
			return 0, false, io.EOF
		}
		if !block && t.r.Buffered() == 0 {
			return 0, false, nil
		}

		raw, err := t.r.ReadByte()
		if err != nil {
			if tok, ok := t.dec.Flush(); ok {
				t.pending = append(t.pending, tok.Data)
				continue
			}
			return 0, false, t.readError(err)
		}
		t.touch()
		t.consume(raw)
	}
}

func (t *IO) readError(err error) error {
	switch {
	case t.inClosed.Load(), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return io.EOF
	case isTimeout(err):
		return err
	default:
		return ioError("read", err)
	}
}

// consume feeds one raw byte through the decoder. Data lands in t.pending.
func (t *IO) consume(raw byte) {
	if tok, ok := t.dec.Feed(raw); ok {
		t.handle(tok)
	}
	if tok, ok := t.dec.Pending(); ok {
		t.handle(tok)
	}
}

func (t *IO) handle(tok Token) {
	switch tok.Kind {
	case TokenData:
		t.pending = append(t.pending, tok.Data)

	case TokenCommand:
		switch tok.Command {
		case AYT:
			t.writeRaw(aytReply)
		case EC:
			t.pending = append(t.pending, eraseChar)
		case EL:
			t.pending = append(t.pending, killChar)
		}
		t.obs.Command(tok.Command)

	case TokenNegotiation:
		reply, enabled := t.opts.receive(tok.Command, tok.Option)
		if reply != nil {
			t.writeRaw(reply)
		}
		if enabled && tok.Option == OptTerminalType {
			t.writeRaw(Subnegotiation(OptTerminalType, []byte{ttypeSEND}))
		}

	case TokenSubnegotiation:
		t.handleSubnegotiation(tok.Option, tok.Payload)
	}
}

func (t *IO) handleSubnegotiation(opt byte, payload []byte) {
	switch opt {
	case OptTerminalType:
		if len(payload) == 0 || payload[0] != ttypeIS {
			t.protocolWarning("TERMINAL-TYPE subnegotiation without IS")
			return
		}
		name := strings.ToLower(strings.TrimSpace(string(payload[1:])))
		if name == "" {
			name = DefaultTerminalType
		}
		t.termType = name
		t.obs.TerminalType(name)

	case OptNAWS:
		if len(payload) != 4 {
			t.protocolWarning("NAWS subnegotiation with bad length")
			return
		}
		cols := int(payload[0])<<8 | int(payload[1])
		rows := int(payload[2])<<8 | int(payload[3])
		// Zero means "unknown" for that dimension.
		if cols == 0 {
			cols = t.cols
		}
		if rows == 0 {
			rows = t.rows
		}
		t.cols, t.rows = cols, rows
		t.sizeKnown = true
		t.obs.WindowSize(cols, rows)

	default:
		t.logger.Debug("ignoring subnegotiation", "option", optionName(opt))
	}
}

func (t *IO) protocolWarning(reason string) {
	t.warnings.Add(1)
	t.obs.ProtocolWarning(reason)
}

// ProtocolWarnings returns the number of framing problems seen so far.
func (t *IO) ProtocolWarnings() int {
	return int(t.warnings.Load())
}

// Write escapes p and appends it to the output buffer.
func (t *IO) Write(p []byte) (int, error) {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.outClosed.Load() {
		return 0, closedError("write")
	}
	t.scratch = Encode(t.scratch[:0], p)
	if _, err := t.w.Write(t.scratch); err != nil {
		return 0, ioError("write", err)
	}
	t.touch()
	return len(p), nil
}

// WriteByte writes a single data byte.
func (t *IO) WriteByte(b byte) error {
	_, err := t.Write([]byte{b})
	return err
}

// WriteString writes s as data.
func (t *IO) WriteString(s string) (int, error) {
	return t.Write([]byte(s))
}

// Flush transmits buffered output.
func (t *IO) Flush() error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.outClosed.Load() {
		return closedError("flush")
	}
	if err := t.w.Flush(); err != nil {
		return ioError("flush", err)
	}
	return nil
}

// writeRaw sends protocol bytes unescaped and flushes them immediately.
func (t *IO) writeRaw(p []byte) {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	if t.outClosed.Load() {
		return
	}
	if _, err := t.w.Write(p); err != nil {
		t.logger.Debug("failed to write telnet command", "error", err)
		return
	}
	if err := t.w.Flush(); err != nil {
		t.logger.Debug("failed to flush telnet command", "error", err)
	}
}

// CloseOutput flushes pending output, waiting at most timeout, and shuts down
// the write side. Later writes fail with ErrClosed.
func (t *IO) CloseOutput(timeout time.Duration) error {
	if !t.outClosed.CompareAndSwap(false, true) {
		return nil
	}
	// Unblock a writer stuck on a peer that stopped reading.
	_ = t.conn.SetWriteDeadline(time.Now().Add(timeout))

	t.wmu.Lock()
	err := t.w.Flush()
	t.wmu.Unlock()

	if cw, ok := t.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	if err != nil {
		return ioError("flush", err)
	}
	return nil
}

// CloseInput ends the read side; blocked and future reads return io.EOF.
func (t *IO) CloseInput() error {
	if !t.inClosed.CompareAndSwap(false, true) {
		return nil
	}
	_ = t.conn.SetReadDeadline(time.Now())
	if cr, ok := t.conn.(interface{ CloseRead() error }); ok {
		_ = cr.CloseRead()
	}
	return nil
}

// InputClosed reports whether CloseInput has been called.
func (t *IO) InputClosed() bool {
	return t.inClosed.Load()
}

// OutputClosed reports whether CloseOutput has been called.
func (t *IO) OutputClosed() bool {
	return t.outClosed.Load()
}

func (t *IO) touch() {
	if t.activity != nil {
		t.activity()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
