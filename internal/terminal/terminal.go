// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package terminal models the per-connection terminal a shell runs against:
// its negotiated type and size, its line-discipline attributes and a single
// signal subscriber.
package terminal

import (
	"io"
	"strconv"
	"sync"
)

// Size is a terminal geometry in character cells.
type Size struct {
	Cols int
	Rows int
}

// String renders the size as COLSxROWS.
func (s Size) String() string {
	return strconv.Itoa(s.Cols) + "x" + strconv.Itoa(s.Rows)
}

// Signal is delivered to the terminal's subscriber.
type Signal int

// Signals raised on a terminal.
const (
	// SignalWINCH reports a window size change.
	SignalWINCH Signal = iota + 1
	// SignalINT reports an interrupt typed at the keyboard.
	SignalINT
	// SignalHUP reports that the connection is going away.
	SignalHUP
)

func (s Signal) String() string {
	switch s {
	case SignalWINCH:
		return "WINCH"
	case SignalINT:
		return "INT"
	case SignalHUP:
		return "HUP"
	default:
		return "SIG" + strconv.Itoa(int(s))
	}
}

// Handler receives signals raised on a terminal.
type Handler func(Signal)

// Attributes is the line-discipline attribute block.
type Attributes struct {
	// Echo writes typed characters back to the output.
	Echo bool
	// Canonical enables line editing with the special characters below.
	Canonical bool

	Intr  byte
	Erase byte
	Kill  byte
	EOF   byte
}

// DefaultAttributes returns echoing canonical mode with the usual control
// characters (^C, DEL, ^U, ^D).
func DefaultAttributes() Attributes {
	return Attributes{
		Echo:      true,
		Canonical: true,
		Intr:      0x03,
		Erase:     0x7f,
		Kill:      0x15,
		EOF:       0x04,
	}
}

// Terminal is safe for concurrent use.
type Terminal struct {
	in  io.Reader
	out io.Writer

	mu      sync.RWMutex
	typ     string
	size    Size
	attrs   Attributes
	handler Handler
	// winch is a size change raised while nobody was subscribed.
	winch bool
}

// New returns a terminal of the given type and size reading from in and
// writing to out.
func New(typ string, size Size, in io.Reader, out io.Writer) *Terminal {
	if size.Cols < 1 {
		size.Cols = 80
	}
	if size.Rows < 1 {
		size.Rows = 24
	}
	return &Terminal{
		in:    in,
		out:   out,
		typ:   typ,
		size:  size,
		attrs: DefaultAttributes(),
	}
}

// Input returns the terminal's input stream.
func (t *Terminal) Input() io.Reader { return t.in }

// Output returns the terminal's output stream.
func (t *Terminal) Output() io.Writer { return t.out }

// Type returns the terminal type name.
func (t *Terminal) Type() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.typ
}

// SetType replaces the terminal type name.
func (t *Terminal) SetType(typ string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.typ = typ
}

// Size returns the current geometry.
func (t *Terminal) Size() Size {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// SetSize updates the geometry and reports whether it changed. Dimensions
// below one are ignored.
func (t *Terminal) SetSize(cols, rows int) bool {
	if cols < 1 || rows < 1 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	next := Size{Cols: cols, Rows: rows}
	if next == t.size {
		return false
	}
	t.size = next
	return true
}

// Attributes returns a copy of the attribute block.
func (t *Terminal) Attributes() Attributes {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attrs
}

// SetAttributes replaces the attribute block.
func (t *Terminal) SetAttributes(a Attributes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attrs = a
}

// Handle attaches h as the single signal subscriber and returns the one it
// replaces. A nil h detaches. A WINCH raised while nobody was subscribed is
// delivered to h before Handle returns.
func (t *Terminal) Handle(h Handler) Handler {
	t.mu.Lock()
	prev := t.handler
	t.handler = h
	pending := h != nil && t.winch
	if pending {
		t.winch = false
	}
	t.mu.Unlock()

	if pending {
		h(SignalWINCH)
	}
	return prev
}

// Raise delivers sig to the current subscriber on the caller's goroutine.
// It reports whether a subscriber was attached. Without one, WINCH is held
// for the next subscriber and other signals are dropped.
func (t *Terminal) Raise(sig Signal) bool {
	t.mu.Lock()
	h := t.handler
	if h == nil && sig == SignalWINCH {
		t.winch = true
	}
	t.mu.Unlock()

	if h == nil {
		return false
	}
	h(sig)
	return true
}
