// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"context"
	"time"
)

// DefaultNegotiationTimeout bounds the initial option exchange.
const DefaultNegotiationTimeout = 10 * time.Second

// Negotiated is the outcome of the initial option exchange.
type Negotiated struct {
	TerminalType string
	Cols         int
	Rows         int
	// Echo is set when the client agreed to let the server echo input.
	Echo bool
	// TimedOut is set when the deadline passed before every option settled.
	TimedOut bool
}

// Negotiate sends the server's opening offers (WILL ECHO, WILL SUPPRESS-GO-AHEAD,
// DO NAWS, DO TERMINAL-TYPE) and reads until the client has answered the
// terminal type and window size, the timeout expires, or ctx is cancelled.
// Defaults are adopted for anything left unanswered. Data bytes typed during
// negotiation are kept for the first Read.
func (t *IO) Negotiate(ctx context.Context, timeout time.Duration) (Negotiated, error) {
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}

	t.rmu.Lock()
	defer t.rmu.Unlock()

	var offer []byte
	offer = append(offer, t.opts.request(WILL, OptEcho)...)
	offer = append(offer, t.opts.request(WILL, OptSuppressGoAhead)...)
	offer = append(offer, t.opts.request(DO, OptNAWS)...)
	offer = append(offer, t.opts.request(DO, OptTerminalType)...)
	t.writeRaw(offer)

	_ = t.conn.SetReadDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer func() {
		stop()
		if !t.inClosed.Load() {
			_ = t.conn.SetReadDeadline(time.Time{})
		}
	}()

	timedOut := false
	for !t.settled() {
		raw, err := t.r.ReadByte()
		if err != nil {
			if ctx.Err() != nil {
				return t.negotiated(true), ctx.Err()
			}
			if isTimeout(err) && !t.inClosed.Load() {
				timedOut = true
				break
			}
			return t.negotiated(true), t.readError(err)
		}
		t.touch()
		t.consume(raw)
	}

	n := t.negotiated(timedOut)
	if timedOut {
		t.logger.Debug("telnet negotiation timed out",
			"terminal_type", n.TerminalType, "cols", n.Cols, "rows", n.Rows)
	}
	return n, nil
}

// settled reports whether terminal type and window size are both resolved.
func (t *IO) settled() bool {
	ttype := t.termType != "" || t.opts.remote[OptTerminalType].refused
	naws := t.sizeKnown || t.opts.remote[OptNAWS].refused
	return ttype && naws
}

func (t *IO) negotiated(timedOut bool) Negotiated {
	n := Negotiated{
		TerminalType: t.termType,
		Cols:         t.cols,
		Rows:         t.rows,
		Echo:         t.opts.local[OptEcho].enabled,
		TimedOut:     timedOut,
	}
	if n.TerminalType == "" {
		n.TerminalType = DefaultTerminalType
	}
	if n.Cols < 1 {
		n.Cols = DefaultColumns
	}
	if n.Rows < 1 {
		n.Rows = DefaultRows
	}
	return n
}
