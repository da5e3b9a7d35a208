// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package telnet implements the server side of the telnet protocol subset used
// by telnetd: command parsing, option negotiation, CR/LF canonicalisation and
// IAC escaping, plus a per-connection byte stream layered on top of it.
package telnet

import "strconv"

// Telnet command bytes (RFC 854).
const (
	SE   byte = 240
	NOP  byte = 241
	DM   byte = 242
	BRK  byte = 243
	IP   byte = 244
	AO   byte = 245
	AYT  byte = 246
	EC   byte = 247
	EL   byte = 248
	GA   byte = 249
	SB   byte = 250
	WILL byte = 251
	WONT byte = 252
	DO   byte = 253
	DONT byte = 254
	IAC  byte = 255
)

// Telnet options understood by the server.
const (
	OptEcho            byte = 1
	OptSuppressGoAhead byte = 3
	OptTerminalType    byte = 24
	OptNAWS            byte = 31
)

// TERMINAL-TYPE subnegotiation verbs (RFC 1091).
const (
	ttypeIS   byte = 0
	ttypeSEND byte = 1
)

const (
	cr  byte = '\r'
	lf  byte = '\n'
	nul byte = 0
)

// maxSubnegotiation bounds a single SB payload. Longer payloads are treated as
// malformed and discarded up to the next IAC SE.
const maxSubnegotiation = 512

var commandNames = map[byte]string{
	SE: "SE", NOP: "NOP", DM: "DM", BRK: "BRK", IP: "IP", AO: "AO", AYT: "AYT",
	EC: "EC", EL: "EL", GA: "GA", SB: "SB", WILL: "WILL", WONT: "WONT",
	DO: "DO", DONT: "DONT", IAC: "IAC",
}

// CommandName returns the mnemonic for a command byte.
func CommandName(cmd byte) string {
	if name, ok := commandNames[cmd]; ok {
		return name
	}
	return "UNKNOWN"
}

// TokenKind classifies a decoded token.
type TokenKind int

// Token kinds produced by the Decoder.
const (
	TokenData TokenKind = iota
	TokenCommand
	TokenNegotiation
	TokenSubnegotiation
)

// Token is one unit of the inbound telnet stream.
type Token struct {
	Kind TokenKind
	// Data is the byte for TokenData.
	Data byte
	// Command is the command byte for TokenCommand and the verb
	// (WILL/WONT/DO/DONT) for TokenNegotiation.
	Command byte
	// Option is set for TokenNegotiation and TokenSubnegotiation.
	Option byte
	// Payload holds the unescaped subnegotiation bytes after the option.
	Payload []byte
}

type decodeState int

const (
	stateData decodeState = iota
	stateCR
	stateIAC
	stateNegotiate
	stateSBOption
	stateSBData
	stateSBIAC
	stateSBDiscard
	stateSBDiscardIAC
)

// WarningFunc receives a description of a recoverable framing problem.
type WarningFunc func(reason string)

// Decoder turns raw inbound bytes into tokens, one byte at a time.
// It is not safe for concurrent use.
type Decoder struct {
	state   decodeState
	verb    byte
	option  byte
	payload []byte
	warn    WarningFunc
	// pending holds a token produced as a side effect of resolving a CR.
	pending    Token
	hasPending bool
}

// NewDecoder returns a Decoder reporting framing problems to warn, which may be nil.
func NewDecoder(warn WarningFunc) *Decoder {
	if warn == nil {
		warn = func(string) {}
	}
	return &Decoder{warn: warn}
}

// Feed consumes one byte. It returns a token when b completes one.
func (d *Decoder) Feed(b byte) (Token, bool) {
	switch d.state {
	case stateData:
		switch b {
		case IAC:
			d.state = stateIAC
			return Token{}, false
		case cr:
			d.state = stateCR
			return Token{}, false
		default:
			return dataToken(b), true
		}

	case stateCR:
		d.state = stateData
		switch b {
		case lf, nul:
			return dataToken(lf), true
		case cr:
			// A second CR starts a new pair; deliver the first as-is.
			d.state = stateCR
			return dataToken(cr), true
		case IAC:
			d.state = stateIAC
			return dataToken(cr), true
		default:
			d.pending = dataToken(b)
			d.hasPending = true
			return dataToken(cr), true
		}

	case stateIAC:
		d.state = stateData
		switch b {
		case IAC:
			return dataToken(IAC), true
		case WILL, WONT, DO, DONT:
			d.verb = b
			d.state = stateNegotiate
			return Token{}, false
		case SB:
			d.state = stateSBOption
			return Token{}, false
		case SE:
			d.warn("unexpected IAC SE outside subnegotiation")
			return Token{}, false
		default:
			return Token{Kind: TokenCommand, Command: b}, true
		}

	case stateNegotiate:
		d.state = stateData
		return Token{Kind: TokenNegotiation, Command: d.verb, Option: b}, true

	case stateSBOption:
		d.option = b
		d.payload = d.payload[:0]
		d.state = stateSBData
		return Token{}, false

	case stateSBData:
		if b == IAC {
			d.state = stateSBIAC
			return Token{}, false
		}
		d.appendPayload(b)
		return Token{}, false

	case stateSBIAC:
		switch b {
		case SE:
			d.state = stateData
			payload := make([]byte, len(d.payload))
			copy(payload, d.payload)
			return Token{Kind: TokenSubnegotiation, Option: d.option, Payload: payload}, true
		case IAC:
			d.state = stateSBData
			d.appendPayload(IAC)
			return Token{}, false
		case SB:
			// The previous subnegotiation was never terminated.
			d.warn("unterminated subnegotiation for option " + optionName(d.option))
			d.state = stateSBOption
			return Token{}, false
		default:
			d.warn("unexpected IAC " + CommandName(b) + " inside subnegotiation")
			d.state = stateIAC
			return d.Feed(b)
		}

	case stateSBDiscard:
		if b == IAC {
			d.state = stateSBDiscardIAC
		}
		return Token{}, false

	case stateSBDiscardIAC:
		switch b {
		case SE:
			d.state = stateData
		case SB:
			d.state = stateSBOption
		default:
			d.state = stateSBDiscard
		}
		return Token{}, false
	}
	return Token{}, false
}

// Pending returns a token that was decoded alongside the previous one.
// Callers must drain it after every successful Feed.
func (d *Decoder) Pending() (Token, bool) {
	if !d.hasPending {
		return Token{}, false
	}
	d.hasPending = false
	return d.pending, true
}

// Flush releases a trailing CR held at end of stream.
func (d *Decoder) Flush() (Token, bool) {
	if d.state == stateCR {
		d.state = stateData
		return dataToken(cr), true
	}
	if d.state != stateData {
		d.warn("stream ended inside a telnet command")
		d.state = stateData
	}
	return Token{}, false
}

func (d *Decoder) appendPayload(b byte) {
	if len(d.payload) >= maxSubnegotiation {
		d.warn("subnegotiation for option " + optionName(d.option) + " exceeds limit")
		d.payload = d.payload[:0]
		d.state = stateSBDiscard
		return
	}
	d.payload = append(d.payload, b)
}

func dataToken(b byte) Token {
	return Token{Kind: TokenData, Data: b}
}

// Encode appends the wire form of data to dst: IAC bytes are doubled and
// every LF is sent as CR LF. A bare CR is sent unescaped (not as CR NUL), so
// it does not survive a round trip through the decoder.
func Encode(dst, data []byte) []byte {
	for _, b := range data {
		switch b {
		case IAC:
			dst = append(dst, IAC, IAC)
		case lf:
			dst = append(dst, cr, lf)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Negotiation returns the three-byte sequence IAC verb option.
func Negotiation(verb, option byte) []byte {
	return []byte{IAC, verb, option}
}

// Subnegotiation returns IAC SB option payload IAC SE with IAC bytes in the
// payload doubled.
func Subnegotiation(option byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+5)
	out = append(out, IAC, SB, option)
	for _, b := range payload {
		if b == IAC {
			out = append(out, IAC)
		}
		out = append(out, b)
	}
	return append(out, IAC, SE)
}

func optionName(opt byte) string {
	switch opt {
	case OptEcho:
		return "ECHO"
	case OptSuppressGoAhead:
		return "SUPPRESS-GO-AHEAD"
	case OptTerminalType:
		return "TERMINAL-TYPE"
	case OptNAWS:
		return "NAWS"
	default:
		return strconv.Itoa(int(opt))
	}
}
