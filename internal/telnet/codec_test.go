// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package telnet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	data     []byte
	tokens   []Token
	warnings []string
}

func decodeAll(input []byte) decoded {
	var out decoded
	d := NewDecoder(func(reason string) {
		out.warnings = append(out.warnings, reason)
	})
	collect := func(tok Token) {
		if tok.Kind == TokenData {
			out.data = append(out.data, tok.Data)
			return
		}
		out.tokens = append(out.tokens, tok)
	}
	for _, b := range input {
		if tok, ok := d.Feed(b); ok {
			collect(tok)
		}
		if tok, ok := d.Pending(); ok {
			collect(tok)
		}
	}
	if tok, ok := d.Flush(); ok {
		collect(tok)
	}
	return out
}

func TestDecoder_LineEndings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"CR LF becomes LF", "ls\r\n", "ls\n"},
		{"CR NUL becomes LF", "ls\r\x00", "ls\n"},
		{"bare LF kept", "ls\n", "ls\n"},
		{"lone CR before data kept", "a\rb", "a\rb"},
		{"CR CR LF", "\r\r\n", "\r\n"},
		{"trailing CR flushed", "a\r", "a\r"},
		{"multiple lines", "one\r\ntwo\r\n", "one\ntwo\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeAll([]byte(tt.input))
			assert.Equal(t, tt.want, string(got.data))
			assert.Empty(t, got.warnings)
		})
	}
}

func TestDecoder_CRBeforeIAC(t *testing.T) {
	got := decodeAll([]byte{'a', cr, IAC, NOP, 'b'})

	assert.Equal(t, []byte{'a', cr, 'b'}, got.data)
	require.Len(t, got.tokens, 1)
	assert.Equal(t, NOP, got.tokens[0].Command)
}

func TestDecoder_EscapedIAC(t *testing.T) {
	got := decodeAll([]byte{'A', IAC, IAC, 'B'})

	assert.Equal(t, []byte{'A', 0xFF, 'B'}, got.data)
	assert.Empty(t, got.tokens)
}

func TestDecoder_Commands(t *testing.T) {
	for _, cmd := range []byte{NOP, BRK, IP, AYT, EC, EL, GA, DM, AO} {
		t.Run(CommandName(cmd), func(t *testing.T) {
			got := decodeAll([]byte{'x', IAC, cmd, 'y'})

			assert.Equal(t, "xy", string(got.data))
			require.Len(t, got.tokens, 1)
			assert.Equal(t, TokenCommand, got.tokens[0].Kind)
			assert.Equal(t, cmd, got.tokens[0].Command)
		})
	}
}

func TestDecoder_Negotiation(t *testing.T) {
	got := decodeAll([]byte{IAC, WILL, OptNAWS, IAC, DONT, OptEcho, IAC, DO, 99})

	require.Len(t, got.tokens, 3)
	assert.Equal(t, Token{Kind: TokenNegotiation, Command: WILL, Option: OptNAWS}, got.tokens[0])
	assert.Equal(t, Token{Kind: TokenNegotiation, Command: DONT, Option: OptEcho}, got.tokens[1])
	assert.Equal(t, Token{Kind: TokenNegotiation, Command: DO, Option: 99}, got.tokens[2])
}

func TestDecoder_Subnegotiation(t *testing.T) {
	input := []byte{IAC, SB, OptNAWS, 0, 100, 0, 40, IAC, SE}
	got := decodeAll(input)

	require.Len(t, got.tokens, 1)
	assert.Equal(t, TokenSubnegotiation, got.tokens[0].Kind)
	assert.Equal(t, OptNAWS, got.tokens[0].Option)
	assert.Equal(t, []byte{0, 100, 0, 40}, got.tokens[0].Payload)
}

func TestDecoder_SubnegotiationUnescapesIAC(t *testing.T) {
	got := decodeAll(Subnegotiation(OptNAWS, []byte{0xFF, 0xFF, 0, 24}))

	require.Len(t, got.tokens, 1)
	assert.Equal(t, []byte{0xFF, 0xFF, 0, 24}, got.tokens[0].Payload)
}

func TestDecoder_UnterminatedSubnegotiationIsDiscarded(t *testing.T) {
	var input []byte
	input = append(input, IAC, SB, OptNAWS, 0, 10, 0, 20)
	input = append(input, Subnegotiation(OptTerminalType, append([]byte{ttypeIS}, "xterm"...))...)

	got := decodeAll(input)

	require.Len(t, got.tokens, 1)
	assert.Equal(t, OptTerminalType, got.tokens[0].Option)
	assert.Equal(t, append([]byte{ttypeIS}, "xterm"...), got.tokens[0].Payload)
	assert.Len(t, got.warnings, 1)
	assert.Empty(t, got.data)
}

func TestDecoder_CommandInsideSubnegotiation(t *testing.T) {
	got := decodeAll([]byte{IAC, SB, OptNAWS, 0, 10, IAC, NOP, 'z'})

	require.Len(t, got.tokens, 1)
	assert.Equal(t, TokenCommand, got.tokens[0].Kind)
	assert.Equal(t, NOP, got.tokens[0].Command)
	assert.Equal(t, "z", string(got.data))
	assert.Len(t, got.warnings, 1)
}

func TestDecoder_OversizedSubnegotiation(t *testing.T) {
	input := []byte{IAC, SB, OptTerminalType}
	input = append(input, bytes.Repeat([]byte{'a'}, maxSubnegotiation+10)...)
	input = append(input, IAC, SE, 'k')

	got := decodeAll(input)

	assert.Empty(t, got.tokens)
	assert.Equal(t, "k", string(got.data))
	assert.Len(t, got.warnings, 1)
}

func TestDecoder_StraySE(t *testing.T) {
	got := decodeAll([]byte{'a', IAC, SE, 'b'})

	assert.Equal(t, "ab", string(got.data))
	assert.Len(t, got.warnings, 1)
}

func TestDecoder_EndInsideCommand(t *testing.T) {
	got := decodeAll([]byte{'a', IAC, SB, OptNAWS, 0})

	assert.Equal(t, "a", string(got.data))
	assert.Len(t, got.warnings, 1)
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  []byte
	}{
		{"IAC doubled", []byte{0x41, 0xFF, 0x42}, []byte{0x41, 0xFF, 0xFF, 0x42}},
		{"LF becomes CR LF", []byte("a\nb"), []byte("a\r\nb")},
		{"plain text", []byte("hello"), []byte("hello")},
		{"bare CR sent as is", []byte("a\rb"), []byte("a\rb")},
		{"empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Encode(nil, tt.input))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// CR has no unambiguous wire form of its own, so it is left out.
	var data []byte
	for i := range 256 {
		if byte(i) == cr {
			continue
		}
		data = append(data, byte(i))
	}
	data = append(data, data...)

	got := decodeAll(Encode(nil, data))

	assert.Equal(t, data, got.data)
	assert.Empty(t, got.tokens)
	assert.Empty(t, got.warnings)
}

func TestSubnegotiation(t *testing.T) {
	got := Subnegotiation(OptTerminalType, []byte{ttypeSEND})
	assert.Equal(t, []byte{IAC, SB, OptTerminalType, ttypeSEND, IAC, SE}, got)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "AYT", CommandName(AYT))
	assert.Equal(t, "UNKNOWN", CommandName(7))
}

func TestOptionTable_Receive(t *testing.T) {
	t.Run("unsupported remote option refused", func(t *testing.T) {
		var o optionTable
		reply, enabled := o.receive(WILL, 42)
		assert.Equal(t, Negotiation(DONT, 42), reply)
		assert.False(t, enabled)
	})

	t.Run("unsupported local option refused", func(t *testing.T) {
		var o optionTable
		reply, _ := o.receive(DO, 42)
		assert.Equal(t, Negotiation(WONT, 42), reply)
	})

	t.Run("answer to our request is not acknowledged again", func(t *testing.T) {
		var o optionTable
		o.request(DO, OptNAWS)
		reply, enabled := o.receive(WILL, OptNAWS)
		assert.Nil(t, reply)
		assert.True(t, enabled)
		assert.True(t, o.remote[OptNAWS].enabled)
	})

	t.Run("unsolicited offer is acknowledged once", func(t *testing.T) {
		var o optionTable
		reply, enabled := o.receive(WILL, OptTerminalType)
		assert.Equal(t, Negotiation(DO, OptTerminalType), reply)
		assert.True(t, enabled)

		reply, enabled = o.receive(WILL, OptTerminalType)
		assert.Nil(t, reply)
		assert.False(t, enabled)
	})

	t.Run("refusal of a request", func(t *testing.T) {
		var o optionTable
		o.request(WILL, OptEcho)
		reply, _ := o.receive(DONT, OptEcho)
		assert.Nil(t, reply)
		assert.True(t, o.local[OptEcho].refused)
		assert.False(t, o.local[OptEcho].enabled)
	})

	t.Run("disabling an enabled option is acknowledged", func(t *testing.T) {
		var o optionTable
		o.request(DO, OptNAWS)
		o.receive(WILL, OptNAWS)
		reply, _ := o.receive(WONT, OptNAWS)
		assert.Equal(t, Negotiation(DONT, OptNAWS), reply)
		assert.True(t, o.remote[OptNAWS].refused)
	})
}
