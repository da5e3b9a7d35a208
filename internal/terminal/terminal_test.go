// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package terminal

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/telnetd/pkg/errutil"
)

func newTestTerminal(input string) (*Terminal, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return New("xterm", Size{Cols: 80, Rows: 24}, strings.NewReader(input), out), out
}

func TestNew_DefaultsInvalidSize(t *testing.T) {
	term := New("vt100", Size{}, strings.NewReader(""), io.Discard)
	assert.Equal(t, Size{Cols: 80, Rows: 24}, term.Size())
	assert.Equal(t, "vt100", term.Type())
}

func TestTerminal_SetSize(t *testing.T) {
	term, _ := newTestTerminal("")

	assert.True(t, term.SetSize(100, 40))
	assert.Equal(t, Size{Cols: 100, Rows: 40}, term.Size())
	assert.False(t, term.SetSize(100, 40), "unchanged size is not a change")
	assert.False(t, term.SetSize(0, 40))
	assert.Equal(t, "100x40", term.Size().String())
}

func TestTerminal_SingleSubscriber(t *testing.T) {
	term, _ := newTestTerminal("")

	var first, second []Signal
	assert.False(t, term.Raise(SignalINT))

	term.Handle(func(s Signal) { first = append(first, s) })
	prev := term.Handle(func(s Signal) { second = append(second, s) })
	require.NotNil(t, prev)

	assert.True(t, term.Raise(SignalWINCH))
	assert.Empty(t, first)
	assert.Equal(t, []Signal{SignalWINCH}, second)

	term.Handle(nil)
	assert.False(t, term.Raise(SignalINT))
}

func TestTerminal_WINCHHeldForFirstSubscriber(t *testing.T) {
	term, _ := newTestTerminal("")

	assert.False(t, term.Raise(SignalWINCH))
	assert.False(t, term.Raise(SignalWINCH))
	assert.False(t, term.Raise(SignalHUP))

	var first, second []Signal
	term.Handle(func(s Signal) { first = append(first, s) })
	assert.Equal(t, []Signal{SignalWINCH}, first, "held WINCH delivered once on attach")

	term.Handle(func(s Signal) { second = append(second, s) })
	assert.Empty(t, second)

	term.Handle(nil)
	assert.Equal(t, []Signal{SignalWINCH}, first)
}

func TestTerminal_RaiseIsSynchronous(t *testing.T) {
	term, _ := newTestTerminal("")
	var wg sync.WaitGroup
	got := make([]Signal, 0, 1)
	term.Handle(func(s Signal) { got = append(got, s) })

	wg.Add(1)
	go func() {
		defer wg.Done()
		term.Raise(SignalHUP)
	}()
	wg.Wait()

	assert.Equal(t, []Signal{SignalHUP}, got)
}

func TestTerminal_Attributes(t *testing.T) {
	term, _ := newTestTerminal("")
	assert.Equal(t, DefaultAttributes(), term.Attributes())

	a := term.Attributes()
	a.Echo = false
	term.SetAttributes(a)
	assert.False(t, term.Attributes().Echo)
}

func TestSignal_String(t *testing.T) {
	assert.Equal(t, "WINCH", SignalWINCH.String())
	assert.Equal(t, "INT", SignalINT.String())
	assert.Equal(t, "SIG42", Signal(42).String())
}

func TestLineReader_ReadLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
		echo  string
	}{
		{"simple", "ls -l\n", []string{"ls -l"}, "ls -l\n"},
		{"two lines", "a\nb\n", []string{"a", "b"}, "a\nb\n"},
		{"CR terminates", "a\r", []string{"a"}, "a\n"},
		{"erase", "abd\x7fc\n", []string{"abc"}, "abd\b \bc\n"},
		{"backspace", "ab\x08\n", []string{"a"}, "ab\b \b\n"},
		{"erase on empty line", "\x7fx\n", []string{"x"}, "x\n"},
		{"kill", "abc\x15xy\n", []string{"xy"}, "abc\b \b\b \b\b \bxy\n"},
		{"control dropped", "a\x01b\n", []string{"ab"}, "ab\n"},
		{"tab kept", "a\tb\n", []string{"a\tb"}, "a\tb\n"},
		{"erase multibyte rune", "é\x7fe\n", []string{"e"}, "é\b \be\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term, out := newTestTerminal(tt.input)
			lr := NewLineReader(term)
			for _, want := range tt.want {
				got, err := lr.ReadLine()
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
			assert.Equal(t, tt.echo, out.String())
		})
	}
}

func TestLineReader_EOF(t *testing.T) {
	term, _ := newTestTerminal("")
	_, err := NewLineReader(term).ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	term, _ = newTestTerminal("\x04")
	_, err = NewLineReader(term).ReadLine()
	assert.ErrorIs(t, err, io.EOF)

	term, _ = newTestTerminal("ab\x04c\n")
	line, err := NewLineReader(term).ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "abc", line, "EOF character is ignored mid-line")

	term, _ = newTestTerminal("partial")
	line, err = NewLineReader(term).ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "partial", line)
}

func TestLineReader_Interrupt(t *testing.T) {
	term, out := newTestTerminal("rm -rf\x03ls\n")
	var raised []Signal
	term.Handle(func(s Signal) { raised = append(raised, s) })
	lr := NewLineReader(term)

	_, err := lr.ReadLine()
	errutil.AssertErrorCode(t, err, CodeInterrupted)
	assert.Equal(t, []Signal{SignalINT}, raised)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "ls", line)
	assert.Equal(t, "rm -rf^C\nls\n", out.String())
}

func TestLineReader_NonCanonical(t *testing.T) {
	term, out := newTestTerminal("a\x7f\n")
	a := term.Attributes()
	a.Canonical = false
	a.Echo = false
	term.SetAttributes(a)

	line, err := NewLineReader(term).ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "a\x7f", line)
	assert.Empty(t, out.String())
}

func TestLineReader_ReadSecret(t *testing.T) {
	term, out := newTestTerminal("hunter2\nvisible\n")
	lr := NewLineReader(term)

	secret, err := lr.ReadSecret()
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.Equal(t, "\n", out.String())
	assert.True(t, term.Attributes().Echo, "echo restored")

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "visible", line)
	assert.Equal(t, "\nvisible\n", out.String())
}

type chunkReader struct {
	chunks []string
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func TestLineReader_PlainReader(t *testing.T) {
	term := New("dumb", Size{Cols: 80, Rows: 24}, &chunkReader{chunks: []string{"he", "llo\nworld\n"}}, io.Discard)
	lr := NewLineReader(term)

	line, err := lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "hello", line)

	line, err = lr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "world", line)
}
