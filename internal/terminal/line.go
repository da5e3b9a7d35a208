// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package terminal

import (
	"errors"
	"io"
	"unicode/utf8"

	"github.com/samber/oops"
)

// CodeInterrupted marks a line abandoned with the interrupt character.
const CodeInterrupted = "INTERRUPTED"

// ErrInterrupted is returned by ReadLine when the user types the interrupt
// character. The partial line is discarded.
var ErrInterrupted = errors.New("interrupted")

const (
	backspace = 0x08
	tab       = 0x09
)

var rubout = []byte("\b \b")

type flusher interface {
	Flush() error
}

type singleByteReader struct {
	r   io.Reader
	buf [1]byte
}

func (s *singleByteReader) ReadByte() (byte, error) {
	for {
		n, err := s.r.Read(s.buf[:])
		if n == 1 {
			return s.buf[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// LineReader applies the terminal's line discipline to its input.
// It must be used by one goroutine at a time.
type LineReader struct {
	term *Terminal
	in   io.ByteReader
	line []byte
}

// NewLineReader returns a reader over term's input.
func NewLineReader(term *Terminal) *LineReader {
	return NewLineReaderFrom(term, term.Input())
}

// NewLineReaderFrom applies term's line discipline to r instead of the
// terminal's own input.
func NewLineReaderFrom(term *Terminal, r io.Reader) *LineReader {
	in, ok := r.(io.ByteReader)
	if !ok {
		in = &singleByteReader{r: r}
	}
	return &LineReader{term: term, in: in}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// when input ends, or when the EOF character is typed on an empty line, and
// ErrInterrupted after raising SignalINT for the interrupt character.
func (l *LineReader) ReadLine() (string, error) {
	l.line = l.line[:0]
	for {
		b, err := l.in.ReadByte()
		if err != nil {
			if len(l.line) > 0 && err == io.EOF {
				return string(l.line), nil
			}
			return "", err
		}

		attrs := l.term.Attributes()
		if b == '\n' || b == '\r' {
			l.echo(attrs, []byte{'\n'})
			return string(l.line), nil
		}
		if !attrs.Canonical {
			l.line = append(l.line, b)
			l.echo(attrs, []byte{b})
			continue
		}

		switch {
		case b == attrs.Intr:
			l.echo(attrs, []byte("^C\n"))
			l.line = l.line[:0]
			l.term.Raise(SignalINT)
			return "", oops.Code(CodeInterrupted).Wrap(ErrInterrupted)
		case b == attrs.EOF:
			if len(l.line) == 0 {
				return "", io.EOF
			}
		case b == attrs.Erase || b == backspace:
			if l.eraseRune() {
				l.echo(attrs, rubout)
			}
		case b == attrs.Kill:
			for l.eraseRune() {
				l.echo(attrs, rubout)
			}
		case b < 0x20 && b != tab:
			// Other control characters are dropped.
		default:
			l.line = append(l.line, b)
			l.echo(attrs, []byte{b})
		}
	}
}

// eraseRune removes the last complete rune from the line.
func (l *LineReader) eraseRune() bool {
	if len(l.line) == 0 {
		return false
	}
	_, size := utf8.DecodeLastRune(l.line)
	l.line = l.line[:len(l.line)-size]
	return true
}

func (l *LineReader) echo(attrs Attributes, p []byte) {
	if !attrs.Echo {
		return
	}
	out := l.term.Output()
	if _, err := out.Write(p); err != nil {
		return
	}
	if f, ok := out.(flusher); ok {
		_ = f.Flush()
	}
}

// ReadSecret reads one line with echo disabled, restoring the previous
// attributes afterwards. A newline is echoed once the line is complete.
func (l *LineReader) ReadSecret() (string, error) {
	prev := l.term.Attributes()
	quiet := prev
	quiet.Echo = false
	l.term.SetAttributes(quiet)
	defer l.term.SetAttributes(prev)

	line, err := l.ReadLine()
	if prev.Echo {
		l.echo(prev, []byte{'\n'})
	}
	return line, err
}
