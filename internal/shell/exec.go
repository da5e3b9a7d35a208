// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/samber/oops"

	"github.com/holomush/telnetd/internal/session"
	"github.com/holomush/telnetd/internal/terminal"
)

// CodeExec marks a program that could not be started.
const CodeExec = "EXEC_FAILED"

// sessionEnv lists the session properties passed to the program.
var sessionEnv = []string{"TERM", "COLUMNS", "LINES", "REMOTE_ADDR", "USER"}

// hangupGrace is how long the program has to exit after SIGHUP.
const hangupGrace = 2 * time.Second

// Exec runs an external program under a pseudo-terminal for each session.
type Exec struct {
	argv   []string
	logger *slog.Logger
}

var _ session.Shell = (*Exec)(nil)

// NewExec returns a shell running argv.
func NewExec(argv []string, logger *slog.Logger) (*Exec, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, oops.Code(CodeExec).Errorf("exec shell needs a program")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{argv: append([]string(nil), argv...), logger: logger}, nil
}

// Run starts the program sized to the session terminal and copies bytes
// both ways until it exits or input ends. Window size changes are passed
// on to the pty and a hangup signals the program.
func (e *Exec) Run(ctx context.Context, sc session.Context, stdin io.Reader, stdout, _ io.Writer, args []string) error {
	argv := append(append([]string(nil), e.argv...), args...)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // the program comes from server configuration
	cmd.Env = os.Environ()
	for _, key := range sessionEnv {
		if v, ok := sc.Property(key); ok {
			cmd.Env = append(cmd.Env, key+"="+v)
		}
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGHUP) }
	cmd.WaitDelay = hangupGrace

	term := sc.Terminal()
	ptmx, err := pty.StartWithSize(cmd, winsize(term.Size()))
	if err != nil {
		return oops.Code(CodeExec).With("program", argv[0]).Wrap(err)
	}
	defer func() {
		_ = ptmx.Close()
	}()

	// The pty does its own line editing.
	prevAttrs := term.Attributes()
	raw := prevAttrs
	raw.Echo, raw.Canonical = false, false
	term.SetAttributes(raw)
	defer term.SetAttributes(prevAttrs)

	prev := term.Handle(func(sig terminal.Signal) {
		switch sig {
		case terminal.SignalWINCH:
			if err := pty.Setsize(ptmx, winsize(term.Size())); err != nil {
				e.logger.Debug("resizing pty", "error", err)
			}
		case terminal.SignalINT:
			_ = cmd.Process.Signal(syscall.SIGINT)
		case terminal.SignalHUP:
			_ = cmd.Process.Signal(syscall.SIGHUP)
		}
	})
	defer term.Handle(prev)

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(newCRLFFilter(stdout), ptmx)
	}()
	go func() {
		// Input ending means the client went away.
		if _, err := io.Copy(ptmx, stdin); err == nil || errors.Is(err, io.EOF) {
			_ = cmd.Process.Signal(syscall.SIGHUP)
		}
	}()

	err = cmd.Wait()
	// The pty reports EIO once the program's side is gone; give a
	// lingering child a moment before cutting the output off.
	select {
	case <-copied:
	case <-time.After(hangupGrace):
	}
	_ = ptmx.Close()
	<-copied

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.logger.Debug("program exited", "program", argv[0], "status", exitErr.ExitCode())
		return nil
	}
	return err
}

func winsize(s terminal.Size) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(s.Cols), Rows: uint16(s.Rows)} //nolint:gosec // sizes come from 16-bit NAWS fields
}

// crlfFilter turns the pty's CR LF back into LF; the telnet stream adds
// the CR again.
type crlfFilter struct {
	w       io.Writer
	pending bool
	buf     []byte
}

func newCRLFFilter(w io.Writer) *crlfFilter {
	return &crlfFilter{w: w}
}

func (f *crlfFilter) Write(p []byte) (int, error) {
	f.buf = f.buf[:0]
	for _, b := range p {
		if f.pending {
			f.pending = false
			if b != '\n' {
				f.buf = append(f.buf, '\r')
			}
		}
		if b == '\r' {
			f.pending = true
			continue
		}
		f.buf = append(f.buf, b)
	}
	if len(f.buf) > 0 {
		if _, err := f.w.Write(f.buf); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
