// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/holomush/telnetd/internal/telnet"
)

type bufferedWriter interface {
	io.Writer
	Flush() error
}

// writer flushes after every write so shell output reaches the client
// promptly. A failed write gets one flush attempt before the connection is
// closed.
type writer struct {
	w      bufferedWriter
	closer io.Closer
	logger *slog.Logger

	mu     sync.Mutex
	failed bool
}

func newWriter(w bufferedWriter, closer io.Closer, logger *slog.Logger) *writer {
	return &writer{w: w, closer: closer, logger: logger}
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed {
		return 0, telnet.ErrClosed
	}
	n, err := w.w.Write(p)
	if err != nil {
		if ferr := w.w.Flush(); ferr != nil && !errors.Is(ferr, telnet.ErrClosed) {
			w.logger.Debug("flush after failed write", "error", ferr)
		}
		w.fail(err)
		return n, err
	}
	if err := w.w.Flush(); err != nil {
		w.fail(err)
		return n, err
	}
	return n, nil
}

// Flush is a no-op beyond what Write already does; it lets the line reader
// treat this writer like the underlying stream.
func (w *writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed {
		return telnet.ErrClosed
	}
	return nil
}

func (w *writer) fail(err error) {
	w.failed = true
	if !errors.Is(err, telnet.ErrClosed) {
		w.logger.Debug("write failed, closing connection", "error", err)
	}
	_ = w.closer.Close()
}
