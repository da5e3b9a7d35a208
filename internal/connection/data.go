// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/telnetd/internal/telnet"
	"github.com/holomush/telnetd/internal/terminal"
)

// Data describes one connection: who it is, what terminal it negotiated and
// when it was last active.
type Data struct {
	id         ulid.ULID
	remoteAddr string
	loginTime  time.Time

	lastActivity atomic.Int64 // unix nanoseconds
	warned       atomic.Bool

	mu       sync.RWMutex
	termType string
	size     terminal.Size
	env      map[string]string
}

func newData(remoteAddr string, now time.Time) *Data {
	d := &Data{
		id:         ulid.Make(),
		remoteAddr: remoteAddr,
		loginTime:  now,
		termType:   telnet.DefaultTerminalType,
		size:       terminal.Size{Cols: telnet.DefaultColumns, Rows: telnet.DefaultRows},
		env:        make(map[string]string),
	}
	d.lastActivity.Store(now.UnixNano())
	return d
}

// ID returns the connection identifier.
func (d *Data) ID() ulid.ULID { return d.id }

// RemoteAddr returns the peer address as host:port.
func (d *Data) RemoteAddr() string { return d.remoteAddr }

// LoginTime returns when the connection was admitted.
func (d *Data) LoginTime() time.Time { return d.loginTime }

// LastActivity returns when bytes last moved on the connection.
func (d *Data) LastActivity() time.Time {
	return time.Unix(0, d.lastActivity.Load())
}

// IdleFor returns how long the connection has been inactive at now.
func (d *Data) IdleFor(now time.Time) time.Duration {
	return now.Sub(d.LastActivity())
}

// Touch records activity and re-arms the idle warning.
func (d *Data) Touch(now time.Time) {
	d.lastActivity.Store(now.UnixNano())
	d.warned.Store(false)
}

// Warned reports whether an idle warning was issued since the last activity.
func (d *Data) Warned() bool { return d.warned.Load() }

// markWarned sets the warned flag and reports whether it was previously clear.
func (d *Data) markWarned() bool {
	return d.warned.CompareAndSwap(false, true)
}

// TerminalType returns the negotiated terminal type, lowercased.
func (d *Data) TerminalType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.termType
}

// Size returns the last known terminal size.
func (d *Data) Size() terminal.Size {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

func (d *Data) setTerminalType(name string) {
	if name == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.termType = name
}

func (d *Data) setSize(size terminal.Size) {
	if size.Cols < 1 || size.Rows < 1 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.size = size
}

// Getenv returns an environment value. TERM, COLUMNS, LINES and REMOTE_ADDR
// are derived from the connection itself unless explicitly set.
func (d *Data) Getenv(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v, ok := d.env[key]; ok {
		return v, true
	}
	switch key {
	case "TERM":
		return d.termType, true
	case "COLUMNS":
		return strconv.Itoa(d.size.Cols), true
	case "LINES":
		return strconv.Itoa(d.size.Rows), true
	case "REMOTE_ADDR":
		return d.remoteAddr, true
	}
	return "", false
}

// Setenv sets an environment value for the connection.
func (d *Data) Setenv(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.env[key] = value
}

// Environ returns a copy of the environment including the derived keys.
func (d *Data) Environ() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	env := map[string]string{
		"TERM":        d.termType,
		"COLUMNS":     strconv.Itoa(d.size.Cols),
		"LINES":       strconv.Itoa(d.size.Rows),
		"REMOTE_ADDR": d.remoteAddr,
	}
	maps.Copy(env, d.env)
	return env
}
