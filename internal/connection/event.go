// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"strconv"
	"time"

	"github.com/holomush/telnetd/internal/terminal"
)

// EventKind identifies a connection event.
type EventKind int

// Connection event kinds.
const (
	// EventIdle is informational: the client has been silent for the warning timeout.
	EventIdle EventKind = iota + 1
	// EventTimedOut closes the connection once listeners have seen it.
	EventTimedOut
	// EventLogoutRequest is raised when the client sends IAC IP.
	EventLogoutRequest
	// EventBreakSent is raised when the client sends IAC BRK.
	EventBreakSent
	// EventGeometryChanged is raised after the terminal size changed.
	EventGeometryChanged
)

func (k EventKind) String() string {
	switch k {
	case EventIdle:
		return "IDLE"
	case EventTimedOut:
		return "TIMED_OUT"
	case EventLogoutRequest:
		return "LOGOUT_REQUEST"
	case EventBreakSent:
		return "BREAK_SENT"
	case EventGeometryChanged:
		return "GEOMETRY_CHANGED"
	default:
		return "EVENT_" + strconv.Itoa(int(k))
	}
}

// Event is delivered to listeners in the order it occurred on its connection.
type Event struct {
	Kind EventKind
	Conn *Connection
	Time time.Time
	// Size is the new geometry for EventGeometryChanged.
	Size terminal.Size
}

// Listener receives connection events. Listeners run synchronously on the
// goroutine that produced the event and must not block for long.
type Listener func(Event)
