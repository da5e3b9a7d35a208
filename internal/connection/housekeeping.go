// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"context"
	"time"
)

func (m *Manager) housekeep(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HousekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep checks every live connection for idleness. It works on a snapshot so
// listeners run without the manager lock held.
func (m *Manager) sweep(now time.Time) {
	for _, c := range m.Connections() {
		if c.State() >= StateClosing {
			continue
		}
		idle := c.data.IdleFor(now)
		switch {
		case idle >= m.cfg.DisconnectTimeout:
			c.logger.Info("idle timeout, disconnecting", "idle", idle.Round(time.Millisecond))
			c.emit(Event{Kind: EventTimedOut, Time: now})
			_ = c.Close()
		case idle >= m.cfg.WarningTimeout && c.data.markWarned():
			c.emit(Event{Kind: EventIdle, Time: now})
		}
	}
}
