// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package connection

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Admission results for the connections_total metric.
const (
	ResultAccepted = "accepted"
	ResultBusy     = "busy"
	ResultDenied   = "denied"
	ResultShutdown = "shutdown"
)

// ConnectionsActive is the gauge of live connections.
// Use RegisterMetrics to register this with a Prometheus registry.
var ConnectionsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "telnetd_connections_active",
		Help: "Number of live telnet connections",
	},
)

// ConnectionsTotal counts admission decisions.
var ConnectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telnetd_connections_total",
		Help: "Total number of connection attempts by admission result",
	},
	[]string{"result"},
)

// ConnectionEvents counts dispatched connection events.
var ConnectionEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "telnetd_connection_events_total",
		Help: "Total number of connection events by kind",
	},
	[]string{"kind"},
)

// ProtocolWarnings counts malformed telnet framing seen on any connection.
var ProtocolWarnings = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "telnetd_protocol_warnings_total",
		Help: "Total number of telnet protocol warnings",
	},
)

// SessionDuration observes how long connections stay open.
var SessionDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "telnetd_session_duration_seconds",
		Help:    "Connection lifetime from admission to close in seconds",
		Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 4 * 3600},
	},
)

// RegisterMetrics registers connection metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ConnectionsActive)
	reg.MustRegister(ConnectionsTotal)
	reg.MustRegister(ConnectionEvents)
	reg.MustRegister(ProtocolWarnings)
	reg.MustRegister(SessionDuration)
}

func recordAdmission(result string) {
	ConnectionsTotal.WithLabelValues(result).Inc()
}

func recordEvent(kind EventKind) {
	ConnectionEvents.WithLabelValues(kind.String()).Inc()
}

func recordSessionDuration(d time.Duration) {
	SessionDuration.Observe(d.Seconds())
}
