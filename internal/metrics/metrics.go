// Package metrics provides Prometheus instrumentation for the pairing
// engine. It exposes gauges for queue and session state, counters for
// matches, relayed payloads, reports and blocks, and a histogram for
// pairing wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueSize tracks the current number of users waiting for a partner.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gabbar_queue_size",
		Help: "Current number of users in the waiting queue",
	})

	// ActiveSessions tracks the current number of active chat pairs.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gabbar_active_sessions",
		Help: "Current number of active chat sessions (pairs)",
	})

	// BlockedUsers tracks the current number of blocked users.
	BlockedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gabbar_blocked_users",
		Help: "Current number of blocked users",
	})

	// ConnectedUsers tracks the current number of bound WebSocket
	// connections.
	ConnectedUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gabbar_connected_users",
		Help: "Current number of connected users",
	})

	// MatchesTotal counts successful pairings.
	MatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gabbar_matches_total",
		Help: "Total number of successful pairings",
	})

	// RelayedTotal counts relayed payloads by kind.
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gabbar_relayed_payloads_total",
		Help: "Total number of payloads relayed between partners",
	}, []string{"kind"})

	// ReportsTotal counts filed abuse reports.
	ReportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gabbar_reports_total",
		Help: "Total number of abuse reports filed",
	})

	// BlocksTotal counts moderation block actions.
	BlocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gabbar_blocks_total",
		Help: "Total number of moderation block actions",
	})

	// PairingWait records the time users spend queued before a match.
	PairingWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gabbar_pairing_wait_seconds",
		Help:    "Time from enqueue to successful pairing",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

func init() {
	prometheus.MustRegister(
		QueueSize,
		ActiveSessions,
		BlockedUsers,
		ConnectedUsers,
		MatchesTotal,
		RelayedTotal,
		ReportsTotal,
		BlocksTotal,
		PairingWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
