// Package metrics exposes the server's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections is the number of currently open websocket
	// connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_active_connections",
		Help: "Number of open websocket connections.",
	})

	// MessagesTotal counts accepted message appends.
	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_total",
		Help: "Total messages persisted.",
	})

	// BroadcastsTotal counts room fanout events by type.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_broadcasts_total",
		Help: "Total events fanned out to rooms.",
	}, []string{"type"})

	// RejectedOpsTotal counts operations rejected per error kind.
	RejectedOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_rejected_ops_total",
		Help: "Total operations rejected, by error kind.",
	}, []string{"kind"})
)
