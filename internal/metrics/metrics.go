// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "watchparty"

var (
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Rooms currently held in memory.",
	})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Open realtime connections.",
	})

	RoomsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_evicted_total",
		Help:      "Rooms removed from memory, by reason.",
	}, []string{"reason"})

	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "room_operations_total",
		Help:      "Room operations by name and outcome (ok, declined, error).",
	}, []string{"op", "result"})

	PersistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persist_errors_total",
		Help:      "Failed or dropped store writes, by operation.",
	}, []string{"op"})

	StoreSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_rooms_swept_total",
		Help:      "Rooms deleted by the store-side inactivity sweep.",
	})
)
