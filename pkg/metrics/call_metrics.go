package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call lifecycle metrics
var (
	CallsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_initiated_total",
		Help: "Total number of outgoing calls initiated",
	}, []string{"kind"})

	CallsIncomingTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_incoming_total",
		Help: "Total number of incoming call offers received",
	}, []string{"kind"})

	CallsTerminatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_terminated_total",
		Help: "Total number of calls reaching a terminal status",
	}, []string{"status"})

	CallsBusyRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_busy_rejected_total",
		Help: "Total number of incoming calls auto-rejected while another call was active",
	})

	CallInvalidTransitionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_invalid_transition_total",
		Help: "Total number of lifecycle events rejected in the current state",
	}, []string{"state", "event"})

	CallActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_active",
		Help: "Whether a call currently occupies the active slot (0 or 1)",
	})

	CallConnectedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_connected_duration_seconds",
		Help:    "Duration of calls that reached connected before ending",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	SignalsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signals_dropped_total",
		Help: "Total number of signaling messages dropped",
	}, []string{"reason"}) // "stale", "malformed", "unknown_kind"
)
