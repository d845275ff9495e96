package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event-stream supervision metrics
var (
	SubscriptionRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_subscription_retries_total",
		Help: "Total number of subscription retry attempts",
	}, []string{"topic"})

	SubscriptionsExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_subscriptions_exhausted_total",
		Help: "Total number of subscriptions that gave up after repeated failures",
	}, []string{"topic"})

	SubscriptionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stream_subscriptions_active",
		Help: "Current number of supervised subscriptions in the active state",
	})

	EventsDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_events_delivered_total",
		Help: "Total number of events delivered to subscription handlers",
	}, []string{"topic"})
)
