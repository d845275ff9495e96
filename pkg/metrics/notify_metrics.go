package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notification cache metrics
var (
	NotificationsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_ingested_total",
		Help: "Total number of notifications ingested into the cache",
	}, []string{"type"})

	NotificationsMarkedReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_marked_read_total",
		Help: "Total number of notifications optimistically marked read",
	})

	NotificationsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_swept_total",
		Help: "Total number of notifications removed by the retention sweep",
	})

	NotificationsUnread = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notify_unread",
		Help: "Current number of unread notifications in the cache",
	})
)
