package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery attempt latency in milliseconds, per channel and outcome.
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_delivery_latency_ms",
			Help:    "Channel delivery attempt latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"channel", "status"},
	)

	NotificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_processed_total",
			Help: "Total number of notifications the worker finished processing",
		},
		[]string{"status"}, // status: sent, failed, retried
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Current number of notifications per queue status",
		},
		[]string{"status"},
	)

	EventsMapped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_events_mapped_total",
			Help: "Total number of business events mapped into notifications",
		},
		[]string{"event_type", "outcome"}, // outcome: ok, invalid, unsupported
	)

	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of database queries slower than the threshold",
		},
	)
)

func RecordDeliveryLatency(channel, status string, ms int64) {
	DeliveryLatency.WithLabelValues(channel, status).Observe(float64(ms))
}

func IncrementProcessed(status string) {
	NotificationsProcessed.WithLabelValues(status).Inc()
}

func SetQueueDepth(status string, depth int) {
	QueueDepth.WithLabelValues(status).Set(float64(depth))
}

func IncrementEventMapped(eventType, outcome string) {
	EventsMapped.WithLabelValues(eventType, outcome).Inc()
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
