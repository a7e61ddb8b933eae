// Package observability provides metrics and tracing for the notification core.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppended counts events appended to the log by type.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discuzz_events_appended_total",
		Help: "Total number of domain events appended to the log",
	}, []string{"type"})

	// FanoutLatency records how long expanding one event takes, by event type.
	FanoutLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "discuzz_fanout_latency_seconds",
		Help:    "Fan-out expansion latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	// FanoutRecipients records the number of recipients produced per event.
	FanoutRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discuzz_fanout_recipients",
		Help:    "Number of notification recipients produced per event",
		Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
	})

	// DispatchAttempts counts push attempts by result (delivered, retried, failed, deferred).
	DispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discuzz_dispatch_attempts_total",
		Help: "Total number of dispatch attempts by result",
	}, []string{"result"})

	// DispatchInFlight is the gauge of notifications currently being pushed.
	DispatchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discuzz_dispatch_in_flight",
		Help: "Number of notifications currently being dispatched",
	})

	// DispatchQueueWaiters is the gauge of dispatches waiting for admission.
	DispatchQueueWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discuzz_dispatch_queue_waiters",
		Help: "Number of dispatches queued behind the backpressure controller",
	})

	// DelegateReplies counts AI delegate reply outcomes (posted, timeout, error, skipped).
	DelegateReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discuzz_delegate_replies_total",
		Help: "Total number of AI delegate reply outcomes",
	}, []string{"outcome"})

	// SweepRecovered counts comment events recovered by the background sweep.
	SweepRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discuzz_sweep_recovered_events_total",
		Help: "Total number of comment_posted events emitted by the reconciliation sweep",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discuzz_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackFanout returns a function that records fan-out latency when called (e.g. defer).
func TrackFanout(eventType string) func() {
	start := time.Now()
	return func() {
		FanoutLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}
}
