/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttling

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-admission/internal/libinfo"
)

const (
	metricsLabelQueue   = "queue"
	metricsLabelOutcome = "outcome"
)

const (
	metricsValLocal  = "local"
	metricsValRemote = "remote"
)

// Outcome describes what happened with a request that passed through the queue.
type Outcome string

// Request outcomes.
const (
	OutcomeDirect              Outcome = "direct"
	OutcomeDequeuedInline      Outcome = "dequeued_inline"
	OutcomeDrained             Outcome = "drained"
	OutcomeRejectedOverload    Outcome = "rejected_overload"
	OutcomeRejectedResidency   Outcome = "rejected_residency"
	OutcomeRejectedStopped     Outcome = "rejected_stopped"
	OutcomeDroppedDisconnected Outcome = "dropped_disconnected"
)

// DefaultQueueWaitBuckets is default buckets for the queue wait duration histogram.
var DefaultQueueWaitBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// MetricsCollector represents collector of metrics for the request queue.
type MetricsCollector struct {
	QueueLength   *prometheus.GaugeVec
	Requests      *prometheus.CounterVec
	QueueWait     prometheus.Histogram
	ActiveThreads prometheus.Gauge
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	constLabels := libinfo.AddPrometheusLibVersionLabel(nil)
	return &MetricsCollector{
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "request_queue_length",
			Help:        "Number of requests waiting in the queue.",
			ConstLabels: constLabels,
		}, []string{metricsLabelQueue}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "request_queue_requests_total",
			Help:        "Number of requests passed through the admission queue by outcome.",
			ConstLabels: constLabels,
		}, []string{metricsLabelOutcome}),
		QueueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "request_queue_wait_seconds",
			Help:        "Time spent by requests in the queue before execution.",
			Buckets:     DefaultQueueWaitBuckets,
			ConstLabels: constLabels,
		}),
		ActiveThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "request_queue_active_threads",
			Help:        "Number of active threads observed by the admission queue at the last check.",
			ConstLabels: constLabels,
		}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	prometheus.MustRegister(mc.QueueLength, mc.Requests, mc.QueueWait, mc.ActiveThreads)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	prometheus.Unregister(mc.QueueLength)
	prometheus.Unregister(mc.Requests)
	prometheus.Unregister(mc.QueueWait)
	prometheus.Unregister(mc.ActiveThreads)
}

func (mc *MetricsCollector) incRequests(outcome Outcome) {
	if mc == nil {
		return
	}
	mc.Requests.With(prometheus.Labels{metricsLabelOutcome: string(outcome)}).Inc()
}

func (mc *MetricsCollector) setQueueLength(local, remote int) {
	if mc == nil {
		return
	}
	mc.QueueLength.With(prometheus.Labels{metricsLabelQueue: metricsValLocal}).Set(float64(local))
	mc.QueueLength.With(prometheus.Labels{metricsLabelQueue: metricsValRemote}).Set(float64(remote))
}

func (mc *MetricsCollector) observeQueueWait(d time.Duration) {
	if mc == nil {
		return
	}
	mc.QueueWait.Observe(d.Seconds())
}

func (mc *MetricsCollector) setActiveThreads(n int) {
	if mc == nil {
		return
	}
	mc.ActiveThreads.Set(float64(n))
}
