// Package metrics exposes sync activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reconcilePasses   prometheus.Counter
	reconcileSkipped  prometheus.Counter
	reconcileFailures prometheus.Counter
	reconcileDuration prometheus.Histogram
	deviceEvents      *prometheus.CounterVec
	knownDevices      prometheus.Gauge

	messagesSent      prometheus.Counter
	sendFailures      prometheus.Counter
	messagesDelivered prometheus.Counter
	messagesPruned    prometheus.Counter
	drainSkipped      prometheus.Counter
	queueLength       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		reconcilePasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Completed device reconciliation passes.",
		}),
		reconcileSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_skipped_total",
			Help:      "Reconciliation calls dropped because a pass was in flight.",
		}),
		reconcileFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failures_total",
			Help:      "Reconciliation passes abandoned on a store error.",
		}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Time taken by a reconciliation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		deviceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_events_total",
			Help:      "Devices classified during reconciliation, by kind.",
		}, []string{"kind"}),
		knownDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_devices",
			Help:      "Devices in the last published table, excluding this one.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages appended to the shared queue.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_send_failures_total",
			Help:      "Messages dropped because the queue could not be written.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages delivered to this device.",
		}),
		messagesPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_pruned_total",
			Help:      "Queue entries removed by this device.",
		}),
		drainSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_skipped_total",
			Help:      "Drain calls dropped because a pass was in flight.",
		}),
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "message_queue_length",
			Help:      "Entries in the shared message queue after the last drain.",
		}),
	}

	reg.MustRegister(
		m.reconcilePasses,
		m.reconcileSkipped,
		m.reconcileFailures,
		m.reconcileDuration,
		m.deviceEvents,
		m.knownDevices,
		m.messagesSent,
		m.sendFailures,
		m.messagesDelivered,
		m.messagesPruned,
		m.drainSkipped,
		m.queueLength,
	)
	return m
}

// ReconcileCompleted records a finished pass.
func (m *Metrics) ReconcileCompleted(d time.Duration, knownPeers int) {
	if m == nil {
		return
	}
	m.reconcilePasses.Inc()
	m.reconcileDuration.Observe(d.Seconds())
	m.knownDevices.Set(float64(knownPeers))
}

// ReconcileSkipped records a call dropped by the guard.
func (m *Metrics) ReconcileSkipped() {
	if m == nil {
		return
	}
	m.reconcileSkipped.Inc()
}

// ReconcileFailed records an abandoned pass.
func (m *Metrics) ReconcileFailed() {
	if m == nil {
		return
	}
	m.reconcileFailures.Inc()
}

// DeviceEvent records one classification.
func (m *Metrics) DeviceEvent(kind string) {
	if m == nil {
		return
	}
	m.deviceEvents.WithLabelValues(kind).Inc()
}

// MessageSent records a successful send.
func (m *Metrics) MessageSent() {
	if m == nil {
		return
	}
	m.messagesSent.Inc()
}

// SendFailed records a dropped message.
func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

// DrainCompleted records a finished drain.
func (m *Metrics) DrainCompleted(delivered, pruned, queueLength int) {
	if m == nil {
		return
	}
	m.messagesDelivered.Add(float64(delivered))
	m.messagesPruned.Add(float64(pruned))
	m.queueLength.Set(float64(queueLength))
}

// DrainSkipped records a drain dropped by the guard.
func (m *Metrics) DrainSkipped() {
	if m == nil {
		return
	}
	m.drainSkipped.Inc()
}
