// SPDX-License-Identifier: GPL-3.0-or-later

// Package prometheus implements [sockpipe.Metrics] using Prometheus.
//
// Install it through [sockpipe.Config]:
//
//	cfg := sockpipe.NewConfig()
//	cfg.Metrics = prometheus.NewMetrics(prom.DefaultRegisterer)
package prometheus

import (
	"time"

	"github.com/bassosimone/sockpipe"
	"github.com/prometheus/client_golang/prometheus"
)

// Default histogram buckets for dispatch latency (in seconds).
var defaultBuckets = []float64{
	.00001, .000025, .00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025, .1,
}

// timer wraps a Prometheus observer to implement [sockpipe.Timer].
type timer struct {
	o     prometheus.Observer
	start time.Time
}

func newTimer(o prometheus.Observer) sockpipe.Timer {
	return &timer{o: o, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.o.Observe(time.Since(t.start).Seconds())
}

// metrics implements [sockpipe.Metrics].
type metrics struct {
	connectionsOpened prometheus.Counter
	connectionsClosed *prometheus.CounterVec
	connectionsActive prometheus.Gauge
	dispatchDuration  *prometheus.HistogramVec
	messagesTotal     *prometheus.CounterVec
	droppedTotal      *prometheus.CounterVec
	faultsTotal       prometheus.Counter
	mailboxDepth      prometheus.Gauge
}

var _ sockpipe.Metrics = (*metrics)(nil)

// NewMetrics creates the sockpipe collectors and registers them with reg.
//
// This function panics if registration fails, e.g. when called twice
// with the same registerer.
func NewMetrics(reg prometheus.Registerer) sockpipe.Metrics {
	m := &metrics{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockpipe_connections_opened_total",
			Help: "Total number of connection actors started",
		}),

		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockpipe_connections_closed_total",
			Help: "Total number of connection actors stopped, by closed reason",
		}, []string{"reason"}),

		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sockpipe_connections_active",
			Help: "Number of running connection actors",
		}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sockpipe_dispatch_duration_seconds",
			Help:    "Time spent dispatching one message through the pipeline",
			Buckets: defaultBuckets,
		}, []string{"direction"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockpipe_messages_total",
			Help: "Total number of messages dispatched through pipelines",
		}, []string{"direction", "message_type"}),

		droppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sockpipe_messages_dropped_total",
			Help: "Total number of messages no stage consumed",
		}, []string{"direction", "message_type"}),

		faultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sockpipe_connection_faults_total",
			Help: "Total number of connection actors stopped by a fault",
		}),

		mailboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sockpipe_mailbox_depth",
			Help: "Mailbox depth observed by the last dispatch",
		}),
	}

	reg.MustRegister(
		m.connectionsOpened,
		m.connectionsClosed,
		m.connectionsActive,
		m.dispatchDuration,
		m.messagesTotal,
		m.droppedTotal,
		m.faultsTotal,
		m.mailboxDepth,
	)

	return m
}

func (m *metrics) ConnectionOpened() {
	m.connectionsOpened.Inc()
	m.connectionsActive.Inc()
}

func (m *metrics) ConnectionClosed(reason string) {
	m.connectionsClosed.WithLabelValues(reason).Inc()
	m.connectionsActive.Dec()
}

func (m *metrics) DispatchDuration(dir sockpipe.Direction) sockpipe.Timer {
	return newTimer(m.dispatchDuration.WithLabelValues(string(dir)))
}

func (m *metrics) MessageDispatched(dir sockpipe.Direction, msgType string) {
	m.messagesTotal.WithLabelValues(string(dir), msgType).Inc()
}

func (m *metrics) MessageDropped(dir sockpipe.Direction, msgType string) {
	m.droppedTotal.WithLabelValues(string(dir), msgType).Inc()
}

func (m *metrics) ConnectionFault() {
	m.faultsTotal.Inc()
}

func (m *metrics) MailboxDepth(depth int) {
	m.mailboxDepth.Set(float64(depth))
}
