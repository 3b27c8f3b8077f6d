package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the bridge.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry           *prometheus.Registry
	scansAccepted      prometheus.Counter
	scansSuppressed    prometheus.Counter
	sentinelsDropped   prometheus.Counter
	connectAttempts    prometheus.Counter
	readerOnline       prometheus.Gauge
	subscribers        prometheus.Gauge
	messagesDelivered  *prometheus.CounterVec
	subscribersEvicted prometheus.Counter
}

// New creates and registers the bridge metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		scansAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbridge_scans_accepted_total",
			Help: "Card scans delivered to subscribers",
		}),
		scansSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbridge_scans_suppressed_total",
			Help: "Card scans dropped as repeats inside the dedup window",
		}),
		sentinelsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbridge_sentinels_dropped_total",
			Help: "Reader diagnostic strings dropped from the scan channel",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbridge_connect_attempts_total",
			Help: "Connection attempts to the card reader",
		}),
		readerOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardbridge_reader_online",
			Help: "1 while the card reader link is connected",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cardbridge_subscribers",
			Help: "Connected push subscribers",
		}),
		messagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cardbridge_messages_delivered_total",
			Help: "Messages queued to subscribers by message type",
		}, []string{"type"}),
		subscribersEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardbridge_subscribers_evicted_total",
			Help: "Subscribers dropped for a full send buffer or the subscriber cap",
		}),
	}

	registry.MustRegister(
		m.scansAccepted,
		m.scansSuppressed,
		m.sentinelsDropped,
		m.connectAttempts,
		m.readerOnline,
		m.subscribers,
		m.messagesDelivered,
		m.subscribersEvicted,
	)

	return m
}

func (m *Metrics) IncScansAccepted() {
	if m == nil {
		return
	}
	m.scansAccepted.Inc()
}

func (m *Metrics) IncScansSuppressed() {
	if m == nil {
		return
	}
	m.scansSuppressed.Inc()
}

func (m *Metrics) IncSentinelsDropped() {
	if m == nil {
		return
	}
	m.sentinelsDropped.Inc()
}

func (m *Metrics) IncConnectAttempts() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

// SetReaderOnline sets the reader link gauge.
func (m *Metrics) SetReaderOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.readerOnline.Set(1)
	} else {
		m.readerOnline.Set(0)
	}
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) IncDelivered(msgType string) {
	if m == nil {
		return
	}
	m.messagesDelivered.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncEvicted() {
	if m == nil {
		return
	}
	m.subscribersEvicted.Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
