// Package metrics holds the Prometheus collectors for the ingestion pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "airdetect"

// Rejection reasons used as the "reason" label.
const (
	ReasonFormatMismatch = "format_mismatch"
	ReasonMalformedInput = "malformed_input"
)

type Metrics struct {
	registry *prometheus.Registry

	datagrams       prometheus.Counter
	bytes           prometheus.Counter
	receiveErrors   prometheus.Counter
	accepted        prometheus.Counter
	rejected        *prometheus.CounterVec
	fanoutDropped   *prometheus.CounterVec
	sinkFailures    *prometheus.CounterVec
	historySize     prometheus.Gauge
	subscriberCount prometheus.Gauge
}

// New creates the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		datagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "datagrams_total",
			Help:      "Datagrams received on the telemetry socket",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "bytes_total",
			Help:      "Payload bytes received on the telemetry socket",
		}),
		receiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "receive_errors_total",
			Help:      "Socket receive errors while running",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings parsed and appended to history",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Datagrams rejected by the line parser",
		}, []string{"reason"}),
		fanoutDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "dropped_total",
			Help:      "Readings not delivered to a subscriber",
		}, []string{"subscriber"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "publish_failures_total",
			Help:      "Readings a live sink failed to publish",
		}, []string{"sink"}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_size",
			Help:      "Readings currently held in history",
		}),
		subscriberCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "subscribers",
			Help:      "Live subscribers registered with the fan-out hub",
		}),
	}

	reg.MustRegister(
		m.datagrams, m.bytes, m.receiveErrors,
		m.accepted, m.rejected,
		m.fanoutDropped, m.sinkFailures,
		m.historySize, m.subscriberCount,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) DatagramReceived(n int) {
	if m == nil {
		return
	}
	m.datagrams.Inc()
	m.bytes.Add(float64(n))
}

func (m *Metrics) ReceiveError() {
	if m == nil {
		return
	}
	m.receiveErrors.Inc()
}

func (m *Metrics) ReadingAccepted(historyLen int) {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.historySize.Set(float64(historyLen))
}

func (m *Metrics) ReadingRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) DeliveryDropped(subscriber string) {
	if m == nil {
		return
	}
	m.fanoutDropped.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) SinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Subscribers(n int) {
	if m == nil {
		return
	}
	m.subscriberCount.Set(float64(n))
}
