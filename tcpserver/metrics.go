package tcpserver

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives engine events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// ConnectionAccepted counts a socket returned by Accept.
	ConnectionAccepted()
	// HandshakeFailed counts a connect that did not produce a session.
	HandshakeFailed(reason string)
	// SessionOpened counts an established session.
	SessionOpened()
	// SessionClosed counts a session whose receive loop ended.
	SessionClosed()
	// SessionEvicted counts a session replaced by a newer one with the same id.
	SessionEvicted()
	// FrameReceived counts a received frame of n body bytes.
	FrameReceived(n int)
	// FrameSent counts a payload written to the wire.
	FrameSent()
	// SendDropped counts a payload that was not written.
	SendDropped(reason string)
	// HandlerFailed counts a handler error or panic.
	HandlerFailed()
}

// NopMetrics discards every event.
type NopMetrics struct{}

func (NopMetrics) ConnectionAccepted()    {}
func (NopMetrics) HandshakeFailed(string) {}
func (NopMetrics) SessionOpened()         {}
func (NopMetrics) SessionClosed()         {}
func (NopMetrics) SessionEvicted()        {}
func (NopMetrics) FrameReceived(int)      {}
func (NopMetrics) FrameSent()             {}
func (NopMetrics) SendDropped(string)     {}
func (NopMetrics) HandlerFailed()         {}

var _ Metrics = NopMetrics{}

// PrometheusMetrics exports engine events as Prometheus collectors.
type PrometheusMetrics struct {
	accepted       prometheus.Counter
	handshakeFails *prometheus.CounterVec
	activeSessions prometheus.Gauge
	evicted        prometheus.Counter
	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	framesSent     prometheus.Counter
	sendDropped    *prometheus.CounterVec
	handlerFails   prometheus.Counter
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the engine collectors under namespace and
// registers them on reg.
//
// Parameters:
//   - reg: Registerer to attach to, e.g. prometheus.DefaultRegisterer
//   - namespace: Metric name prefix, e.g. "netserve"
//   - server: Value of the constant "server" label
//
// Returns:
//   - The metrics sink, or an error if registration failed
func NewPrometheusMetrics(reg prometheus.Registerer, namespace, server string) (*PrometheusMetrics, error) {
	labels := prometheus.Labels{"server": server}

	m := &PrometheusMetrics{
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accepted_connections_total",
			Help: "Total number of accepted TCP connections", ConstLabels: labels,
		}),
		handshakeFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_failures_total",
			Help: "Connects that did not produce a session, by reason", ConstLabels: labels,
		}, []string{"reason"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Current number of established sessions", ConstLabels: labels,
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "evicted_sessions_total",
			Help: "Sessions replaced by a newer connection with the same id", ConstLabels: labels,
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Frames read from sessions", ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "received_body_bytes_total",
			Help: "Body bytes read from sessions", ConstLabels: labels,
		}),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Payloads written to sessions", ConstLabels: labels,
		}),
		sendDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_dropped_total",
			Help: "Payloads that were not written, by reason", ConstLabels: labels,
		}, []string{"reason"}),
		handlerFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handler_failures_total",
			Help: "Handler errors and panics while receiving", ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		m.accepted, m.handshakeFails, m.activeSessions, m.evicted,
		m.framesReceived, m.bytesReceived, m.framesSent, m.sendDropped, m.handlerFails,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register engine metrics: %w", err)
		}
	}

	return m, nil
}

// ConnectionAccepted implements Metrics.
func (m *PrometheusMetrics) ConnectionAccepted() {
	m.accepted.Inc()
}

// HandshakeFailed implements Metrics.
func (m *PrometheusMetrics) HandshakeFailed(reason string) {
	m.handshakeFails.WithLabelValues(reason).Inc()
}

// SessionOpened implements Metrics.
func (m *PrometheusMetrics) SessionOpened() {
	m.activeSessions.Inc()
}

// SessionClosed implements Metrics.
func (m *PrometheusMetrics) SessionClosed() {
	m.activeSessions.Dec()
}

// SessionEvicted implements Metrics.
func (m *PrometheusMetrics) SessionEvicted() {
	m.evicted.Inc()
}

// FrameReceived implements Metrics.
func (m *PrometheusMetrics) FrameReceived(n int) {
	m.framesReceived.Inc()
	m.bytesReceived.Add(float64(n))
}

// FrameSent implements Metrics.
func (m *PrometheusMetrics) FrameSent() {
	m.framesSent.Inc()
}

// SendDropped implements Metrics.
func (m *PrometheusMetrics) SendDropped(reason string) {
	m.sendDropped.WithLabelValues(reason).Inc()
}

// HandlerFailed implements Metrics.
func (m *PrometheusMetrics) HandlerFailed() {
	m.handlerFails.Inc()
}
