package client

import (
	"errors"

	"github.com/omochice/chatroom-client/internal/chat"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chatroom_client"

// Connect attempt results.
const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultTimeout  = "timeout"
	resultError    = "error"
)

// metrics tracks connection health.
type metrics struct {
	attempts *prometheus.CounterVec
	active   prometheus.Gauge
	dropped  *prometheus.CounterVec
	sent     *prometheus.CounterVec
	lines    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Handshake attempts by transport mode and result.",
		}, []string{"mode", "result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Number of established sessions.",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_dropped_total",
			Help:      "Sessions that ended without a user disconnect.",
		}, []string{"mode"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Chat messages delivered to the active transport.",
		}, []string{"mode"}),
		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transport_lines_total",
			Help:      "Lines written to the message log by transports.",
		}, []string{"mode"}),
	}

	var err error
	if m.attempts, err = register(reg, m.attempts); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	if m.dropped, err = register(reg, m.dropped); err != nil {
		return nil, err
	}
	if m.sent, err = register(reg, m.sent); err != nil {
		return nil, err
	}
	if m.lines, err = register(reg, m.lines); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by
// another Client on the same registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAttempt records the outcome of one handshake.
func (m *metrics) RecordAttempt(mode chat.Mode, err error) {
	m.attempts.WithLabelValues(mode.String(), attemptResult(err)).Inc()
}

// SessionStarted records an established session.
func (m *metrics) SessionStarted() {
	m.active.Inc()
}

// SessionEnded records the end of a session. dropped is false for user disconnects.
func (m *metrics) SessionEnded(mode chat.Mode, dropped bool) {
	m.active.Dec()
	if dropped {
		m.dropped.WithLabelValues(mode.String()).Inc()
	}
}

// RecordSent records a chat message handed to a transport.
func (m *metrics) RecordSent(mode chat.Mode) {
	m.sent.WithLabelValues(mode.String()).Inc()
}

// RecordLine records a transport line delivered to the message log.
func (m *metrics) RecordLine(mode chat.Mode) {
	m.lines.WithLabelValues(mode.String()).Inc()
}

func attemptResult(err error) string {
	var rej *chat.HandshakeRejectedError
	switch {
	case err == nil:
		return resultOK
	case errors.As(err, &rej):
		return resultRejected
	case errors.Is(err, chat.ErrHandshakeTimeout), errors.Is(err, chat.ErrConnectTimeout):
		return resultTimeout
	default:
		return resultError
	}
}

// countingSink forwards transport output and counts message lines.
type countingSink struct {
	chat.Sink
	mode    chat.Mode
	metrics *metrics
}

func (s countingSink) Message(text string) {
	s.metrics.RecordLine(s.mode)
	s.Sink.Message(text)
}
