package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Metrics are the prometheus collectors updated by a Server.  A nil *Metrics records nothing.
type Metrics struct {
	Connections   prometheus.Gauge
	Frames        *prometheus.CounterVec
	Messages      prometheus.Counter
	Errors        prometheus.Counter
	Subscriptions prometheus.Gauge
	Transactions  *prometheus.CounterVec
}

// NewMetrics creates the server collectors and registers them with r when r is not nil.
func NewMetrics(r prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stompd_connections",
			Help: "Number of open client connections",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompd_frames_received_total",
			Help: "Frames received from clients by command",
		}, []string{"command"}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stompd_messages_delivered_total",
			Help: "MESSAGE frames delivered to subscribers",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stompd_protocol_errors_total",
			Help: "ERROR frames sent to clients",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stompd_subscriptions",
			Help: "Number of active subscriptions",
		}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stompd_transactions_total",
			Help: "Finished transactions by outcome",
		}, []string{"outcome"}),
	}
	if r != nil {
		r.MustRegister(m.Connections, m.Frames, m.Messages, m.Errors, m.Subscriptions, m.Transactions)
	}
	return m
}

func (m *Metrics) connected(delta float64) {
	if m != nil {
		m.Connections.Add(delta)
	}
}

func (m *Metrics) frame(c stomp.Command) {
	if m != nil {
		m.Frames.WithLabelValues(string(c)).Inc()
	}
}

func (m *Metrics) delivered() {
	if m != nil {
		m.Messages.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.Errors.Inc()
	}
}

func (m *Metrics) subscribed(delta float64) {
	if m != nil {
		m.Subscriptions.Add(delta)
	}
}

func (m *Metrics) transaction(outcome string) {
	if m != nil {
		m.Transactions.WithLabelValues(outcome).Inc()
	}
}
