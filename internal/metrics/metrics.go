// Package metrics exposes Prometheus collectors for the collaboration engine
// and its WebSocket transport.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rpggio/atelier/internal/domain/session"
)

const namespace = "atelier"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsCreated prometheus.Counter
	SessionsEnded   prometheus.Counter
	ActiveSessions  prometheus.Gauge

	// Membership changes by event (joined, left).
	MembershipEvents *prometheus.CounterVec
	// Applied operations by operation type and outcome (applied, transformed).
	OperationsApplied *prometheus.CounterVec

	ActiveConnections prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	FramesDropped     prometheus.Counter
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		}),
		SessionsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions ended explicitly or by the idle sweep",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of sessions accepting operations",
		}),
		MembershipEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_events_total",
			Help:      "Participants joining and leaving sessions",
		}, []string{"event"}),
		OperationsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_applied_total",
			Help:      "Operations applied to session state",
		}, []string{"type", "outcome"}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "active_connections",
			Help:      "Number of open WebSocket session streams",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "messages_received_total",
			Help:      "Inbound WebSocket requests by method and result",
		}, []string{"method", "result"}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_dropped_total",
			Help:      "Outbound frames dropped because a client fell behind",
		}),
	}
}

// Notify records an engine event.
func (m *Metrics) Notify(_ context.Context, ev session.Event) error {
	if m == nil {
		return nil
	}
	switch ev.Type {
	case session.EventSessionCreated:
		m.SessionsCreated.Inc()
		m.ActiveSessions.Inc()
	case session.EventSessionEnded:
		m.SessionsEnded.Inc()
		m.ActiveSessions.Dec()
	case session.EventUserJoined:
		m.MembershipEvents.WithLabelValues("joined").Inc()
	case session.EventUserLeft:
		m.MembershipEvents.WithLabelValues("left").Inc()
	case session.EventOperationApplied:
		if ev.Operation == nil {
			return nil
		}
		outcome := "applied"
		if len(ev.Operation.Conflicts) > 0 {
			outcome = "transformed"
		}
		m.OperationsApplied.WithLabelValues(string(ev.Operation.Type()), outcome).Inc()
	}
	return nil
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

// MessageReceived counts one inbound request; result is "ok", "error" or
// "rate_limited".
func (m *Metrics) MessageReceived(method, result string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(method, result).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}
