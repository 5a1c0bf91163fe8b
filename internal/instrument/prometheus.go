// Package instrument holds the relay's prometheus metrics.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownAction = "unknown_action"
	ReasonRejected      = "rejected"
	ReasonUnknownTarget = "unknown_target"
	ReasonSendFailed    = "send_failed"
)

type Metrics struct {
	registry *prometheus.Registry

	sessions  prometheus.Gauge
	groups    prometheus.Gauge
	frames    *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	forwarded prometheus.Counter
}

// New registers the relay metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptrelay_sessions",
				Help: "Number of open relay sessions",
			},
		),
		groups: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cryptrelay_groups",
				Help: "Number of non-empty groups",
			},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptrelay_frames_total",
				Help: "Number of inbound frames by action",
			},
			[]string{"action"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptrelay_dropped_total",
				Help: "Number of dropped messages by reason",
			},
			[]string{"reason"},
		),
		forwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cryptrelay_forwarded_total",
				Help: "Number of member messages forwarded",
			},
		),
	}
	m.registry.MustRegister(m.sessions, m.groups, m.frames, m.dropped, m.forwarded)
	return m
}

// Frame counts an inbound frame.
func (m *Metrics) Frame(action string) {
	m.frames.With(prometheus.Labels{"action": action}).Inc()
}

// Dropped counts a discarded message.
func (m *Metrics) Dropped(reason string) {
	m.dropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// Forwarded counts a member message handed to its recipient.
func (m *Metrics) Forwarded() {
	m.forwarded.Inc()
}

// SetPopulation records the current session and group counts.
func (m *Metrics) SetPopulation(sessions, groups int) {
	m.sessions.Set(float64(sessions))
	m.groups.Set(float64(groups))
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
