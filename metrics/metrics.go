// Package metrics exposes counters for the event router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "browser_agent"

// Events counts router activity. A nil *Events is valid and records nothing.
type Events struct {
	RequestsIntercepted prometheus.Counter
	ResponsesMatched    prometheus.Counter
	ResponsesSkipped    prometheus.Counter
	CallbackFailures    *prometheus.CounterVec
}

// NewEvents creates the router counters and registers them with reg.
func NewEvents(reg prometheus.Registerer) *Events {
	m := &Events{
		RequestsIntercepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_intercepted_total",
			Help:      "Intercepted requests handed to request subscribers.",
		}),
		ResponsesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_matched_total",
			Help:      "Response notifications matched to an exchange.",
		}),
		ResponsesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_skipped_total",
			Help:      "Response notifications with no known exchange.",
		}),
		CallbackFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_failures_total",
			Help:      "Subscriber callbacks that returned an error or panicked.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RequestsIntercepted,
			m.ResponsesMatched,
			m.ResponsesSkipped,
			m.CallbackFailures,
		)
	}
	return m
}

func (m *Events) RequestIntercepted() {
	if m != nil {
		m.RequestsIntercepted.Inc()
	}
}

func (m *Events) ResponseMatched() {
	if m != nil {
		m.ResponsesMatched.Inc()
	}
}

func (m *Events) ResponseSkipped() {
	if m != nil {
		m.ResponsesSkipped.Inc()
	}
}

func (m *Events) CallbackFailed(kind string) {
	if m != nil {
		m.CallbackFailures.WithLabelValues(kind).Inc()
	}
}
