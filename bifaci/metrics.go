package bifaci

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the channel's prometheus collectors. A nil *Metrics records
// nothing, so every method is safe to call on nil.
type Metrics struct {
	EnvelopesSent     *prometheus.CounterVec
	EnvelopesReceived *prometheus.CounterVec
	EnvelopesDropped  *prometheus.CounterVec
	HandlerErrors     *prometheus.CounterVec
	PendingRequests   prometheus.Gauge
	RoundTrip         *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnvelopesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_sent_total",
				Help:      "Envelopes posted, by kind (request or reply)",
			},
			[]string{"kind"},
		),
		EnvelopesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_received_total",
				Help:      "Envelopes accepted from a peer, by kind",
			},
			[]string{"kind"},
		),
		EnvelopesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "envelopes_dropped_total",
				Help:      "Inbound or outbound messages discarded, by reason",
			},
			[]string{"reason"},
		),
		HandlerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handler_errors_total",
				Help:      "Handler failures converted into error replies, by message type",
			},
			[]string{"type"},
		),
		PendingRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Requests awaiting a reply",
			},
		),
		RoundTrip: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_round_trip_seconds",
				Help:      "Time from sending a request to settling it with a reply",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			},
			[]string{"type"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.EnvelopesSent,
			m.EnvelopesReceived,
			m.EnvelopesDropped,
			m.HandlerErrors,
			m.PendingRequests,
			m.RoundTrip,
		)
	}
	return m
}

func (m *Metrics) sent(kind string) {
	if m == nil {
		return
	}
	m.EnvelopesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) received(kind string) {
	if m == nil {
		return
	}
	m.EnvelopesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) dropped(reason string) {
	if m == nil {
		return
	}
	m.EnvelopesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) handlerError(msgType string) {
	if m == nil {
		return
	}
	m.HandlerErrors.WithLabelValues(msgType).Inc()
}

func (m *Metrics) pending(delta float64) {
	if m == nil {
		return
	}
	m.PendingRequests.Add(delta)
}

func (m *Metrics) observeRoundTrip(msgType string, since time.Time) {
	if m == nil {
		return
	}
	m.RoundTrip.WithLabelValues(msgType).Observe(time.Since(since).Seconds())
}

// Drop reasons
const (
	dropNotEnvelope    = "not_envelope"
	dropForeignSource  = "foreign_source"
	dropPostFailed     = "post_failed"
	dropUnmatchedReply = "unmatched_reply"
	dropNoHandler      = "no_handler"
	dropEnvelopeTooBig = "envelope_too_large"
)
