// Package metrics holds the Prometheus metrics of the bridge. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wbridge"

// Metrics holds all bridge metrics.
type Metrics struct {
	reg prometheus.Registerer

	FramesIn        *prometheus.CounterVec
	FramesOut       *prometheus.CounterVec
	DecodeFailures  prometheus.Counter
	AckErrors       *prometheus.CounterVec
	HandlerPanics   prometheus.Counter
	HandlerDuration *prometheus.HistogramVec
	PagerRounds     prometheus.Histogram
	Sessions        *prometheus.GaugeVec
	ReplayBytes     prometheus.Gauge
	OutboxTotal     *prometheus.CounterVec
}

// New registers the bridge metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Frames received from web clients by type and subtype",
		}, []string{"type", "sub_type"}),
		FramesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent to web clients by type and subtype",
		}, []string{"type", "sub_type"}),
		DecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Inbound frames that could not be decoded",
		}),
		AckErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_errors_total",
			Help:      "Failed acks sent to clients by error code",
		}, []string{"code"}),
		HandlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Recovered handler panics",
		}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Time spent in request handlers",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"type", "sub_type"}),
		PagerRounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pager_probe_rounds",
			Help:      "Probe rounds needed to locate a history reference",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		}),
		Sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Sessions by connection state",
		}, []string{"state"}),
		ReplayBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replay_buffer_bytes",
			Help:      "Bytes held in replay buffers across sessions",
		}),
		OutboxTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_total",
			Help:      "Outbox items by kind and outcome",
		}, []string{"kind", "status"}),
	}
}

// FrameReceived counts an inbound frame.
func (m *Metrics) FrameReceived(typ, subType string) {
	if m == nil {
		return
	}
	m.FramesIn.WithLabelValues(typ, subType).Inc()
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(typ, subType string) {
	if m == nil {
		return
	}
	m.FramesOut.WithLabelValues(typ, subType).Inc()
}

// DecodeFailure counts an undecodable frame.
func (m *Metrics) DecodeFailure() {
	if m == nil {
		return
	}
	m.DecodeFailures.Inc()
}

// AckError counts a failed ack.
func (m *Metrics) AckError(code string) {
	if m == nil {
		return
	}
	m.AckErrors.WithLabelValues(code).Inc()
}

// Panic counts a recovered handler panic.
func (m *Metrics) Panic() {
	if m == nil {
		return
	}
	m.HandlerPanics.Inc()
}

// ObserveHandler records how long a handler ran.
func (m *Metrics) ObserveHandler(typ, subType string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(typ, subType).Observe(d.Seconds())
}

// ObservePagerRounds records the probe rounds of one history page.
func (m *Metrics) ObservePagerRounds(rounds int) {
	if m == nil {
		return
	}
	m.PagerRounds.Observe(float64(rounds))
}

// SetSessions replaces the session gauge with counts by state.
func (m *Metrics) SetSessions(byState map[string]int) {
	if m == nil {
		return
	}
	m.Sessions.Reset()
	for state, n := range byState {
		m.Sessions.WithLabelValues(state).Set(float64(n))
	}
}

// SetReplayBytes sets the total replay buffer size.
func (m *Metrics) SetReplayBytes(n int) {
	if m == nil {
		return
	}
	m.ReplayBytes.Set(float64(n))
}

// OutboxItem counts an outbox item reaching status.
func (m *Metrics) OutboxItem(kind, status string) {
	if m == nil {
		return
	}
	m.OutboxTotal.WithLabelValues(kind, status).Inc()
}

// WatchDropped exposes a counter read from fn, such as the event bus drop count.
func (m *Metrics) WatchDropped(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
