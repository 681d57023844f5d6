package routingslip

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	events           *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	activityRetries  *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	inFlight         prometheus.Gauge
	slipDuration     *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routingslip",
				Name:      "events_total",
				Help:      "Routing slip lifecycle events published, by event type.",
			},
			[]string{"event"},
		),
		activityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routingslip",
				Name:      "activity_duration_seconds",
				Help:      "Duration of activity executions, including retries.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"activity", "outcome"},
		),
		activityRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routingslip",
				Name:      "activity_retries_total",
				Help:      "Activity invocations retried after an infrastructure fault.",
			},
			[]string{"activity"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "routingslip",
				Name:      "compensations_total",
				Help:      "Compensating actions invoked, by outcome.",
			},
			[]string{"activity", "outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "routingslip",
				Name:      "slips_in_flight",
				Help:      "Routing slips currently being executed.",
			},
		),
		slipDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "routingslip",
				Name:      "slip_duration_seconds",
				Help:      "Time from routing slip creation to its terminal event.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.events, m.activityDuration, m.activityRetries, m.compensations, m.inFlight, m.slipDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MustNewMetrics is like NewMetrics but panics if registration fails.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) event(t EventType) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) activity(name ActivityName, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activityDuration.WithLabelValues(string(name), outcome).Observe(d.Seconds())
}

func (m *Metrics) retry(name ActivityName) {
	if m == nil {
		return
	}
	m.activityRetries.WithLabelValues(string(name)).Inc()
}

func (m *Metrics) compensation(name ActivityName, outcome string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(string(name), outcome).Inc()
}

func (m *Metrics) slipStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) slipFinished(status SlipStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	if status.Terminal() {
		m.slipDuration.WithLabelValues(status.String()).Observe(d.Seconds())
	}
}
