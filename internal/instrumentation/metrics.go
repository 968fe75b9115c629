// Package instrumentation exposes the relay's prometheus counters.
package instrumentation

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Drop reasons used as the "reason" label of DatapointsDropped.
const (
	ReasonUnconfigured = "unconfigured_buffer"
	ReasonLate         = "late"
	ReasonBackpressure = "backpressure"
	ReasonUnroutable   = "unroutable"
	ReasonInvalid      = "invalid"
)

// Metrics groups the counters the pipeline updates.
type Metrics struct {
	DatapointsReceived prometheus.Counter
	DatapointsDropped  *prometheus.CounterVec
	MetricsEmitted     prometheus.Counter
	AggregatesEmitted  prometheus.Counter
	Buffers            prometheus.Gauge
}

// New creates the counters and registers them with reg. A nil reg leaves them
// unregistered, which suits tests that only read values back.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DatapointsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carbonrelay",
			Name:      "datapoints_received_total",
			Help:      "Datapoints handed to the aggregation receiver.",
		}),
		DatapointsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carbonrelay",
			Name:      "datapoints_dropped_total",
			Help:      "Datapoints or aggregate contributions discarded, by reason.",
		}, []string{"reason"}),
		MetricsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carbonrelay",
			Name:      "metrics_emitted_total",
			Help:      "Original metrics passed downstream.",
		}),
		AggregatesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carbonrelay",
			Name:      "aggregates_emitted_total",
			Help:      "Aggregate windows flushed downstream.",
		}),
		Buffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "carbonrelay",
			Name:      "aggregation_buffers",
			Help:      "Live aggregation buffers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.DatapointsReceived, m.DatapointsDropped, m.MetricsEmitted, m.AggregatesEmitted, m.Buffers)
	}
	return m
}

// Drop counts one discarded datapoint.
func (m *Metrics) Drop(reason string) {
	m.DatapointsDropped.WithLabelValues(reason).Inc()
}

// Snapshot reads the current values, keyed by metric name. Dropped datapoints
// are keyed as "datapoints_dropped_total{reason}".
func (m *Metrics) Snapshot() map[string]float64 {
	out := map[string]float64{
		"datapoints_received_total": read(m.DatapointsReceived),
		"metrics_emitted_total":     read(m.MetricsEmitted),
		"aggregates_emitted_total":  read(m.AggregatesEmitted),
		"aggregation_buffers":       read(m.Buffers),
	}
	for _, reason := range []string{ReasonUnconfigured, ReasonLate, ReasonBackpressure, ReasonUnroutable, ReasonInvalid} {
		out["datapoints_dropped_total{"+reason+"}"] = read(m.DatapointsDropped.WithLabelValues(reason))
	}
	return out
}

func read(c prometheus.Metric) float64 {
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		return 0
	}
	switch {
	case pb.Counter != nil:
		return pb.Counter.GetValue()
	case pb.Gauge != nil:
		return pb.Gauge.GetValue()
	}
	return 0
}
