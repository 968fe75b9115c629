package v1

import (
	"fmt"
	"math"
	"strings"
)

// Datapoint is a single (timestamp, value) sample. Timestamps are unix seconds.
type Datapoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// MetricDatapoint pairs a metric path with one sample. It is the unit handed
// from transports to the pipeline and from the pipeline to sinks.
type MetricDatapoint struct {
	// Metric is a dotted path such as "servers.web01.cpu.user". Compared by exact string equality.
	Metric string `json:"metric"`

	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Datapoint returns the sample without its metric name.
func (m MetricDatapoint) Datapoint() Datapoint {
	return Datapoint{Timestamp: m.Timestamp, Value: m.Value}
}

// Validate rejects samples no downstream component can place or reduce.
func (m *MetricDatapoint) Validate() error {
	if strings.TrimSpace(m.Metric) == "" {
		return fmt.Errorf("metric is required")
	}
	if strings.ContainsAny(m.Metric, " \t\n") {
		return fmt.Errorf("metric %q must not contain whitespace", m.Metric)
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be a positive unix time, got %d", m.Timestamp)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return fmt.Errorf("value must be finite")
	}
	return nil
}
