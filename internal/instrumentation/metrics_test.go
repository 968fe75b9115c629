package instrumentation

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.DatapointsReceived.Inc()
	m.Drop(ReasonLate)
	m.Drop(ReasonLate)

	require.Equal(t, 1.0, testutil.ToFloat64(m.DatapointsReceived))
	require.Equal(t, 2.0, testutil.ToFloat64(m.DatapointsDropped.WithLabelValues(ReasonLate)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["carbonrelay_datapoints_received_total"])
	require.True(t, names["carbonrelay_datapoints_dropped_total"])
}

func TestNew_NilRegistry(t *testing.T) {
	m := New(nil)
	m.AggregatesEmitted.Add(3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.AggregatesEmitted))
}

func TestSnapshot(t *testing.T) {
	m := New(nil)
	m.DatapointsReceived.Add(4)
	m.Buffers.Set(2)
	m.Drop(ReasonUnroutable)

	snap := m.Snapshot()
	require.Equal(t, 4.0, snap["datapoints_received_total"])
	require.Equal(t, 2.0, snap["aggregation_buffers"])
	require.Equal(t, 1.0, snap["datapoints_dropped_total{unroutable}"])
	require.Zero(t, snap["datapoints_dropped_total{late}"])
}
