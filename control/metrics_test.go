package control

import (
	"strings"
	"testing"

	"github.com/momentics/hioload-iocore/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsObserveBatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "ctx-1")

	m.ObserveBatch([]api.EventRecord{
		{Handle: 3, Kind: api.EventRead},
		{Handle: 4, Kind: api.EventRead},
		{Handle: 5, Kind: api.EventDisconnect},
	})
	m.ObserveBatch(nil)

	require.Equal(t, 2.0, testutil.ToFloat64(m.selects))
	require.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("read")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("disconnect")))

	expected := `
# HELP iocore_select_calls_total Number of select calls
# TYPE iocore_select_calls_total counter
iocore_select_calls_total{context="ctx-1"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "iocore_select_calls_total"))
}

func TestMetricsGauges(t *testing.T) {
	m := NewMetrics(nil, "ctx-2")
	require.NotNil(t, m.Gatherer())

	m.SetRegistered(3)
	m.AcceptPosted(16)
	m.AcceptPosted(-1)
	m.Dropped()

	require.Equal(t, 3.0, testutil.ToFloat64(m.registered))
	require.Equal(t, 15.0, testutil.ToFloat64(m.acceptInflight))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
}

func TestMetricsSharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics(reg, "a")
	b := NewMetrics(reg, "b")
	a.Dropped()
	b.Dropped()

	n, err := testutil.GatherAndCount(reg, "iocore_dropped_notifications_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	a.Unregister(reg)
	n, err = testutil.GatherAndCount(reg, "iocore_dropped_notifications_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// The label set of a is free again.
	require.NotPanics(t, func() { NewMetrics(reg, "a") })
}
