package statsprom

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherMetric(t *testing.T, s *Stats, name string) []*dto.Metric {
	t.Helper()
	families, err := s.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.Metric
		}
	}
	return nil
}

func TestStats_PartitionSizeSetsGauge(t *testing.T) {
	s := New()
	s.PartitionSize(3, 7)

	metrics := gatherMetric(t, s, "openset_partition_size")
	require.Len(t, metrics, 1)
	assert.Equal(t, "partition", metrics[0].Label[0].GetName())
	assert.Equal(t, "3", metrics[0].Label[0].GetValue())
	assert.Equal(t, float64(7), metrics[0].Gauge.GetValue())
}

func TestStats_LoopPanicIncrementsCounter(t *testing.T) {
	s := New()
	s.LoopPanic("run")
	s.LoopPanic("run")

	metrics := gatherMetric(t, s, "openset_loop_panics_total")
	require.Len(t, metrics, 1)
	assert.Equal(t, float64(2), metrics[0].Counter.GetValue())
}

func TestStats_QueryStartedTracksActiveAndTotal(t *testing.T) {
	s := New()
	done := s.QueryStarted("event")

	active := gatherMetric(t, s, "openset_queries_active")
	require.Len(t, active, 1)
	assert.Equal(t, float64(1), active[0].Gauge.GetValue())

	done("ok")

	active = gatherMetric(t, s, "openset_queries_active")
	assert.Equal(t, float64(0), active[0].Gauge.GetValue())

	total := gatherMetric(t, s, "openset_queries_total")
	require.Len(t, total, 1)
	assert.Equal(t, float64(1), total[0].Counter.GetValue())
}

func TestStats_HTTPRequestIncrementsByRouteAndStatusClass(t *testing.T) {
	s := New()
	s.HTTPRequest("/v1/event", "2xx")
	s.HTTPRequest("/v1/event", "2xx")
	s.HTTPRequest("/v1/event", "4xx")

	metrics := gatherMetric(t, s, "openset_http_requests_total")
	assert.Len(t, metrics, 2)
}

func TestNew_RegistersOnDedicatedRegistry(t *testing.T) {
	s1 := New()
	s2 := New()
	assert.NotEqual(t, s1.Registry(), prometheus.DefaultRegisterer)
	assert.NotSame(t, s1.Registry(), s2.Registry())
}
