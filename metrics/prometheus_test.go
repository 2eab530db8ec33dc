package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestPrometheusProviderCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(reg)

	c := p.Counter("taskmesh.tasks.done", WithDescription("completed futures"))
	c.Add(3)
	c.Add(2)

	same := p.Counter("taskmesh.tasks.done")
	same.Add(1)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 1)

	mf := metricFamilies[0]
	require.Equal(t, "taskmesh_tasks_done", mf.GetName())
	require.Len(t, mf.Metric, 1)
	require.Equal(t, float64(6), mf.Metric[0].GetCounter().GetValue())
}

func TestPrometheusProviderHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(reg)

	h := p.Histogram("taskmesh.exec.seconds")
	h.Record(0.1)
	h.Record(0.2)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 1)
	var hist *dto.Histogram
	for _, m := range mfs[0].Metric {
		hist = m.GetHistogram()
	}
	require.NotNil(t, hist)
	require.Equal(t, uint64(2), hist.GetSampleCount())
}
