package diagnostics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := New(nil, reg)
	require.NotNil(t, d)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := New(nil, reg)

	d.ShowUploads.Inc()
	d.ShowUploads.Inc()

	m := &dto.Metric{}
	require.NoError(t, d.ShowUploads.Write(m))
	require.Equal(t, float64(2), m.GetCounter().GetValue())
}
