package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerAndConsumerShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	p := NewProducerMetrics(reg)
	c := NewConsumerMetrics(reg)
	p.PublishedOk.Inc()
	c.SaveFail.Add(3)
	c.DeadLettered.WithLabelValues("retries_exhausted").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(p.PublishedOk))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.SaveFail))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DeadLettered.WithLabelValues("retries_exhausted")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tx_published_total"])
	assert.True(t, names["tx_save_fail_total"])
}

func TestDoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewConsumerMetrics(reg)

	assert.Panics(t, func() { NewConsumerMetrics(reg) })
}
