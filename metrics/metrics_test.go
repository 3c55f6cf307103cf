package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEvents(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewEvents(reg)

	m.RequestIntercepted()
	m.ResponseMatched()
	m.ResponseMatched()
	m.ResponseSkipped()
	m.CallbackFailed("request")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsIntercepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ResponsesMatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResponsesSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallbackFailures.WithLabelValues("request")))

	n, err := testutil.GatherAndCount(reg)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNilEvents(t *testing.T) {
	t.Parallel()

	var m *Events
	assert.NotPanics(t, func() {
		m.RequestIntercepted()
		m.ResponseMatched()
		m.ResponseSkipped()
		m.CallbackFailed("response")
	})
}
