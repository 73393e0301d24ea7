package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SampleIngested()
		m.ParseError()
		m.SetWorkerState(1)
		m.Conversion("converged", true, true)
		m.SetBufferLength("raw", 3)
		m.EventDropped()
		m.PersistWrite("raw")
		m.PersistFailure("raw")
		m.PersistDrop("raw")
	})
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SampleIngested()
	m.SampleIngested()
	m.Conversion("exhausted", true, false)
	m.PersistFailure("derived")
	m.SetBufferLength("raw", 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SamplesIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conversions.WithLabelValues("exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Substitutions))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GuessRepairs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistFailures.WithLabelValues("derived")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BufferLength.WithLabelValues("raw")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "luxmeter_ingest_samples_total 2"))
}
