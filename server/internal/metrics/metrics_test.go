package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ReportsReceived.WithLabelValues("accepted").Add(3)
	m.AuthFailures.Inc()
	m.GaugeFunc("stored_reports", "Reports currently held.", func() float64 { return 7 })

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `pagescore_server_reports_received_total{outcome="accepted"} 3`)
	assert.Contains(t, out, "pagescore_server_auth_failures_total 1")
	assert.Contains(t, out, "pagescore_server_stored_reports 7")
	assert.True(t, strings.Contains(out, "go_goroutines"), "runtime collector registered")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_Independent(t *testing.T) {
	a, b := New(), New()
	a.AuthFailures.Inc()
	assert.Equal(t, 1.0, counterValue(t, a.AuthFailures))
	assert.Equal(t, 0.0, counterValue(t, b.AuthFailures))
}
