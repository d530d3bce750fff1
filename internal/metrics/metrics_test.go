package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FeedMessagesTotal.Inc()
	m.FeedBarsTotal.WithLabelValues("BTCUSDT").Inc()
	m.ObserveAssemble("main", 2*time.Millisecond, nil)
	m.ObserveAssemble("analysis", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedMessagesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssembleErrors.WithLabelValues("analysis")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.AssembleErrors.WithLabelValues("main")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestHealthStatus_Status(t *testing.T) {
	h := NewHealthStatus()
	status, code := h.Status()
	assert.Equal(t, "healthy", status, "nothing enabled, nothing to degrade")
	assert.Equal(t, http.StatusOK, code)

	h.Enable(true, true, true)
	h.SetFeedConnected(true)
	h.SetRedisConnected(true)
	h.SetSQLiteOK(true)
	status, _ = h.Status()
	assert.Equal(t, "healthy", status)

	h.SetFeedConnected(false)
	status, code = h.Status()
	assert.Equal(t, "degraded", status)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	h.SetFeedConnected(true)
	h.SetRedisConnected(false)
	h.SetSQLiteOK(false)
	status, _ = h.Status()
	assert.Equal(t, "unhealthy", status)
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus()
	h.SetSymbols(3)
	h.SetLastBarTime(time.Now())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"symbols":3`)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
