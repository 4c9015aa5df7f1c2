package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncPayload("helmet")
		m.IncRejected("missing_worker_id")
		m.IncAlert("gas")
		m.SetSubscribers("observers", 3)
		m.IncDropped()
		m.IncPhoneTimeout()
		m.IncPersistFailure()
		m.IncMirrorDropped()
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.IncPayload("helmet")
	m.IncPayload("helmet")
	m.IncAlert("fall")
	m.SetSubscribers("observers", 2)
	m.IncPhoneTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.payloads.WithLabelValues("helmet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("fall")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.subscribers.WithLabelValues("observers")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phoneTimeouts))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncRejected("missing_worker_id")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `hardhat_ingest_rejected_total{reason="missing_worker_id"} 1`))
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
