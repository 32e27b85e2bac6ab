// ABOUTME: Tests for gateway metrics
// ABOUTME: Checks counters through the registry and nil-receiver safety

package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodPost, "/signin/begin", 200, 10*time.Millisecond)
	m.ObserveRequest(http.MethodPost, "/signin/begin", 200, 20*time.Millisecond)
	m.AuthFailure("invalid_credential")
	m.TokenIssued("register")
	m.TokenValidated("sign_in", "expired_token")
	m.EventFlushError(errors.New("boom"))
	m.MaintenanceRun("purge-signing-keys", nil)
	m.MaintenanceRun("purge-signing-keys", errors.New("boom"))
	m.KeysPurged(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/signin/begin", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures.WithLabelValues("invalid_credential")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("register")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenValidations.WithLabelValues("sign_in", "expired_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventFlushErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.maintenanceRuns.WithLabelValues("purge-signing-keys", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.keysPurged))
}

func TestHandler(t *testing.T) {
	m := New()
	m.TokenIssued("step_up")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `passkey_gateway_tokens_issued_total{kind="step_up"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", "/", 200, time.Second)
		m.AuthFailure("x")
		m.TokenIssued("x")
		m.TokenValidated("x", "ok")
		m.EventFlushError(nil)
		m.MaintenanceRun("x", nil)
		m.KeysPurged(1)
	})
}
