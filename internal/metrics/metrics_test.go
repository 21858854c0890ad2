package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestObserveCounters(t *testing.T) {
	m := New()
	m.ObserveGenerated("moderator", 5, 1250)
	m.ObserveGenerated("admin", 2, 0)
	m.ObserveActivation("success")
	m.ObserveVerification("expired")
	m.ObserveDeleted(3)

	body := scrape(t, m)
	for _, want := range []string{
		`keyforge_keys_generated_total{role="moderator"} 5`,
		`keyforge_keys_generated_total{role="admin"} 2`,
		`keyforge_debt_charged_cents_total 1250`,
		`keyforge_activations_total{result="success"} 1`,
		`keyforge_verifications_total{result="expired"} 1`,
		`keyforge_keys_deleted_total 3`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGenerated("admin", 1, 0)
	m.ObserveActivation("success")
	m.ObserveRequest("GET", 200, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRequest("POST", 404, 12)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `keyforge_http_requests_total{method="POST",status="4xx"} 1`))
	assert.Contains(t, body, "go_goroutines")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", StatusClass(204))
	assert.Equal(t, "5xx", StatusClass(503))
}
