package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scrape returns the text exposition of m
func scrape(t *testing.T, m *PrometheusMetrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, req)
	require.Equal(t, 200, w.Code)
	return w.Body.String()
}

func TestNewPrometheusMetrics(t *testing.T) {
	tests := []struct {
		name      string
		namespace string
	}{
		{name: "Default namespace", namespace: "accesscore"},
		{name: "Custom namespace", namespace: "hr_dashboard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewPrometheusMetrics(tt.namespace)
			require.NotNil(t, m)

			m.RecordLogout()
			body := scrape(t, m)
			assert.Contains(t, body, tt.namespace+"_session_logouts_total 1")
		})
	}
}

func TestPrometheusMetrics_SessionCounters(t *testing.T) {
	m := NewPrometheusMetrics("accesscore_test")

	m.RecordLogin(OutcomeSuccess, 20*time.Millisecond)
	m.RecordLogin(OutcomeInvalidCredentials, 5*time.Millisecond)
	m.RecordLogin(OutcomeSuccess, 30*time.Millisecond)
	m.RecordRefresh(OutcomeSuccess, 10*time.Millisecond)
	m.RecordRefreshJoined()
	m.RecordRefreshJoined()
	m.RecordRetry()
	m.RecordSessionExpired()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginsTotal.WithLabelValues(OutcomeInvalidCredentials)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshesTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.refreshJoined))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.expiredTotal))

	body := scrape(t, m)
	assert.Contains(t, body, `accesscore_test_session_logins_total{outcome="success"} 2`)
	assert.Contains(t, body, "accesscore_test_session_login_duration_milliseconds_count 3")
}

func TestPrometheusMetrics_PolicyCounters(t *testing.T) {
	m := NewPrometheusMetrics("accesscore_test")

	m.RecordPolicyDecision("candidate", "allow")
	m.RecordPolicyDecision("candidate", "deny")
	m.RecordPolicyDecision("candidate", "deny")
	m.RecordPolicyReload(true)
	m.RecordPolicyReload(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues("candidate", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloadsTotal.WithLabelValues("failure")))

	body := scrape(t, m)
	assert.Contains(t, body, `accesscore_test_policy_decisions_total{effect="allow",resource_type="candidate"} 1`)
}

func TestNoOpMetrics(t *testing.T) {
	var m Metrics = NewNoOpMetrics()
	m.RecordLogin(OutcomeSuccess, time.Millisecond)
	m.RecordPolicyDecision("employee", "deny")

	w := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), "NoOp metrics")
}
