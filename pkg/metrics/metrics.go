// Package metrics provides observability for the session manager and the
// access policy evaluator
package metrics

import (
	"net/http"
	"time"
)

// Outcome labels shared by login and refresh metrics
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeNetworkError       = "network_error"
	OutcomeSessionExpired     = "session_expired"
	OutcomeRateLimited        = "rate_limited"
)

// Metrics provides observability for session and policy operations
type Metrics interface {
	// Session metrics
	RecordLogin(outcome string, duration time.Duration)
	RecordRefresh(outcome string, duration time.Duration)
	RecordRefreshJoined()
	RecordRetry()
	RecordSessionExpired()
	RecordLogout()

	// Policy metrics
	RecordPolicyDecision(resourceType, effect string)
	RecordPolicyReload(success bool)

	// HTTP handler for Prometheus scraping
	HTTPHandler() http.Handler
}

// NoOpMetrics provides a no-op implementation for testing/disabled monitoring
type NoOpMetrics struct{}

// NewNoOpMetrics creates a new no-op metrics instance
func NewNoOpMetrics() *NoOpMetrics {
	return &NoOpMetrics{}
}

// Session metrics
func (n *NoOpMetrics) RecordLogin(outcome string, duration time.Duration)   {}
func (n *NoOpMetrics) RecordRefresh(outcome string, duration time.Duration) {}
func (n *NoOpMetrics) RecordRefreshJoined()                                 {}
func (n *NoOpMetrics) RecordRetry()                                         {}
func (n *NoOpMetrics) RecordSessionExpired()                                {}
func (n *NoOpMetrics) RecordLogout()                                        {}

// Policy metrics
func (n *NoOpMetrics) RecordPolicyDecision(resourceType, effect string) {}
func (n *NoOpMetrics) RecordPolicyReload(success bool)                  {}

// HTTPHandler returns a no-op handler
func (n *NoOpMetrics) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("# NoOp metrics - monitoring disabled\n"))
	})
}
