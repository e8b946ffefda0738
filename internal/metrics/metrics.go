// Package metrics exposes Prometheus instrumentation for login flows.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace is the Prometheus namespace for all auth metrics.
const Namespace = "schoolauth"

// Label names.
const (
	LabelMethod  = "method"
	LabelOutcome = "outcome"
	LabelKind    = "kind"
	LabelTarget  = "target"
)

// Login methods.
const (
	MethodPassword = "password"
	MethodWebAuthn = "webauthn"
	MethodQR       = "qr"
	MethodRecovery = "recovery"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// LoginsTotal counts login attempts by method and outcome.
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome",
		},
		[]string{LabelMethod, LabelOutcome},
	)

	// TokensIssued counts bearer tokens handed out.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_issued_total",
			Help:      "Bearer tokens issued by login method",
		},
		[]string{LabelMethod},
	)

	// SecurityEventsTotal counts replay and code reuse detections.
	SecurityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "security_events_total",
			Help:      "Security relevant rejections by kind",
		},
		[]string{LabelKind},
	)

	// SweptRowsTotal counts expired rows removed by the sweeper.
	SweptRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "swept_rows_total",
			Help:      "Expired challenges and QR sessions deleted",
		},
		[]string{LabelTarget},
	)

	// RateLimitedTotal counts requests rejected by the login rate limiter.
	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the login rate limiter",
		},
	)
)

// RecordLogin increments the login counter and, on success, the issued token counter.
func RecordLogin(method string, err error) {
	if err != nil {
		LoginsTotal.WithLabelValues(method, OutcomeFailure).Inc()
		return
	}
	LoginsTotal.WithLabelValues(method, OutcomeSuccess).Inc()
	TokensIssued.WithLabelValues(method).Inc()
}
