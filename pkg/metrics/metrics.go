package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records password login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspilot_auth_attempts_total",
			Help: "Total number of password authentication attempts",
		},
		[]string{"result"},
	)

	// TokenRotations counts refresh token rotations by result (success|rejected).
	TokenRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspilot_token_rotations_total",
			Help: "Total number of refresh token rotation attempts",
		},
		[]string{"result"},
	)

	// OTPIssued counts one-time codes issued by purpose.
	OTPIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campuspilot_otp_issued_total",
			Help: "Total number of one-time codes issued",
		},
		[]string{"purpose"},
	)

	// ActiveRefreshTokens tracks refresh tokens that are neither expired nor revoked.
	ActiveRefreshTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campuspilot_active_refresh_tokens",
			Help: "Number of active refresh tokens",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "campuspilot_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
