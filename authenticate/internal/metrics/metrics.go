package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	OpRegister = "register"
	OpLogin    = "login"
	OpRefresh  = "refresh"
)

// Outcome labels.
const (
	OutcomeSuccess       = "success"
	OutcomeUsernameTaken = "username_taken"
	OutcomeAuthFailed    = "auth_failed"
	OutcomeUserMissing   = "user_missing"
	OutcomeExpired       = "expired"
	OutcomeInvalidToken  = "invalid_token"
	OutcomeInvalid       = "invalid_request"
	OutcomeError         = "error"
)

// Gate decision labels.
const (
	GateAnonymous     = "anonymous"
	GateAuthenticated = "authenticated"
	GateRejected      = "rejected"
)

var (
	AuthRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcat_auth_requests_total",
			Help: "Authentication operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vidcat_auth_tokens_issued_total",
			Help: "Total number of signed tokens issued",
		},
	)

	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcat_auth_gate_decisions_total",
			Help: "Bearer token decisions made by the request authentication gate",
		},
		[]string{"decision"},
	)

	PasswordHashDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidcat_auth_password_hash_duration_seconds",
			Help:    "Duration of password hashing and verification",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcat_auth_rate_limit_hits_total",
			Help: "Requests rejected by the credential rate limiter",
		},
		[]string{"operation"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vidcat_auth_events_published_total",
			Help: "Auth lifecycle events handed to the message bus",
		},
		[]string{"subject", "result"},
	)
)
