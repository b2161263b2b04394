package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidcat/vidcat-stack/common/middleware"

	"github.com/vidcat/vidcat-stack/authenticate/internal/handlers"
	authmw "github.com/vidcat/vidcat-stack/authenticate/internal/middleware"
)

// Options controls the optional parts of the router.
type Options struct {
	Logger         *slog.Logger
	CORSOrigins    []string
	MetricsEnabled bool
}

// NewRouter constructs a ServeMux with auth API routes registered. Every
// request passes the authentication gate; only /me requires a principal.
func NewRouter(h *handlers.AuthHandler, authMW *authmw.AuthMiddleware, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Credential endpoints (public)
	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/refresh-token", h.RefreshToken)

	mux.HandleFunc("GET /api/v1/auth/me", authMW.RequireAuth(h.Me))

	// Health checks
	mux.HandleFunc("GET /healthz", h.HealthCheck)
	mux.HandleFunc("GET /readyz", h.Readiness)
	if opts.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	var handler http.Handler = authMW.Authenticate(mux)
	if len(opts.CORSOrigins) > 0 {
		handler = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		})(handler)
	}
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.RequestID(handler)
	return middleware.Recovery(logger)(handler)
}
