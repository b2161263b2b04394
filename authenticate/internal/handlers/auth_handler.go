package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidcat/vidcat-stack/authenticate/internal/metrics"
	"github.com/vidcat/vidcat-stack/authenticate/internal/middleware"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/authenticate/internal/password"
	"github.com/vidcat/vidcat-stack/authenticate/internal/ratelimit"
	"github.com/vidcat/vidcat-stack/authenticate/internal/service"
	"github.com/vidcat/vidcat-stack/common/httputil"
	"github.com/vidcat/vidcat-stack/common/logging"
	"github.com/vidcat/vidcat-stack/common/validation"
)

const (
	msgRegistered      = "User registered successfully"
	msgLoggedIn        = "User logged in successfully"
	msgRefreshed       = "Token refreshed successfully"
	msgUsernameTaken   = "Username is already taken!"
	msgInvalidCreds    = "Invalid credentials"
	msgUserNotFound    = "User not found"
	msgRefreshExpired  = "Refresh token is expired"
	msgInvalidToken    = "Invalid token"
	msgTooManyRequests = "Too many requests"
	msgInternal        = "Internal server error"
)

// HealthChecker is a dependency checked by the readiness endpoint.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type AuthHandler struct {
	service *service.AuthService
	limiter ratelimit.RateLimiter
	checks  map[string]HealthChecker
	proxies httputil.TrustedProxies
	logger  *logging.Logger
}

func NewAuthHandler(svc *service.AuthService, limiter ratelimit.RateLimiter, logger *logging.Logger) *AuthHandler {
	if limiter == nil {
		limiter = ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{
		service: svc,
		limiter: limiter,
		checks:  make(map[string]HealthChecker),
		logger:  logger,
	}
}

// SetTrustedProxies lets the listed peers supply the client address used
// for rate limiting through forwarding headers.
func (h *AuthHandler) SetTrustedProxies(p httputil.TrustedProxies) {
	h.proxies = p
}

// AddHealthCheck registers a dependency reported by Readiness.
func (h *AuthHandler) AddHealthCheck(name string, check HealthChecker) {
	h.checks[name] = check
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, metrics.OpRegister) {
		return
	}

	var req models.Credentials
	if !h.decode(w, r, &req, metrics.OpRegister) {
		return
	}

	pair, err := h.service.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			httputil.WriteError(w, http.StatusConflict, msgUsernameTaken)
		case errors.Is(err, password.ErrTooLong):
			httputil.WriteError(w, http.StatusBadRequest, "password must be at most 72 bytes")
		default:
			h.internalError(w, r, "register failed", err)
		}
		return
	}

	httputil.WriteSuccess(w, http.StatusCreated, models.NewTokenResponse(msgRegistered, pair))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, metrics.OpLogin) {
		return
	}

	var req models.Credentials
	if !h.decode(w, r, &req, metrics.OpLogin) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAuthenticationFailed):
			httputil.WriteError(w, http.StatusUnauthorized, msgInvalidCreds)
		case errors.Is(err, service.ErrUserRecordMissing):
			httputil.WriteError(w, http.StatusNotFound, msgUserNotFound)
		default:
			h.internalError(w, r, "login failed", err)
		}
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, models.NewTokenResponse(msgLoggedIn, pair))
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if !h.decode(w, r, &req, metrics.OpRefresh) {
		return
	}

	pair, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshTokenExpired):
			httputil.WriteError(w, http.StatusForbidden, msgRefreshExpired)
		case errors.Is(err, service.ErrInvalidToken):
			httputil.WriteError(w, http.StatusUnauthorized, msgInvalidToken)
		default:
			h.internalError(w, r, "token refresh failed", err)
		}
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, models.NewTokenResponse(msgRefreshed, pair))
}

// Me returns the authenticated user. Must be wrapped in RequireAuth.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.service.Me(r.Context(), principal)
	if err != nil {
		if errors.Is(err, service.ErrUserRecordMissing) {
			httputil.WriteError(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.internalError(w, r, "failed to load current user", err)
		return
	}

	httputil.WriteSuccess(w, http.StatusOK, map[string]any{
		"user":        user,
		"authorities": principal.Authorities,
	})
}

func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readiness checks every registered dependency.
func (h *AuthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.CheckHealth(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", slog.String("check", name), logging.Error(err))
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": state, "checks": results})
}

// allow applies the per-client limit for op. Limiter errors fail open.
func (h *AuthHandler) allow(w http.ResponseWriter, r *http.Request, op string) bool {
	ip := h.proxies.ClientIP(r)
	ok, err := h.limiter.Allow(r.Context(), op+":"+ip)
	if err != nil {
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", logging.IP(ip), logging.Error(err))
		return true
	}
	if !ok {
		metrics.RateLimitHits.WithLabelValues(op).Inc()
		h.logger.WarnContext(r.Context(), "rate limit exceeded", slog.String("operation", op), logging.IP(ip))
		w.Header().Set("Retry-After", "60")
		httputil.WriteError(w, http.StatusTooManyRequests, msgTooManyRequests)
		return false
	}
	return true
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any, op string) bool {
	if err := httputil.DecodeJSON(w, r, v); err != nil {
		metrics.AuthRequests.WithLabelValues(op, metrics.OutcomeInvalid).Inc()
		httputil.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validation.Struct(v); err != nil {
		metrics.AuthRequests.WithLabelValues(op, metrics.OutcomeInvalid).Inc()
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg, logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, msgInternal)
}
