package middleware

import (
	"context"
	"net/http"

	"github.com/vidcat/vidcat-stack/authenticate/internal/metrics"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/authenticate/internal/repository"
	"github.com/vidcat/vidcat-stack/authenticate/pkg/tokens"
	"github.com/vidcat/vidcat-stack/common/httputil"
	"github.com/vidcat/vidcat-stack/common/logging"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the principal attached by the gate, if any.
func PrincipalFromContext(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*models.Principal)
	return p, ok && p != nil
}

type AuthMiddleware struct {
	codec  *tokens.Codec
	repo   repository.Repository
	logger *logging.Logger
}

func NewAuthMiddleware(codec *tokens.Codec, repo repository.Repository, logger *logging.Logger) *AuthMiddleware {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthMiddleware{
		codec:  codec,
		repo:   repo,
		logger: logger,
	}
}

// Authenticate attaches a principal when the request carries a valid bearer
// token for an existing user. It never rejects: any token problem leaves the
// request anonymous and RequireAuth decides downstream.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal := m.resolve(r); principal != nil {
			r = r.WithContext(WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) *models.Principal {
	ctx := r.Context()

	token, ok := httputil.BearerToken(r)
	if !ok {
		metrics.GateDecisions.WithLabelValues(metrics.GateAnonymous).Inc()
		return nil
	}

	subject, err := m.codec.ExtractSubject(token)
	if err != nil {
		m.logger.DebugContext(ctx, "ignoring unverifiable bearer token", logging.Error(err))
		metrics.GateDecisions.WithLabelValues(metrics.GateRejected).Inc()
		return nil
	}

	if _, attached := PrincipalFromContext(ctx); attached {
		return nil
	}

	user, err := m.repo.GetUserByUsername(ctx, subject)
	if err != nil {
		m.logger.DebugContext(ctx, "bearer token subject not resolvable",
			logging.Subject(subject),
			logging.Error(err),
		)
		metrics.GateDecisions.WithLabelValues(metrics.GateRejected).Inc()
		return nil
	}

	if !m.codec.ValidateFor(token, user.Username) {
		m.logger.DebugContext(ctx, "bearer token expired or mismatched", logging.Subject(subject))
		metrics.GateDecisions.WithLabelValues(metrics.GateRejected).Inc()
		return nil
	}

	metrics.GateDecisions.WithLabelValues(metrics.GateAuthenticated).Inc()
	return user.Principal()
}

// RequireAuth rejects requests the gate left anonymous.
func (m *AuthMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httputil.WriteError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		next(w, r)
	}
}
