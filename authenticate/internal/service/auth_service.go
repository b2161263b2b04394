package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidcat/vidcat-stack/authenticate/internal/audit"
	"github.com/vidcat/vidcat-stack/authenticate/internal/metrics"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/authenticate/internal/password"
	"github.com/vidcat/vidcat-stack/authenticate/internal/repository"
	"github.com/vidcat/vidcat-stack/authenticate/pkg/tokens"
	"github.com/vidcat/vidcat-stack/common/logging"
)

var (
	ErrUsernameTaken        = errors.New("username already taken")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUserRecordMissing    = errors.New("user record missing after authentication")
	ErrRefreshTokenExpired  = errors.New("refresh token is expired")
	ErrInvalidToken         = errors.New("invalid token")
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Authenticator verifies a username and password pair. It must fail closed
// and must not reveal whether the username exists.
type Authenticator interface {
	Authenticate(ctx context.Context, username, rawPassword string) error
}

// CredentialAuthenticator checks passwords against the credential store.
type CredentialAuthenticator struct {
	repo   repository.Repository
	hasher password.Hasher

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentialAuthenticator(repo repository.Repository, hasher password.Hasher) *CredentialAuthenticator {
	return &CredentialAuthenticator{repo: repo, hasher: hasher}
}

// Authenticate returns ErrAuthenticationFailed for an unknown user or a wrong
// password. Unknown users still pay for one hash comparison so both cases
// take comparable time.
func (a *CredentialAuthenticator) Authenticate(ctx context.Context, username, rawPassword string) error {
	timer := prometheus.NewTimer(metrics.PasswordHashDuration)
	defer timer.ObserveDuration()

	user, err := a.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			a.hasher.Matches(rawPassword, a.dummy())
			return ErrAuthenticationFailed
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if !a.hasher.Matches(rawPassword, user.PasswordHash) {
		return ErrAuthenticationFailed
	}
	return nil
}

func (a *CredentialAuthenticator) dummy() string {
	a.dummyOnce.Do(func() {
		a.dummyHash, _ = a.hasher.Hash("vidcat-dummy-password")
	})
	return a.dummyHash
}

// AuthService implements registration, login and refresh token rotation.
// Every operation issues tokens last, after all checks and writes succeed.
type AuthService struct {
	repo          repository.Repository
	hasher        password.Hasher
	codec         *tokens.Codec
	authenticator Authenticator
	audit         *audit.Logger
	logger        *logging.Logger
	accessTTL     time.Duration
	refreshTTL    time.Duration
	defaultRole   models.Role
}

type Option func(*AuthService)

// WithAuthenticator replaces the credential check used by Login.
func WithAuthenticator(a Authenticator) Option {
	return func(s *AuthService) { s.authenticator = a }
}

// WithAudit publishes lifecycle events through l.
func WithAudit(l *audit.Logger) Option {
	return func(s *AuthService) { s.audit = l }
}

// WithLogger sets the logger. Outcome lines carry the request ID from ctx.
func WithLogger(l *logging.Logger) Option {
	return func(s *AuthService) { s.logger = l }
}

// WithTTLs sets the access and refresh token lifetimes. Non-positive values
// keep the defaults.
func WithTTLs(access, refresh time.Duration) Option {
	return func(s *AuthService) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

func WithDefaultRole(role models.Role) Option {
	return func(s *AuthService) {
		if role != "" {
			s.defaultRole = role
		}
	}
}

func NewAuthService(repo repository.Repository, hasher password.Hasher, codec *tokens.Codec, opts ...Option) *AuthService {
	s := &AuthService{
		repo:        repo,
		hasher:      hasher,
		codec:       codec,
		logger:      logging.Default(),
		accessTTL:   DefaultAccessTokenTTL,
		refreshTTL:  DefaultRefreshTokenTTL,
		defaultRole: models.RoleUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.authenticator == nil {
		s.authenticator = NewCredentialAuthenticator(repo, hasher)
	}
	return s
}

// Register creates a user and returns its first token pair.
func (s *AuthService) Register(ctx context.Context, username, rawPassword string) (*models.TokenPair, error) {
	if _, err := s.repo.GetUserByUsername(ctx, username); err == nil {
		s.record(ctx, metrics.OpRegister, metrics.OutcomeUsernameTaken, username)
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		s.record(ctx, metrics.OpRegister, metrics.OutcomeError, username)
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	timer := prometheus.NewTimer(metrics.PasswordHashDuration)
	hash, err := s.hasher.Hash(rawPassword)
	timer.ObserveDuration()
	if err != nil {
		s.record(ctx, metrics.OpRegister, metrics.OutcomeError, username)
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		s.record(ctx, metrics.OpRegister, metrics.OutcomeError, username)
		return nil, fmt.Errorf("failed to generate user ID: %w", err)
	}

	user := &models.User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: hash,
		Role:         s.defaultRole,
	}

	// The store's unique constraint settles races the lookup above missed.
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			s.record(ctx, metrics.OpRegister, metrics.OutcomeUsernameTaken, username)
			return nil, ErrUsernameTaken
		}
		s.record(ctx, metrics.OpRegister, metrics.OutcomeError, username)
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := s.issuePair(username)
	if err != nil {
		s.record(ctx, metrics.OpRegister, metrics.OutcomeError, username)
		return nil, err
	}

	s.record(ctx, metrics.OpRegister, metrics.OutcomeSuccess, username)
	s.audit.UserRegistered(ctx, user)
	return pair, nil
}

// Login authenticates the pair, then resolves the user before issuing tokens.
func (s *AuthService) Login(ctx context.Context, username, rawPassword string) (*models.TokenPair, error) {
	if err := s.authenticator.Authenticate(ctx, username, rawPassword); err != nil {
		if errors.Is(err, ErrAuthenticationFailed) {
			s.record(ctx, metrics.OpLogin, metrics.OutcomeAuthFailed, username)
			return nil, ErrAuthenticationFailed
		}
		s.record(ctx, metrics.OpLogin, metrics.OutcomeError, username)
		return nil, err
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.record(ctx, metrics.OpLogin, metrics.OutcomeUserMissing, username)
			return nil, ErrUserRecordMissing
		}
		s.record(ctx, metrics.OpLogin, metrics.OutcomeError, username)
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	pair, err := s.issuePair(user.Username)
	if err != nil {
		s.record(ctx, metrics.OpLogin, metrics.OutcomeError, username)
		return nil, err
	}

	s.record(ctx, metrics.OpLogin, metrics.OutcomeSuccess, username)
	s.audit.SessionStarted(ctx, user)
	return pair, nil
}

// RefreshToken exchanges a live refresh token for a new pair. The old token
// is not revoked and stays usable until it expires.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	subject, err := s.codec.ExtractSubject(refreshToken)
	if err != nil {
		s.record(ctx, metrics.OpRefresh, metrics.OutcomeInvalidToken, "")
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if s.codec.IsExpired(refreshToken) {
		s.record(ctx, metrics.OpRefresh, metrics.OutcomeExpired, subject)
		return nil, ErrRefreshTokenExpired
	}

	pair, err := s.issuePair(subject)
	if err != nil {
		s.record(ctx, metrics.OpRefresh, metrics.OutcomeError, subject)
		return nil, err
	}

	s.record(ctx, metrics.OpRefresh, metrics.OutcomeSuccess, subject)
	s.audit.TokenRefreshed(ctx, subject)
	return pair, nil
}

// Me returns the user behind an authenticated principal, looked up by the ID
// the gate resolved.
func (s *AuthService) Me(ctx context.Context, principal *models.Principal) (*models.User, error) {
	if principal == nil {
		return nil, ErrInvalidToken
	}
	user, err := s.repo.GetUserByID(ctx, principal.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserRecordMissing
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (s *AuthService) AccessTokenTTL() time.Duration {
	return s.accessTTL
}

func (s *AuthService) issuePair(subject string) (*models.TokenPair, error) {
	access, err := s.codec.Issue(subject, s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.codec.Issue(subject, s.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}
	metrics.TokensIssued.Add(2)

	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, nil
}

func (s *AuthService) record(ctx context.Context, op, outcome, username string) {
	metrics.AuthRequests.WithLabelValues(op, outcome).Inc()

	attrs := []any{
		slog.String("operation", op),
		logging.Outcome(outcome),
	}
	if username != "" {
		attrs = append(attrs, logging.Username(username))
	}

	switch outcome {
	case metrics.OutcomeSuccess:
		s.logger.InfoContext(ctx, "auth operation completed", attrs...)
	case metrics.OutcomeError, metrics.OutcomeUserMissing:
		s.logger.ErrorContext(ctx, "auth operation failed", attrs...)
	default:
		s.logger.WarnContext(ctx, "auth operation rejected", attrs...)
	}
}
