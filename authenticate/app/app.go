// Package app wires the authenticate service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vidcat/vidcat-stack/authenticate/internal/audit"
	"github.com/vidcat/vidcat-stack/authenticate/internal/handlers"
	authmw "github.com/vidcat/vidcat-stack/authenticate/internal/middleware"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/authenticate/internal/password"
	"github.com/vidcat/vidcat-stack/authenticate/internal/ratelimit"
	"github.com/vidcat/vidcat-stack/authenticate/internal/repository"
	"github.com/vidcat/vidcat-stack/authenticate/internal/server"
	"github.com/vidcat/vidcat-stack/authenticate/internal/service"
	"github.com/vidcat/vidcat-stack/authenticate/pkg/tokens"
	"github.com/vidcat/vidcat-stack/common/config"
	"github.com/vidcat/vidcat-stack/common/httputil"
	"github.com/vidcat/vidcat-stack/common/logging"
	"github.com/vidcat/vidcat-stack/common/messaging"
	natsclient "github.com/vidcat/vidcat-stack/common/messaging/nats"
)

// App is a fully wired authenticate service.
type App struct {
	cfg     *config.Config
	logger  *logging.Logger
	handler http.Handler
	closers []func() error
	checks  map[string]handlers.HealthChecker
}

// New connects every configured dependency and builds the HTTP handler.
// On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger, checks: make(map[string]handlers.HealthChecker)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	key, err := tokens.DeriveKey(cfg.Auth.SigningPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	codec := tokens.NewCodec(key)

	repo, err := a.openRepository(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := a.openPublisher()
	if err != nil {
		return nil, err
	}

	limiter, err := a.openLimiter()
	if err != nil {
		return nil, err
	}

	svc := service.NewAuthService(repo, password.NewBcryptHasher(cfg.Auth.BcryptCost), codec,
		service.WithLogger(logger),
		service.WithTTLs(cfg.Auth.AccessTokenTTL(), cfg.Auth.RefreshTokenTTL()),
		service.WithDefaultRole(models.Role(cfg.Auth.DefaultRole)),
		service.WithAudit(audit.NewLogger(publisher, logger)),
	)

	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	h := handlers.NewAuthHandler(svc, limiter, logger)
	h.SetTrustedProxies(proxies)
	for name, check := range a.checks {
		h.AddHealthCheck(name, check)
	}

	a.handler = server.NewRouter(h, authmw.NewAuthMiddleware(codec, repo, logger), server.Options{
		Logger:         logger.Logger,
		CORSOrigins:    cfg.Server.CORSOrigins,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	return a, nil
}

func (a *App) openRepository(ctx context.Context) (repository.Repository, error) {
	if a.cfg.Database.Type != "postgres" {
		a.logger.Warn("Using in-memory repository (development only)")
		return repository.NewInMemoryRepository(), nil
	}

	pg := a.cfg.Database.Postgres
	connString := pg.ConnString()
	a.logger.Info("Connecting to PostgreSQL",
		slog.String("host", pg.Host),
		slog.Int("port", pg.Port),
		slog.String("database", pg.Database),
	)

	pgRepo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	a.closers = append(a.closers, func() error { pgRepo.Close(); return nil })

	a.logger.Info("Running database migrations", slog.String("source", a.cfg.Database.MigrationsPath))
	result, err := repository.Migrate(a.cfg.Database.MigrationsPath, connString)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Database migration complete",
		slog.Uint64("version", uint64(result.Version)),
		slog.Bool("dirty", result.Dirty),
		slog.Bool("changed", result.Changed),
	)

	a.checks["postgres"] = pgRepo
	return pgRepo, nil
}

func (a *App) openPublisher() (messaging.Publisher, error) {
	if !a.cfg.NATS.Enabled {
		return messaging.NoopPublisher{}, nil
	}

	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = a.cfg.NATS.URL
	natsCfg.Name = "vidcat-authenticate"
	natsCfg.MaxReconnects = a.cfg.NATS.MaxReconnects
	if a.cfg.NATS.ReconnectWait > 0 {
		natsCfg.ReconnectWait = a.cfg.NATS.ReconnectWait
	}
	natsCfg.Logger = a.logger.Logger

	client, err := natsclient.NewClient(natsCfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	a.checks["nats"] = client
	a.logger.Info("Publishing auth events to NATS", slog.String("url", a.cfg.NATS.URL))
	return client, nil
}

func (a *App) openLimiter() (ratelimit.RateLimiter, error) {
	if !a.cfg.RateLimit.Enabled {
		return ratelimit.NoOpRateLimiter{}, nil
	}

	limiter, err := ratelimit.NewRedisRateLimiter(a.cfg.Redis.URL, a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, limiter.Close)
	a.checks["redis"] = limiter
	a.logger.Info("Credential rate limiting enabled",
		slog.Int("requests", a.cfg.RateLimit.Requests),
		slog.Duration("window", a.cfg.RateLimit.Window),
	)
	return limiter, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Close releases dependencies in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Authenticate service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownTimeout := cfg.Server.WriteTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}
