// Package config loads vidcat service configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vidcat/vidcat-stack/common/httputil"
)

// EnvPrefix prefixes every environment override, e.g. VIDCAT_AUTH_SIGNING_PASSPHRASE.
const EnvPrefix = "VIDCAT"

const redacted = "********"

// MaxTokenTTLSeconds caps both token lifetimes at one year.
const MaxTokenTTLSeconds = 365 * 24 * 60 * 60

// Config is the authenticate service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" yaml:"ratelimit"`
	NATS      NATSConfig      `mapstructure:"nats" yaml:"nats"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins" yaml:"cors_origins"`

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

// AuthConfig holds token and credential settings.
type AuthConfig struct {
	SigningPassphrase      string `mapstructure:"signing_passphrase" yaml:"signing_passphrase"`
	AccessTokenTTLSeconds  int64  `mapstructure:"access_token_ttl_seconds" yaml:"access_token_ttl_seconds"`
	RefreshTokenTTLSeconds int64  `mapstructure:"refresh_token_ttl_seconds" yaml:"refresh_token_ttl_seconds"`
	BcryptCost             int    `mapstructure:"bcrypt_cost" yaml:"bcrypt_cost"`
	DefaultRole            string `mapstructure:"default_role" yaml:"default_role"`
}

func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLSeconds) * time.Second
}

func (a AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(a.RefreshTokenTTLSeconds) * time.Second
}

type DatabaseConfig struct {
	// Type is "postgres" or "memory".
	Type           string         `mapstructure:"type" yaml:"type"`
	MigrationsPath string         `mapstructure:"migrations_path" yaml:"migrations_path"`
	Postgres       PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString renders a postgres:// URL usable by pgx and golang-migrate.
// Credentials and database name are escaped.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:     "/" + p.Database,
		RawQuery: url.Values{"sslmode": {p.SSLMode}}.Encode(),
	}
	return u.String()
}

type RedisConfig struct {
	URL     string `mapstructure:"url" yaml:"url"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// RateLimitConfig bounds credential attempts per client.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configPath, or $VIDCAT_CONFIG_DIR/config.yaml when configPath is
// empty, then applies VIDCAT_* environment overrides. A missing file is not an
// error; the result is validated before it is returned.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configDir := os.Getenv("VIDCAT_CONFIG_DIR")
		if configDir == "" {
			configDir = "/etc/vidcat"
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("auth.signing_passphrase", "")
	v.SetDefault("auth.access_token_ttl_seconds", 900)
	v.SetDefault("auth.refresh_token_ttl_seconds", 604800)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.default_role", "USER")

	v.SetDefault("database.type", "memory")
	v.SetDefault("database.migrations_path", "file://migrations")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "vidcat_auth")
	v.SetDefault("database.postgres.user", "vidcat_auth")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.requests", 10)
	v.SetDefault("ratelimit.window", "1m")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.SigningPassphrase == "" {
		errs = append(errs, errors.New("auth.signing_passphrase is required"))
	}
	if c.Auth.AccessTokenTTLSeconds <= 0 || c.Auth.AccessTokenTTLSeconds > MaxTokenTTLSeconds {
		errs = append(errs, fmt.Errorf("auth.access_token_ttl_seconds must be between 1 and %d", MaxTokenTTLSeconds))
	}
	if c.Auth.RefreshTokenTTLSeconds <= 0 || c.Auth.RefreshTokenTTLSeconds > MaxTokenTTLSeconds {
		errs = append(errs, fmt.Errorf("auth.refresh_token_ttl_seconds must be between 1 and %d", MaxTokenTTLSeconds))
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	switch c.Database.Type {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.type %q is not one of memory, postgres", c.Database.Type))
	}
	if c.RateLimit.Enabled && !c.Redis.Enabled {
		errs = append(errs, errors.New("ratelimit.enabled requires redis.enabled"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("ratelimit.requests and ratelimit.window must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c Config) Redacted() Config {
	if c.Auth.SigningPassphrase != "" {
		c.Auth.SigningPassphrase = redacted
	}
	if c.Database.Postgres.Password != "" {
		c.Database.Postgres.Password = redacted
	}
	c.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	c.Server.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	return c
}
