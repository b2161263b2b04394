package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig is the vcat client state: named profiles holding an endpoint and
// the tokens of the last login.
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       *CLIDefaults           `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

type CLIProfile struct {
	AuthURL      string `yaml:"auth_url" mapstructure:"auth_url"`
	Username     string `yaml:"username,omitempty" mapstructure:"username"`
	AccessToken  string `yaml:"access_token" mapstructure:"access_token"`
	RefreshToken string `yaml:"refresh_token" mapstructure:"refresh_token"`
}

type CLIDefaults struct {
	AuthURL string `yaml:"auth_url" mapstructure:"auth_url"`
}

func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults:       &CLIDefaults{AuthURL: "http://localhost:8080"},
	}
}

// LoadCLI reads path, or $VIDCAT_CONFIG_DIR/cli.yaml, or ~/.vcat/config.yaml.
// A missing file yields defaults. VCAT_AUTH_URL overrides the default endpoint.
func LoadCLI(path string) (*CLIConfig, error) {
	if path == "" {
		dir := os.Getenv("VIDCAT_CONFIG_DIR")
		if dir != "" {
			path = filepath.Join(dir, "cli.yaml")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("failed to determine home directory: %w", err)
			}
			path = filepath.Join(home, ".vcat", "config.yaml")
		}
	}

	v := viper.New()
	v.SetDefault("current_profile", "default")
	v.SetDefault("defaults.auth_url", "http://localhost:8080")
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VCAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("defaults.auth_url", "VCAT_AUTH_URL")

	// The file may not exist yet.
	_ = v.ReadInConfig()

	cfg := DefaultCLI()
	cfg.path = path
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*CLIProfile)
	}
	if cfg.Defaults == nil {
		cfg.Defaults = &CLIDefaults{AuthURL: "http://localhost:8080"}
	}
	return cfg, nil
}

func (c *CLIConfig) Path() string {
	return c.path
}

// Save writes the config with owner-only permissions.
func (c *CLIConfig) Save() error {
	if c.path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(home, ".vcat", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores the tokens of a login under name and makes it current.
func (c *CLIConfig) SaveProfile(name, authURL, username, accessToken, refreshToken string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}
	c.Profiles[name] = &CLIProfile{
		AuthURL:      authURL,
		Username:     username,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile returns the named profile, or the current one when name is empty.
func (c *CLIConfig) GetProfile(name string) (*CLIProfile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	return profile, nil
}

func (c *CLIConfig) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}
	delete(c.Profiles, name)
	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}
	return c.Save()
}

// GetAuthURL prefers the profile endpoint over the default.
func (c *CLIConfig) GetAuthURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.AuthURL != "" {
		return p.AuthURL
	}
	return c.Defaults.AuthURL
}
