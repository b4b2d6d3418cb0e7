package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix     = "SOCIALAUTH_"
	configFileEnv = envPrefix + "CONFIG_FILE"

	BackendLocal    = "local"
	BackendFirebase = "firebase"
)

// Config contains runtime configuration for the session service.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR" yaml:"http_addr"`
	LogLevel  string `env:"LOG_LEVEL" yaml:"log_level"`
	LogFormat string `env:"LOG_FORMAT" yaml:"log_format"`

	// Backend selects the identity backend: "local" or "firebase".
	Backend string `env:"BACKEND" yaml:"backend"`

	// AllowUnverified lets the local backend accept providers it cannot verify.
	AllowUnverified bool `env:"ALLOW_UNVERIFIED" yaml:"allow_unverified"`

	SessionSecret string        `env:"SESSION_SECRET" yaml:"session_secret"`
	SessionTTL    time.Duration `env:"SESSION_TTL" yaml:"session_ttl"`

	FirebaseAPIKey     string `env:"FIREBASE_API_KEY" yaml:"firebase_api_key"`
	FirebaseRequestURI string `env:"FIREBASE_REQUEST_URI" yaml:"firebase_request_uri"`

	Google   ProviderConfig `envPrefix:"GOOGLE_" yaml:"google"`
	Facebook ProviderConfig `envPrefix:"FACEBOOK_" yaml:"facebook"`
}

// ProviderConfig holds OAuth client settings for one provider.
type ProviderConfig struct {
	ClientID     string   `env:"CLIENT_ID" yaml:"client_id"`
	ClientSecret string   `env:"CLIENT_SECRET" yaml:"client_secret"`
	RedirectURL  string   `env:"REDIRECT_URL" yaml:"redirect_url"`
	Scopes       []string `env:"SCOPES" envSeparator:"," yaml:"scopes"`
}

// Enabled reports whether the provider has a client configured.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != ""
}

// Load reads the optional YAML file named by SOCIALAUTH_CONFIG_FILE, then
// applies SOCIALAUTH_* environment variables on top, then defaults for local development.
func Load() (Config, error) {
	var cfg Config

	if path := os.Getenv(configFileEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Hour
	}
	if c.Backend == BackendLocal && c.SessionSecret == "" {
		c.SessionSecret = "dev-secret-change-me"
	}
	c.Backend = strings.ToLower(c.Backend)
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendLocal:
		if c.SessionSecret == "" {
			errs = append(errs, errors.New("session_secret must not be empty"))
		}
	case BackendFirebase:
		if c.FirebaseAPIKey == "" {
			errs = append(errs, errors.New("firebase backend requires firebase_api_key"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	for name, p := range map[string]ProviderConfig{"google": c.Google, "facebook": c.Facebook} {
		if p.Enabled() && (p.ClientSecret == "" || p.RedirectURL == "") {
			errs = append(errs, fmt.Errorf("%s requires client_secret and redirect_url", name))
		}
	}

	return errors.Join(errs...)
}
