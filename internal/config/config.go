package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGoogle = "google"
	ProviderDev    = "dev"

	LocalMemory = "memory"
	LocalSQLite = "sqlite"
	LocalRedis  = "redis"
)

type Config struct {
	Server struct {
		Port            string `yaml:"port" env:"PORT" env-default:"8080"`
		ShutdownTimeout string `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	} `yaml:"server"`
	Auth struct {
		AllowedDomain string `yaml:"allowed_domain" env:"AUTH_ALLOWED_DOMAIN"`
		RedirectURL   string `yaml:"redirect_url" env:"AUTH_REDIRECT_URL"`
		Provider      string `yaml:"provider" env:"AUTH_PROVIDER" env-default:"google"`
		DevEmail      string `yaml:"dev_email" env:"AUTH_DEV_EMAIL"`
		DevName       string `yaml:"dev_name" env:"AUTH_DEV_NAME"`
		Google        struct {
			ClientID     string `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
			ClientSecret string `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
			CallbackURL  string `yaml:"callback_url" env:"GOOGLE_CALLBACK_URL"`
		} `yaml:"google"`
	} `yaml:"auth"`
	Redis struct {
		Addr      string `yaml:"addr" env:"REDIS_ADDR"`
		Password  string `yaml:"password" env:"REDIS_PASSWORD"`
		DB        int    `yaml:"db" env:"REDIS_DB"`
		Namespace string `yaml:"namespace" env:"REDIS_NAMESPACE"`
	} `yaml:"redis"`
	Postgres struct {
		URL          string `yaml:"url" env:"POSTGRES_URL"`
		AtomicUpsert bool   `yaml:"atomic_upsert" env:"POSTGRES_ATOMIC_UPSERT"`
	} `yaml:"postgres"`
	Local struct {
		Driver string `yaml:"driver" env:"LOCAL_DRIVER" env-default:"sqlite"`
		Path   string `yaml:"path" env:"LOCAL_PATH" env-default:"data/local.db"`
	} `yaml:"local"`
	Catalog struct {
		Path string `yaml:"path" env:"CATALOG_PATH" env-default:"config/catalog.yaml"`
		TTL  string `yaml:"ttl" env:"CATALOG_TTL"`
	} `yaml:"catalog"`
	Retry struct {
		MaxAttempts int    `yaml:"max_attempts" env:"RETRY_MAX_ATTEMPTS" env-default:"3"`
		BaseDelay   string `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
		MaxDelay    string `yaml:"max_delay" env:"RETRY_MAX_DELAY"`
	} `yaml:"retry"`
	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
	} `yaml:"log"`
}

// Load reads YAML config from path (skipped when empty), then applies
// environment overrides and defaults for unset fields.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Auth.AllowedDomain) == "" {
		errs = append(errs, errors.New("auth.allowed_domain is required"))
	}
	if c.Auth.RedirectURL == "" {
		errs = append(errs, errors.New("auth.redirect_url is required"))
	}
	switch c.Auth.Provider {
	case ProviderGoogle:
		if c.Auth.Google.ClientID == "" || c.Auth.Google.CallbackURL == "" {
			errs = append(errs, errors.New("auth.google.client_id and auth.google.callback_url are required"))
		}
	case ProviderDev:
		if c.Auth.DevEmail == "" {
			errs = append(errs, errors.New("auth.dev_email is required for the dev provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.provider %q is not supported", c.Auth.Provider))
	}
	switch c.Local.Driver {
	case LocalMemory:
	case LocalSQLite:
		if c.Local.Path == "" {
			errs = append(errs, errors.New("local.path is required for the sqlite driver"))
		}
	case LocalRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis local driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("local.driver %q is not supported", c.Local.Driver))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
