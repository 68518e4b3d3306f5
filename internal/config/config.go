// Package config loads the loyaltydesk service configuration from a YAML or
// JSON file, a .env file, and LOYALTYDESK_* environment variables, in that
// order of increasing precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "loyaltydesk.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOYALTYDESK_"

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Messaging MessagingConfig `yaml:"messaging" json:"messaging"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	// Demo seeds fixture data into the memory store and mounts /admin/state.
	Demo bool `yaml:"demo" json:"demo"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins" json:"cors_origins"`
	RateLimit    float64       `yaml:"rate_limit" json:"rate_limit"` // requests per second per identity, 0 disables
	RateBurst    int           `yaml:"rate_burst" json:"rate_burst"`
	PublicURL    string        `yaml:"public_url" json:"public_url"`
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver"` // memory or postgres
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
	AutoMigrate  bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// AuthConfig configures staff session tokens and the bootstrap account.
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret" json:"jwt_secret"`
	TokenTTL          time.Duration `yaml:"token_ttl" json:"token_ttl"`
	Issuer            string        `yaml:"issuer" json:"issuer"`
	BootstrapEmail    string        `yaml:"bootstrap_email" json:"bootstrap_email"`
	BootstrapPassword string        `yaml:"bootstrap_password" json:"bootstrap_password"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MessagingConfig tunes outbound provider calls.
type MessagingConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`
	MaxRetries  int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// SchedulerConfig configures periodic jobs. Specs use robfig/cron syntax.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	ExpirySpec   string `yaml:"expiry_spec" json:"expiry_spec"`
	CampaignSpec string `yaml:"campaign_spec" json:"campaign_spec"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			CORSOrigins:  []string{"*"},
			RateLimit:    20,
			RateBurst:    40,
		},
		Database: DatabaseConfig{
			Driver:       "memory",
			MaxOpenConns: 10,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
			Issuer:   "loyaltydesk",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Messaging: MessagingConfig{
			HTTPTimeout: 15 * time.Second,
			MaxRetries:  3,
			RetryDelay:  time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			ExpirySpec:   "@every 1h",
			CampaignSpec: "@every 1m",
		},
	}
}

// Load reads .env (if present), then the config file at path, then
// environment overrides. An empty path falls back to DefaultConfigFile; a
// missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = DefaultConfigFile
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads a single config file over the defaults. Files ending in
// .json are decoded as JSON, everything else as YAML.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		if !c.Demo {
			return fmt.Errorf("auth.jwt_secret is required")
		}
		c.Auth.JWTSecret = "demo-secret-change-me"
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Messaging.MaxRetries < 1 {
		c.Messaging.MaxRetries = 1
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv applies LOYALTYDESK_* overrides. All parse errors are reported
// before any value is changed.
func (c *Config) applyEnv(lookup lookupFunc) error {
	next := *c

	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var errs []string
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("SERVER_ADDR", &next.Server.Addr)
	str("PUBLIC_URL", &next.Server.PublicURL)
	if v, ok := lookup(EnvPrefix + "CORS_ORIGINS"); ok {
		next.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup(EnvPrefix + "RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sRATE_LIMIT: %v", EnvPrefix, err))
		} else {
			next.Server.RateLimit = f
		}
	}
	str("DATABASE_DRIVER", &next.Database.Driver)
	str("DATABASE_DSN", &next.Database.DSN)
	boolean("DATABASE_AUTO_MIGRATE", &next.Database.AutoMigrate)
	str("JWT_SECRET", &next.Auth.JWTSecret)
	dur("TOKEN_TTL", &next.Auth.TokenTTL)
	str("BOOTSTRAP_EMAIL", &next.Auth.BootstrapEmail)
	str("BOOTSTRAP_PASSWORD", &next.Auth.BootstrapPassword)
	str("LOG_LEVEL", &next.Log.Level)
	str("LOG_FORMAT", &next.Log.Format)
	dur("MESSAGING_TIMEOUT", &next.Messaging.HTTPTimeout)
	boolean("SCHEDULER_ENABLED", &next.Scheduler.Enabled)
	boolean("DEMO", &next.Demo)

	// DATABASE_URL is the conventional name for hosted Postgres.
	if v, ok := lookup("DATABASE_URL"); ok && next.Database.DSN == "" {
		next.Database.DSN = v
		next.Database.Driver = "postgres"
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	*c = next
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
