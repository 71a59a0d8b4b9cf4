// Package config loads service configuration from an optional YAML file and
// BOOKWELL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP       HTTPConfig      `yaml:"http"`
	GRPC       GRPCConfig      `yaml:"grpc"`
	Database   DatabaseConfig  `yaml:"database"`
	Security   SecurityConfig  `yaml:"security"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	Log        LogConfig       `yaml:"log"`
	Production bool            `yaml:"production"`
}

type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

type SecurityConfig struct {
	CSRFSecret  string   `yaml:"csrf_secret"`
	TokenSecret string   `yaml:"token_secret"`
	TokenIssuer string   `yaml:"token_issuer"`
	TokenTTL    Duration `yaml:"token_ttl"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Duration accepts Go duration strings ("30s", "15m") in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	var c Config
	c.Normalize()
	return c
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation. Tools that need only part of the
// configuration check the fields they use.
func Read(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

// Normalize fills defaults for unset fields.
func (c *Config) Normalize() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout.Duration <= 0 {
		c.HTTP.ShutdownTimeout.Duration = 10 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.ConnMaxLifetime.Duration <= 0 {
		c.Database.ConnMaxLifetime.Duration = 30 * time.Minute
	}
	if c.Security.TokenIssuer == "" {
		c.Security.TokenIssuer = "bookwell"
	}
	if c.Security.TokenTTL.Duration <= 0 {
		c.Security.TokenTTL.Duration = time.Hour
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 40
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate fails when a required secret is missing.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Security.CSRFSecret) == "" {
		errs = append(errs, errors.New("security.csrf_secret is required"))
	}
	if strings.TrimSpace(c.Security.TokenSecret) == "" {
		errs = append(errs, errors.New("security.token_secret is required"))
	}
	if c.Production && strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn is required in production"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BOOKWELL_HTTP_ADDR", &c.HTTP.Addr)
	str("BOOKWELL_GRPC_ADDR", &c.GRPC.Addr)
	str("BOOKWELL_PG_DSN", &c.Database.DSN)
	str("BOOKWELL_CSRF_SECRET", &c.Security.CSRFSecret)
	str("BOOKWELL_TOKEN_SECRET", &c.Security.TokenSecret)
	str("BOOKWELL_TOKEN_ISSUER", &c.Security.TokenIssuer)
	str("BOOKWELL_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("BOOKWELL_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.HTTP.AllowedOrigins = append(c.HTTP.AllowedOrigins, origin)
			}
		}
	}
	if v, ok := lookup("BOOKWELL_PG_MAX_OPEN_CONNS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BOOKWELL_PG_MAX_OPEN_CONNS: %w", err)
		}
		c.Database.MaxOpenConns = n
	}
	if v, ok := lookup("BOOKWELL_RATE_LIMIT_PER_SECOND"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BOOKWELL_RATE_LIMIT_PER_SECOND: %w", err)
		}
		c.RateLimit.PerSecond = f
	}
	if v, ok := lookup("BOOKWELL_RATE_LIMIT_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BOOKWELL_RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	if v, ok := lookup("BOOKWELL_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BOOKWELL_TOKEN_TTL: %w", err)
		}
		c.Security.TokenTTL.Duration = d
	}
	if v, ok := lookup("BOOKWELL_PRODUCTION"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BOOKWELL_PRODUCTION: %w", err)
		}
		c.Production = b
	}
	return nil
}
