package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	APIKey      string `yaml:"api_key"`

	// HTTP edge configuration
	CORSAllowedOrigin string `yaml:"cors_allowed_origin"`
	RateLimitRPM      int    `yaml:"rate_limit_rpm"`
	RateLimitBurst    int    `yaml:"rate_limit_burst"`

	// Logging configuration
	LogLevel string `yaml:"log_level"`

	// Database configuration
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`

	// Locking configuration
	LockBackend  string        `yaml:"lock_backend"`
	LockTimeout  time.Duration `yaml:"-"`
	LockPoolSize int           `yaml:"lock_pool_size"`

	// Cache configuration
	CacheTTL time.Duration `yaml:"-"`

	// Metrics configuration
	MetricsAllowedIPs string `yaml:"metrics_allowed_ips"`

	// Seed holds organizations and instances upserted at startup
	Seed Seed `yaml:"seed"`
}

// Seed lists the organizations and instances to make addressable
type Seed struct {
	Organizations []SeedOrganization `yaml:"organizations"`
}

// SeedOrganization is one seeded organization and its instances
type SeedOrganization struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Instances []SeedInstance `yaml:"instances"`
}

// SeedInstance is one seeded instance
type SeedInstance struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:           "8090",
		Environment:    "development",
		LogLevel:       "info",
		DatabaseDriver: "sqlite",
		DatabaseURL:    "file:csrv.db",
		LockBackend:    "memory",
		LockTimeout:    30 * time.Second,
		LockPoolSize:   10,
		CacheTTL:       10 * time.Minute,

		CORSAllowedOrigin: "*",
		RateLimitRPM:      600,
		RateLimitBurst:    100,
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables (including a .env file if present).
// Environment variables take precedence over YAML values.
func Load() (*Config, error) {
	// Load .env file from the working directory (silently ignore if not found)
	_ = godotenv.Load(filepath.Join(".", ".env"))

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.decodeYAML(data)
}

func (c *Config) decodeYAML(data []byte) error {
	var raw struct {
		Config      `yaml:",inline"`
		LockTimeout string `yaml:"lock_timeout"`
		CacheTTL    string `yaml:"cache_ttl"`
	}
	raw.Config = *c

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	*c = raw.Config

	if raw.LockTimeout != "" {
		d, err := time.ParseDuration(raw.LockTimeout)
		if err != nil {
			return fmt.Errorf("invalid lock_timeout %q: %w", raw.LockTimeout, err)
		}
		c.LockTimeout = d
	}
	if raw.CacheTTL != "" {
		d, err := time.ParseDuration(raw.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid cache_ttl %q: %w", raw.CacheTTL, err)
		}
		c.CacheTTL = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.Environment = getEnvOrDefault("ENVIRONMENT", c.Environment)
	c.APIKey = getEnvOrDefault("API_KEY", c.APIKey)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.DatabaseDriver = strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", c.DatabaseDriver))
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.LockBackend = strings.ToLower(getEnvOrDefault("LOCK_BACKEND", c.LockBackend))
	c.MetricsAllowedIPs = getEnvOrDefault("METRICS_ALLOWED_IPS", c.MetricsAllowedIPs)
	c.CORSAllowedOrigin = getEnvOrDefault("CORS_ALLOWED_ORIGIN", c.CORSAllowedOrigin)

	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_RPM %q: %w", v, err)
		}
		c.RateLimitRPM = n
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RATE_LIMIT_BURST %q: %w", v, err)
		}
		c.RateLimitBurst = n
	}

	if v := os.Getenv("LOCK_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LOCK_POOL_SIZE %q: %w", v, err)
		}
		c.LockPoolSize = n
	}

	if v := os.Getenv("LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid LOCK_TIMEOUT %q: %w", v, err)
		}
		c.LockTimeout = d
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_TTL %q: %w", v, err)
		}
		c.CacheTTL = d
	}
	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite (got %q)", c.DatabaseDriver)
	}

	switch c.LockBackend {
	case "memory":
	case "postgres":
		if c.DatabaseDriver != "postgres" {
			return fmt.Errorf("LOCK_BACKEND=postgres requires DATABASE_DRIVER=postgres")
		}
		if c.LockPoolSize < 1 {
			return fmt.Errorf("LOCK_POOL_SIZE must be at least 1")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be memory or postgres (got %q)", c.LockBackend)
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL must not be negative")
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must not be negative")
	}
	if c.RateLimitRPM > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled")
	}
	if c.Environment == "production" && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	for _, org := range c.Seed.Organizations {
		if org.ID == "" {
			return fmt.Errorf("seed organization is missing an id")
		}
		for _, inst := range org.Instances {
			if inst.ID == "" {
				return fmt.Errorf("seed instance of organization %s is missing an id", org.ID)
			}
			if inst.Type != "production" && inst.Type != "development" {
				return fmt.Errorf("seed instance %s must have type production or development (got %q)", inst.ID, inst.Type)
			}
		}
	}
	return nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
