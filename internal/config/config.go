package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the application's configuration values.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Fetcher  FetcherConfig  `yaml:"fetcher"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects and tunes the target store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"            env:"DATABASE_DRIVER"            env-default:"sqlite"`
	URL             string        `yaml:"url"               env:"DATABASE_URL"               env-default:"driftwatch.db"`
	MaxConns        int32         `yaml:"max_conns"         env:"DATABASE_MAX_CONNS"         env-default:"10"`
	MinConns        int32         `yaml:"min_conns"         env:"DATABASE_MIN_CONNS"         env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DATABASE_MAX_CONN_LIFETIME" env-default:"1h"`
}

// MonitorConfig tunes monitoring passes.
type MonitorConfig struct {
	PassInterval time.Duration `yaml:"pass_interval" env:"CHECK_INTERVAL"  env-default:"1h"`
	Workers      int           `yaml:"workers"       env:"MAX_CONCURRENCY" env-default:"5"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"   env-default:"30s"`
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT"   env-default:"30s"`
}

// FetcherConfig tunes the HTTP page fetcher.
type FetcherConfig struct {
	UserAgent         string  `yaml:"user_agent"          env:"FETCH_USER_AGENT"          env-default:"driftwatch/1.0 (+content monitoring)"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"FETCH_REQUESTS_PER_SECOND" env-default:"2"`
	Burst             int     `yaml:"burst"               env:"FETCH_BURST"               env-default:"5"`
	MaxBodyBytes      int64   `yaml:"max_body_bytes"      env:"FETCH_MAX_BODY_BYTES"      env-default:"5242880"`
	MaxRedirects      int     `yaml:"max_redirects"       env:"FETCH_MAX_REDIRECTS"       env-default:"5"`
}

// NotifyConfig configures notification delivery.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url" env:"NOTIFY_WEBHOOK_URL"`
	QueueSize  int           `yaml:"queue_size"  env:"NOTIFY_QUEUE_SIZE"  env-default:"256"`
	Timeout    time.Duration `yaml:"timeout"     env:"NOTIFY_TIMEOUT"     env-default:"10s"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          string        `yaml:"port"           env:"HTTP_PORT"      env-default:"8080"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" env:"SHUTDOWN_GRACE" env-default:"10s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults. The file path comes from CONFIG_PATH
// (fallback ./config.yaml); a missing default file is not an error.
func Load() (*Config, error) {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	explicitPath := path != ""
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver: unsupported %q", c.Database.Driver))
	}
	if c.Database.Driver != "memory" && c.Database.URL == "" {
		errs = append(errs, errors.New("database.url: required"))
	}
	if c.Monitor.PassInterval <= 0 {
		errs = append(errs, errors.New("monitor.pass_interval: must be positive"))
	}
	if c.Monitor.Workers < 1 {
		errs = append(errs, errors.New("monitor.workers: must be at least 1"))
	}
	if c.Monitor.FetchTimeout <= 0 || c.Monitor.StoreTimeout <= 0 {
		errs = append(errs, errors.New("monitor: timeouts must be positive"))
	}
	if c.Fetcher.RequestsPerSecond <= 0 || c.Fetcher.Burst < 1 {
		errs = append(errs, errors.New("fetcher: rate limit must be positive"))
	}
	if c.Notify.QueueSize < 1 {
		errs = append(errs, errors.New("notify.queue_size: must be at least 1"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
