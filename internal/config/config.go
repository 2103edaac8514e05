package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the client settings in their final types.
type Config struct {
	Addr           string        `yaml:"addr"`
	APIBaseURL     string        `yaml:"api_base_url"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	JobType        string        `yaml:"job_type"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	LogLevel       string        `yaml:"log_level"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

const (
	DefaultAddr         = ":8080"
	DefaultAPIBaseURL   = "http://localhost:8000/api/v1"
	DefaultPollInterval = 1500 * time.Millisecond
	DefaultHTTPTimeout  = 10 * time.Second
	DefaultJobType      = "download_vedio"
	DefaultSessionTTL   = time.Hour
	DefaultLogLevel     = "info"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:         DefaultAddr,
		APIBaseURL:   DefaultAPIBaseURL,
		PollInterval: DefaultPollInterval,
		HTTPTimeout:  DefaultHTTPTimeout,
		JobType:      DefaultJobType,
		SessionTTL:   DefaultSessionTTL,
		LogLevel:     DefaultLogLevel,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and the environment, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	validate(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getEnv("APP_ADDR", cfg.Addr)
	cfg.APIBaseURL = getEnv("API_BASE_URL", cfg.APIBaseURL)
	cfg.PollInterval = getEnvAsDuration("POLL_INTERVAL_MS", time.Millisecond, cfg.PollInterval)
	cfg.MaxRetries = getEnvAsInt("POLL_MAX_RETRIES", cfg.MaxRetries)
	cfg.HTTPTimeout = getEnvAsDuration("HTTP_TIMEOUT_SECONDS", time.Second, cfg.HTTPTimeout)
	cfg.JobType = getEnv("JOB_TYPE", cfg.JobType)
	cfg.SessionTTL = getEnvAsDuration("SESSION_TTL_MINUTES", time.Minute, cfg.SessionTTL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	if raw := getEnv("ALLOWED_ORIGINS", ""); raw != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func getEnvAsDuration(key string, unit time.Duration, fallback time.Duration) time.Duration {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return time.Duration(val) * unit
	}
	return fallback
}

// validate resets values that would break the client.
func validate(cfg *Config) {
	if cfg.PollInterval <= 0 {
		slog.Warn("poll interval must be positive, resetting", "default", DefaultPollInterval)
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxRetries < 0 {
		slog.Warn("max retries cannot be negative, resetting to 0")
		cfg.MaxRetries = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultHTTPTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if strings.TrimSpace(cfg.JobType) == "" {
		cfg.JobType = DefaultJobType
	}
	if u, err := url.Parse(cfg.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		slog.Warn("invalid API base URL, resetting", "value", cfg.APIBaseURL, "default", DefaultAPIBaseURL)
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		slog.Warn("unknown log level, resetting", "value", cfg.LogLevel, "default", DefaultLogLevel)
		cfg.LogLevel = DefaultLogLevel
	}
}

// ParseLevel maps a config log level onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

// NewLogger builds the JSON logger used by both binaries.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, _ := ParseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
