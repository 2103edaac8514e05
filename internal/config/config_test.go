package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "download_vedio", cfg.JobType)
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, cfg.Addr)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viralclips.yaml")
	content := `
addr: ":9000"
api_base_url: "http://jobs.internal:8000/api/v1/"
poll_interval: 750ms
max_retries: 2
log_level: debug
allowed_origins: ["http://a.example"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("POLL_MAX_RETRIES", "4")
	t.Setenv("SESSION_TTL_MINUTES", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "http://jobs.internal:8000/api/v1", cfg.APIBaseURL)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 4, cfg.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"http://a.example"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_ValidationResetsBadValues(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "-5")
	t.Setenv("POLL_MAX_RETRIES", "-1")
	t.Setenv("API_BASE_URL", "not a url")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , ,http://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"job_id":"j1"`)
}
