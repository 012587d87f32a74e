// Package config centralizes the environment-variable configuration
// this module previously read ad hoc from individual packages
// (aria2.Client, auth.Simple). Grounded on
// italolelis-seedbox_downloader's internal/config/config.go: a flat
// envconfig-tagged struct with nested groups for subsystem-specific
// settings and a small SlogLevel()-style helper.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds every environment-derived setting for cmd/streamctl.
type Config struct {
	IndexBackend string `envconfig:"INDEX_BACKEND" default:"memory"` // "memory" or "postgres"
	BaseDir      string `envconfig:"BASE_DIR" default:"./data"`

	MaxSimultaneousDownloads int `envconfig:"MAX_SIMULTANEOUS_DOWNLOADS" default:"1"`
	MinRetryCount            int `envconfig:"MIN_RETRY_COUNT" default:"5"`

	AuthTokens string `envconfig:"AUTH_TOKENS"` // comma-separated; empty disables auth

	WebhookURL string `envconfig:"WEBHOOK_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"true"`
	LogFile  string `envconfig:"LOG_FILE"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9090"`
		ReadTimeout     time.Duration `split_words:"true" default:"5s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"120s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool    `split_words:"true" default:"false"`
		OTLPEndpoint string  `split_words:"true"`
		Insecure     bool    `split_words:"true" default:"true"`
		SampleRatio  float64 `split_words:"true" default:"0.1"`
	}
}

// Load reads environment variables and populates Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: process env: %w", err)
	}
	return &cfg, nil
}

// AuthTokenList splits AuthTokens on commas, trimming whitespace and
// dropping empty entries.
func (c *Config) AuthTokenList() []string {
	if c.AuthTokens == "" {
		return nil
	}
	parts := strings.Split(c.AuthTokens, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SlogLevel maps LogLevel to an slog.Level, defaulting to Info on an
// unrecognized value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
