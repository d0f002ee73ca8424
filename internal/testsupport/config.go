package testsupport

import (
	"path/filepath"
	"testing"

	"watchbridge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timing intervals are shrunk so loop-driven tests finish quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.Plex.Token = "test-token"
	cfg.Sync.FeedPollSeconds = 1
	cfg.Sync.FlushCheckSeconds = 1
	cfg.Sync.QuiescenceSeconds = 1
	cfg.Sync.FailsafeMinutes = 1
	cfg.Sync.ConnectivityAttempts = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithSonarr enables the Sonarr backend pointed at the given base URL.
func WithSonarr(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sonarr.Enabled = true
		cfg.Sonarr.URL = url
		cfg.Sonarr.APIKey = "test-key"
		cfg.Sonarr.RootFolder = "/tv"
		cfg.Sonarr.QualityProfileID = 1
	}
}

// WithRadarr enables the Radarr backend pointed at the given base URL.
func WithRadarr(url string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Radarr.Enabled = true
		cfg.Radarr.URL = url
		cfg.Radarr.APIKey = "test-key"
		cfg.Radarr.RootFolder = "/movies"
		cfg.Radarr.QualityProfileID = 1
	}
}
