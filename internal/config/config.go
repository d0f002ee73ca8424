package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Plex contains the upstream watchlist source configuration.
type Plex struct {
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	DiscoverURL    string `toml:"discover_url"`
	SelfFeedURL    string `toml:"self_feed_url"`
	FriendsFeedURL string `toml:"friends_feed_url"`
	RequestTimeout int    `toml:"request_timeout"`
	FetchTimeout   int    `toml:"fetch_timeout"`
}

// Arr configures one acquisition backend instance (Sonarr or Radarr).
type Arr struct {
	Enabled          bool   `toml:"enabled"`
	URL              string `toml:"url"`
	APIKey           string `toml:"api_key"`
	RootFolder       string `toml:"root_folder"`
	QualityProfileID int    `toml:"quality_profile_id"`
	Tag              string `toml:"tag"`
	RequestTimeout   int    `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Sync contains reconciliation timing and fan-out configuration.
type Sync struct {
	FeedPollSeconds      int  `toml:"feed_poll_seconds"`
	FlushCheckSeconds    int  `toml:"flush_check_seconds"`
	QuiescenceSeconds    int  `toml:"quiescence_seconds"`
	FailsafeMinutes      int  `toml:"failsafe_minutes"`
	FriendFanout         int  `toml:"friend_fanout"`
	ConnectivityAttempts int  `toml:"connectivity_attempts"`
	SyncNewFriends       bool `toml:"sync_new_friends"`
}

// Config is the root application configuration.
type Config struct {
	DataDir   string `toml:"data_dir"`
	LogDir    string `toml:"log_dir"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Plex          Plex          `toml:"plex"`
	Sonarr        Arr           `toml:"sonarr"`
	Radarr        Arr           `toml:"radarr"`
	Notifications Notifications `toml:"notifications"`
	Sync          Sync          `toml:"sync"`
}

// SampleConfig returns the embedded annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load reads the configuration from path (or the default location when path
// is empty), applies defaults, and validates. It returns the config, the
// resolved path, and whether a file existed there.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	candidate := strings.TrimSpace(path)
	if candidate == "" {
		candidate = defaultConfigPath
	}
	expanded, err := ExpandPath(candidate)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %q is a directory", expanded)
	}
	return expanded, true, nil
}

// DefaultConfigPath returns the expanded default config file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultConfigPath)
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return trimmed, nil
}

func (c *Config) normalize() error {
	var err error
	if c.DataDir, err = ExpandPath(c.DataDir); err != nil {
		return err
	}
	if c.LogDir, err = ExpandPath(c.LogDir); err != nil {
		return err
	}

	c.Plex.URL = strings.TrimRight(strings.TrimSpace(c.Plex.URL), "/")
	c.Plex.DiscoverURL = strings.TrimRight(strings.TrimSpace(c.Plex.DiscoverURL), "/")
	c.Sonarr.URL = strings.TrimRight(strings.TrimSpace(c.Sonarr.URL), "/")
	c.Radarr.URL = strings.TrimRight(strings.TrimSpace(c.Radarr.URL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	return nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
