package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation tags configuration validation failures.
var ErrValidation = errors.New("config validation")

// Validate checks ranges and cross-field requirements. It does not require
// upstream credentials; those are checked when the daemon starts so offline
// commands (status, config show) keep working.
func (c *Config) Validate() error {
	var problems []string

	if c.DataDir == "" {
		problems = append(problems, "data_dir must be set")
	}
	if c.Sync.FeedPollSeconds <= 0 {
		problems = append(problems, "sync.feed_poll_seconds must be positive")
	}
	if c.Sync.FlushCheckSeconds <= 0 {
		problems = append(problems, "sync.flush_check_seconds must be positive")
	}
	if c.Sync.QuiescenceSeconds <= 0 {
		problems = append(problems, "sync.quiescence_seconds must be positive")
	}
	if c.Sync.FailsafeMinutes <= 0 {
		problems = append(problems, "sync.failsafe_minutes must be positive")
	}
	if c.Sync.FriendFanout <= 0 {
		problems = append(problems, "sync.friend_fanout must be positive")
	}
	if c.Sync.ConnectivityAttempts <= 0 {
		problems = append(problems, "sync.connectivity_attempts must be positive")
	}
	if c.LogFormat != "" && c.LogFormat != "console" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("log_format %q is not supported (console, json)", c.LogFormat))
	}

	for _, arr := range []struct {
		name string
		cfg  Arr
	}{{"sonarr", c.Sonarr}, {"radarr", c.Radarr}} {
		if !arr.cfg.Enabled {
			continue
		}
		if arr.cfg.URL == "" {
			problems = append(problems, arr.name+".url must be set when enabled")
		}
		if strings.TrimSpace(arr.cfg.APIKey) == "" {
			problems = append(problems, arr.name+".api_key must be set when enabled")
		}
		if arr.cfg.RootFolder == "" {
			problems = append(problems, arr.name+".root_folder must be set when enabled")
		}
		if arr.cfg.QualityProfileID <= 0 {
			problems = append(problems, arr.name+".quality_profile_id must be positive when enabled")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}
