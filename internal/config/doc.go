// Package config loads, normalizes, and validates the TOML configuration
// for the watchbridge daemon and CLI.
package config
