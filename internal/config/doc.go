// Package config loads, validates, and normalizes the TOML configuration
// that drives the subtitle pipeline, its external tools, and the daemon.
package config
