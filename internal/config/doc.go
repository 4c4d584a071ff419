// Package config loads, normalizes, and validates ferry configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FERRY_REMOTE_PASSWORD. The Config type centralizes every knob the daemon and
// CLI need: data directories, the API listener, the remote automation
// endpoint, transfer limits, and event fan-out targets.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
