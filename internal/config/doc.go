// Package config loads, normalizes, and validates faststart configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the FASTSTART_NTFY_TOPIC
// environment fallback. The Config type centralizes every knob the daemon and
// CLI need: analyzer binaries, the probe cache, optimize concurrency, and the
// event bridge channels are all discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
