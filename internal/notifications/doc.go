// Package notifications delivers optimizer events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Batch and error notices can be toggled independently so a large
// optimize-all run produces one summary instead of a message per file.
package notifications
