package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateAnalyzer(); err != nil {
		return err
	}
	if err := c.validateOptimize(); err != nil {
		return err
	}
	if err := c.validateBridge(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if !strings.Contains(c.Paths.APIBind, ":") {
		return fmt.Errorf("paths.api_bind must be host:port, got %q", c.Paths.APIBind)
	}
	return nil
}

func (c *Config) validateIngest() error {
	for _, pattern := range c.Ingest.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("ingest.exclude contains invalid glob %q", pattern)
		}
	}
	return nil
}

func (c *Config) validateAnalyzer() error {
	if c.Analyzer.ProbeTimeout <= 0 {
		return errors.New("analyzer.probe_timeout must be positive")
	}
	if c.Analyzer.OptimizeTimeout < 0 {
		return errors.New("analyzer.optimize_timeout must be zero or positive")
	}
	return nil
}

func (c *Config) validateOptimize() error {
	if c.Optimize.MaxConcurrent < 0 {
		return errors.New("optimize.max_concurrent must be zero (unlimited) or positive")
	}
	if c.Optimize.ReleaseGraceMs < 0 {
		return errors.New("optimize.release_grace_ms must be zero or positive")
	}
	return nil
}

func (c *Config) validateBridge() error {
	if c.Bridge.HostURL != "" {
		parsed, err := url.Parse(c.Bridge.HostURL)
		if err != nil {
			return fmt.Errorf("bridge.host_url: %w", err)
		}
		if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
			return fmt.Errorf("bridge.host_url must use ws or wss, got %q", parsed.Scheme)
		}
	}
	if c.Bridge.PollIntervalMs < 0 {
		return errors.New("bridge.poll_interval_ms must be positive")
	}
	if c.Bridge.MaxPollIntervalMs < c.Bridge.PollIntervalMs {
		return errors.New("bridge.max_poll_interval_ms must be >= bridge.poll_interval_ms")
	}
	if c.Bridge.MaxAttempts < 1 {
		return errors.New("bridge.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.BatchMinItems < 0 {
		return errors.New("notifications.batch_min_items must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
