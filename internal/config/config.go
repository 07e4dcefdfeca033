package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory, socket, and bind address configuration.
type Paths struct {
	LogDir     string `toml:"log_dir"`
	CacheDir   string `toml:"cache_dir"`
	StateDir   string `toml:"state_dir"`
	SocketPath string `toml:"socket_path"`
	APIBind    string `toml:"api_bind"`
	// APIToken enables bearer authentication on the HTTP API when set.
	APIToken string `toml:"api_token"`
}

// Ingest controls how dropped paths are expanded into video files.
type Ingest struct {
	Extensions []string `toml:"extensions"`
	Exclude    []string `toml:"exclude"`
	// CleanupTempFiles removes leftover optimizer temp files from every
	// folder that was expanded during the session when the daemon stops.
	CleanupTempFiles bool `toml:"cleanup_temp_files"`
}

// Analyzer contains the external tool and cache settings used to probe and
// optimize files. ffprobe is optional: metadata falls back to the MP4 boxes.
type Analyzer struct {
	FFprobeBinary   string `toml:"ffprobe_binary"`
	ProbeTimeout    int    `toml:"probe_timeout"`
	OptimizeTimeout int    `toml:"optimize_timeout"`
	CacheEnabled    bool   `toml:"cache_enabled"`
}

// Optimize contains batch and playback release settings.
type Optimize struct {
	MaxConcurrent  int `toml:"max_concurrent"`
	ReleaseGraceMs int `toml:"release_grace_ms"`
}

// Bridge configures the channels that deliver dropped paths to the daemon.
type Bridge struct {
	HostURL           string `toml:"host_url"`
	DropDir           string `toml:"drop_dir"`
	RemovableMedia    bool   `toml:"removable_media"`
	PollIntervalMs    int    `toml:"poll_interval_ms"`
	MaxPollIntervalMs int    `toml:"max_poll_interval_ms"`
	MaxAttempts       int    `toml:"max_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Batch          bool   `toml:"batch"`
	Errors         bool   `toml:"errors"`
	BatchMinItems  int    `toml:"batch_min_items"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for faststart.
//
// Configuration sections by subsystem:
//   - Paths: directories, IPC socket, and API bind address
//   - Ingest: video extensions and exclude globs used when expanding drops
//   - Analyzer: ffprobe binary, timeouts, and the probe cache
//   - Optimize: optimize-all concurrency and playback release grace
//   - Bridge: host WebSocket, drop folder, and removable media channels
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Ingest        Ingest        `toml:"ingest"`
	Analyzer      Analyzer      `toml:"analyzer"`
	Optimize      Optimize      `toml:"optimize"`
	Bridge        Bridge        `toml:"bridge"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
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
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
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
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("faststart.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The drop directory is left alone: the drop folder channel waits for it to
// appear instead.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Analyzer.CacheEnabled && strings.TrimSpace(c.Paths.CacheDir) != "" {
		if err := os.MkdirAll(c.Paths.CacheDir, 0o755); err != nil {
			return fmt.Errorf("create cache directory %q: %w", c.Paths.CacheDir, err)
		}
	}
	return nil
}

// LockPath returns the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "faststart.lock")
}

// PIDPath returns where the running daemon records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "faststart.pid")
}

// LogPath returns the daemon log file inside the log directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "faststart.log")
}

// CachePath returns the probe cache database path.
func (c *Config) CachePath() string {
	return filepath.Join(c.Paths.CacheDir, "probes.db")
}

// ProbeTimeout returns the per-probe deadline.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Analyzer.ProbeTimeout) * time.Second
}

// OptimizeTimeout returns the per-file optimize deadline. Zero disables it.
func (c *Config) OptimizeTimeout() time.Duration {
	return time.Duration(c.Analyzer.OptimizeTimeout) * time.Second
}

// ReleaseGrace returns how long optimization waits for a playback holder to
// let go of a file.
func (c *Config) ReleaseGrace() time.Duration {
	return time.Duration(c.Optimize.ReleaseGraceMs) * time.Millisecond
}

// PollInterval returns the initial bridge connect retry interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Bridge.PollIntervalMs) * time.Millisecond
}

// MaxPollInterval returns the upper bound of the bridge retry backoff.
func (c *Config) MaxPollInterval() time.Duration {
	return time.Duration(c.Bridge.MaxPollIntervalMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
