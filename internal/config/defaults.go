package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultConfigPath          = "~/.config/faststart/config.toml"
	defaultLogDir              = "~/.local/share/faststart/logs"
	defaultStateDir            = "~/.local/state/faststart"
	defaultAPIBind             = "127.0.0.1:7491"
	defaultSocketName          = "faststart.sock"
	defaultFFprobeBinary       = "ffprobe"
	defaultProbeTimeout        = 30
	defaultOptimizeTimeout     = 0
	defaultMaxConcurrent       = 2
	defaultReleaseGraceMs      = 500
	defaultPollIntervalMs      = 100
	defaultMaxPollIntervalMs   = 1000
	defaultBridgeMaxAttempts   = 50
	defaultNotifyTimeout       = 10
	defaultNotifyBatchMinItems = 2
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

var defaultExtensions = []string{".mp4", ".m4v", ".mov"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			CacheDir: defaultCacheDir(),
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Ingest: Ingest{
			Extensions:       append([]string(nil), defaultExtensions...),
			CleanupTempFiles: true,
		},
		Analyzer: Analyzer{
			FFprobeBinary:   defaultFFprobeBinary,
			ProbeTimeout:    defaultProbeTimeout,
			OptimizeTimeout: defaultOptimizeTimeout,
			CacheEnabled:    true,
		},
		Optimize: Optimize{
			MaxConcurrent:  defaultMaxConcurrent,
			ReleaseGraceMs: defaultReleaseGraceMs,
		},
		Bridge: Bridge{
			PollIntervalMs:    defaultPollIntervalMs,
			MaxPollIntervalMs: defaultMaxPollIntervalMs,
			MaxAttempts:       defaultBridgeMaxAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Batch:          true,
			Errors:         true,
			BatchMinItems:  defaultNotifyBatchMinItems,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "faststart")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/faststart"
	}
	return filepath.Join(home, ".cache", "faststart")
}
