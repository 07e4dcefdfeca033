package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"faststart/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Bridges are disabled and ffprobe is pointed at a name that never resolves,
// so tests exercise the pure-Go analyzer unless they opt in.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.SocketPath = filepath.Join(base, "state", "faststart.sock")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Analyzer.FFprobeBinary = "faststart-test-missing-ffprobe"
	cfgVal.Bridge.HostURL = ""
	cfgVal.Bridge.DropDir = ""
	cfgVal.Bridge.RemovableMedia = false
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithDropDir enables the drop folder bridge on a directory inside the test
// base dir and returns its path through dir.
func WithDropDir(dir *string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Bridge.DropDir = filepath.Join(b.baseDir, "drop")
		if dir != nil {
			*dir = b.cfg.Bridge.DropDir
		}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffprobe is stubbed and the config
// is pointed at it.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffprobe"}
			b.cfg.Analyzer.FFprobeBinary = "ffprobe"
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
