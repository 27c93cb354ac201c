package testsupport

import (
	"path/filepath"
	"testing"

	"tonearm/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// Timing intervals are shrunk so workflow tests run quickly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LibraryDir = filepath.Join(base, "library")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Downloads.Workers = 2
	cfg.Retry.BaseDelaySeconds = 0
	cfg.Retry.MaxDelaySeconds = 1
	cfg.Retry.TranscodeDelaySeconds = 0
	cfg.Workflow.ReconcileInterval = 1
	cfg.Workflow.ErrorRetryInterval = 1
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Workflow.HeartbeatTimeout = 2

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers overrides the worker pool size on the test config.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloads.Workers = n
	}
}

// WithMaxAttempts overrides the retry ceiling on the test config.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloads.MaxAttempts = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
