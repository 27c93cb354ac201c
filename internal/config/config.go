package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// DefaultConfigPath is where Load looks when no explicit path is provided.
const DefaultConfigPath = "~/.config/tonearm/config.toml"

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
}

// Downloads contains worker pool and pipeline settings.
type Downloads struct {
	Workers          int    `toml:"workers"`
	MaxAttempts      int    `toml:"max_attempts"`
	DefaultFormat    string `toml:"default_format"`
	DefaultQuality   string `toml:"default_quality"`
	ResolveTimeout   int    `toml:"resolve_timeout"`
	FetchTimeout     int    `toml:"fetch_timeout"`
	TranscodeTimeout int    `toml:"transcode_timeout"`
	// TranscodeFallback keeps the fetched artifact as-is when no transcoder
	// is available instead of failing the task.
	TranscodeFallback bool `toml:"transcode_fallback"`
}

// RateLimit bounds upstream catalog and fetch calls across all workers.
type RateLimit struct {
	UpstreamPerMinute int `toml:"upstream_per_minute"`
}

// Retry contains backoff tuning for the retry controller.
type Retry struct {
	BaseDelaySeconds      int `toml:"base_delay_seconds"`
	MaxDelaySeconds       int `toml:"max_delay_seconds"`
	TranscodeDelaySeconds int `toml:"transcode_delay_seconds"`
}

// Workflow contains daemon timing and lease intervals.
type Workflow struct {
	ReconcileInterval  int `toml:"reconcile_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Notifications contains push and webhook notifier settings.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	WebhookURL     string `toml:"webhook_url"`
	RequestTimeout int    `toml:"request_timeout"`
	Tasks          bool   `toml:"tasks"`
	Batches        bool   `toml:"batches"`
	Errors         bool   `toml:"errors"`
}

// Logging contains log output configuration.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Tools contains external binary overrides.
type Tools struct {
	YtDlpBin  string `toml:"ytdlp_bin"`
	FFmpegBin string `toml:"ffmpeg_bin"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Downloads     Downloads     `toml:"downloads"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Tools         Tools         `toml:"tools"`
}

// Load reads configuration from path, falling back to DefaultConfigPath and
// then to repository defaults when no file exists. It returns the config,
// the resolved path, and whether a file was found.
func Load(path string) (*Config, string, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath
	}
	resolved = ExpandPath(resolved)

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg.normalize()
			if vErr := cfg.Validate(); vErr != nil {
				return nil, resolved, false, vErr
			}
			return &cfg, resolved, false, nil
		}
		return nil, resolved, false, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, resolved, true, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, true, err
	}
	return &cfg, resolved, true, nil
}

// WriteSample writes the embedded sample config to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	path = ExpandPath(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the staging, library, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LibraryDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func (c *Config) normalize() {
	c.Paths.StagingDir = ExpandPath(strings.TrimSpace(c.Paths.StagingDir))
	c.Paths.LibraryDir = ExpandPath(strings.TrimSpace(c.Paths.LibraryDir))
	c.Paths.LogDir = ExpandPath(strings.TrimSpace(c.Paths.LogDir))
	c.Downloads.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Downloads.DefaultFormat))
	c.Downloads.DefaultQuality = strings.ToLower(strings.TrimSpace(c.Downloads.DefaultQuality))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}
