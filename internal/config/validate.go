package config

import (
	"errors"
	"fmt"
	"strings"
)

var supportedFormats = map[string]struct{}{
	"mp3":  {},
	"m4a":  {},
	"opus": {},
	"flac": {},
	"webm": {},
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.Paths.StagingDir == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if c.Paths.LibraryDir == "" {
		problems = append(problems, "paths.library_dir must not be empty")
	}
	if c.Paths.LogDir == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Downloads.Workers <= 0 {
		problems = append(problems, "downloads.workers must be positive")
	}
	if c.Downloads.MaxAttempts <= 0 {
		problems = append(problems, "downloads.max_attempts must be positive")
	}
	if _, ok := supportedFormats[c.Downloads.DefaultFormat]; !ok {
		problems = append(problems, fmt.Sprintf("downloads.default_format %q is not supported", c.Downloads.DefaultFormat))
	}
	if c.RateLimit.UpstreamPerMinute <= 0 {
		problems = append(problems, "rate_limit.upstream_per_minute must be positive")
	}
	if c.Retry.BaseDelaySeconds <= 0 {
		problems = append(problems, "retry.base_delay_seconds must be positive")
	}
	if c.Retry.MaxDelaySeconds < c.Retry.BaseDelaySeconds {
		problems = append(problems, "retry.max_delay_seconds must be at least retry.base_delay_seconds")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		problems = append(problems, "workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		problems = append(problems, "workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n  - " + strings.Join(problems, "\n  - "))
	}
	return nil
}

// SupportedFormat reports whether format is a known output format.
func SupportedFormat(format string) bool {
	_, ok := supportedFormats[strings.ToLower(strings.TrimSpace(format))]
	return ok
}
