// Package logging constructs slog loggers for the daemon and CLI and holds
// the shared attribute helpers and standardized field names used across
// tonearm components.
package logging
