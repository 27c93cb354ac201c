// Package config loads, validates, and defaults tonearm configuration.
//
// Configuration is stored as TOML. Load falls back to repository defaults
// when no config file exists so the daemon can start with a usable setup
// out of the box.
package config
