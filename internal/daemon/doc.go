// Package daemon owns the tonearmd process lifecycle: single-instance
// locking, workflow manager startup and shutdown, and runtime status for the
// CLI.
package daemon
