// Package notifications emits task and batch state transitions to external
// sinks. Delivery is fire-and-forget: a notifier failure is logged by the
// caller and never blocks pipeline progress.
package notifications
