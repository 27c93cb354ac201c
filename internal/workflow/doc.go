// Package workflow runs the download engine: a fixed worker pool draining the
// two-band scheduler, the retry controller's verdicts applied to failed
// attempts, worker lease heartbeats with stale-task recovery, and batch
// aggregation with finish notifications.
package workflow
