// Package queue persists download tasks and batches in SQLite and provides
// the fingerprint-keyed admission primitive that keeps at most one live task
// per distinct request.
package queue
