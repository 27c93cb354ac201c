// Package pipeline executes the fixed per-task stage sequence: resolve,
// fetch, transcode, tag, place. The task's persisted status is advanced
// before each stage's side-effecting call so a crash mid-stage leaves an
// accurate last-known state, and a cancellation flag is checked between
// stages.
package pipeline
