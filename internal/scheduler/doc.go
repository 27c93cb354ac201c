// Package scheduler holds pending task references in two priority bands and
// hands them to idle workers. Interactive submissions are drained before
// bulk batch-spawned children; within a band, order is strict FIFO.
package scheduler
