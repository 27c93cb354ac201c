package scheduler

import (
	"context"
	"errors"
	"sync"

	"tonearm/internal/queue"
)

// ErrClosed is returned by Dequeue once the queue has shut down.
var ErrClosed = errors.New("scheduler closed")

// Queue is a two-band blocking FIFO of task ids. It tracks queued membership
// so reconcile sweeps can enqueue idempotently and cancellations can remove
// a task before any worker sees it.
type Queue struct {
	mu          sync.Mutex
	interactive []string
	bulk        []string
	queued      map[string]queue.Band
	ready       chan struct{}
	closed      bool
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{
		queued: make(map[string]queue.Band),
		ready:  make(chan struct{}),
	}
}

// Enqueue appends a task id to its band. A task already queued is left in
// place, preserving its original position.
func (q *Queue) Enqueue(id string, band queue.Band) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, exists := q.queued[id]; exists {
		return false
	}
	if band == queue.BandInteractive {
		q.interactive = append(q.interactive, id)
	} else {
		q.bulk = append(q.bulk, id)
	}
	q.queued[id] = band
	q.wakeLocked()
	return true
}

// Dequeue blocks until a task id is available, the context ends, or the
// queue closes. The interactive band is always drained first.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if id, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return id, nil
		}
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ready:
		}
	}
}

// Remove withdraws a still-queued task id with no side effects. Returns
// false when the task is not queued (already dequeued or never enqueued).
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	band, exists := q.queued[id]
	if !exists {
		return false
	}
	delete(q.queued, id)
	if band == queue.BandInteractive {
		q.interactive = removeID(q.interactive, id)
	} else {
		q.bulk = removeID(q.bulk, id)
	}
	return true
}

// Contains reports whether a task id is currently queued.
func (q *Queue) Contains(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.queued[id]
	return exists
}

// Pending returns the queued counts per band.
func (q *Queue) Pending() (interactive, bulk int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.interactive), len(q.bulk)
}

// Close wakes all blocked dequeues and rejects further enqueues.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

func (q *Queue) popLocked() (string, bool) {
	if len(q.interactive) > 0 {
		id := q.interactive[0]
		q.interactive = q.interactive[1:]
		delete(q.queued, id)
		return id, true
	}
	if len(q.bulk) > 0 {
		id := q.bulk[0]
		q.bulk = q.bulk[1:]
		delete(q.queued, id)
		return id, true
	}
	return "", false
}

// wakeLocked broadcasts readiness by closing the current signal channel and
// installing a fresh one.
func (q *Queue) wakeLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func removeID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
