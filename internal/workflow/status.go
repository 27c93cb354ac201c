package workflow

import (
	"context"

	"tonearm/internal/queue"
)

// StatusSummary is a point-in-time view of the engine for health reporting.
type StatusSummary struct {
	Running           bool
	Workers           int
	QueuedInteractive int
	QueuedBulk        int
	Counts            queue.StatusCounts
}

// Status reports the pool state, per-band queue depths, and stored task
// counts.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	counts, err := m.store.Counts(ctx)
	if err != nil {
		return StatusSummary{}, err
	}
	interactive, bulk := m.sched.Pending()
	return StatusSummary{
		Running:           m.Running(),
		Workers:           m.cfg.Downloads.Workers,
		QueuedInteractive: interactive,
		QueuedBulk:        bulk,
		Counts:            counts,
	}, nil
}
