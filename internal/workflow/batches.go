package workflow

import (
	"context"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

// observeBatches recomputes aggregates for every batch referencing the task
// and fires the one-time batch finished notification when a batch leaves
// in_progress.
func (m *Manager) observeBatches(ctx context.Context, task *queue.Task) {
	batchIDs, err := m.store.BatchesForTask(ctx, task.ID)
	if err != nil {
		m.logger.Warn("failed to resolve batches for task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
		return
	}

	for _, batchID := range batchIDs {
		agg, err := m.store.BatchAggregate(ctx, batchID)
		if err != nil {
			m.logger.Warn("failed to aggregate batch",
				logging.String(logging.FieldBatchID, batchID),
				logging.Error(err),
			)
			continue
		}
		if agg.State == queue.AggregateInProgress {
			continue
		}
		m.finishBatch(ctx, batchID, agg)
	}
}

// finishBatch notifies a finished batch exactly once per process.
func (m *Manager) finishBatch(ctx context.Context, batchID string, agg queue.Aggregate) {
	if !m.markBatchFinished(batchID) {
		return
	}
	batch, err := m.store.GetBatch(ctx, batchID)
	if err != nil || batch == nil {
		m.logger.Warn("failed to load finished batch",
			logging.String(logging.FieldBatchID, batchID),
			logging.Error(err),
		)
		return
	}
	m.logger.Info("batch finished",
		logging.String(logging.FieldBatchID, batchID),
		logging.String("state", string(agg.State)),
		logging.Int("total", agg.Total),
		logging.Int("completed", agg.Completed),
		logging.Int("failed", agg.Failed),
		logging.Int("cancelled", agg.Cancelled),
	)
	if err := m.notifier.NotifyBatchFinished(ctx, batch, agg); err != nil {
		m.logger.Warn("batch notification delivery failed",
			logging.String(logging.FieldBatchID, batchID),
			logging.Error(err),
		)
	}
}

func (m *Manager) markBatchFinished(batchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.notifiedBatches[batchID]; done {
		return false
	}
	m.notifiedBatches[batchID] = struct{}{}
	return true
}
