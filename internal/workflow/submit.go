package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

// SubmitSingle admits one interactive download. The created flag is false
// when the request deduplicated onto an existing task; force bypasses the
// completed short-circuit.
func (m *Manager) SubmitSingle(ctx context.Context, req queue.TrackRequest, force bool) (*queue.Task, bool, error) {
	req = m.normalizeRequest(req)
	task, created, err := m.store.Admit(ctx, req, queue.BandInteractive, force)
	if err != nil {
		return nil, false, err
	}
	if created {
		m.sched.Enqueue(task.ID, task.Band)
		m.logger.Info("admitted download task",
			logging.String(logging.FieldTaskID, task.ID),
			logging.String("track_id", task.TrackID),
			logging.String("format", task.Format),
			logging.String(logging.FieldBand, string(task.Band)),
		)
	}
	return task, created, nil
}

// SubmitBatch admits a batch of bulk-band downloads. Children that
// deduplicated onto existing tasks are still linked for aggregation.
func (m *Manager) SubmitBatch(ctx context.Context, reqs []queue.TrackRequest) (*queue.Batch, []queue.AdmittedChild, error) {
	normalized := make([]queue.TrackRequest, len(reqs))
	for i := range reqs {
		normalized[i] = m.normalizeRequest(reqs[i])
	}
	batch, children, err := m.store.CreateBatch(ctx, normalized)
	if err != nil {
		return nil, nil, err
	}

	fresh := 0
	for _, child := range children {
		if child.Created {
			m.sched.Enqueue(child.Task.ID, child.Task.Band)
			fresh++
		}
	}
	m.logger.Info("admitted batch",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.Int("children", len(children)),
		logging.Int("new_tasks", fresh),
	)

	// When every child deduplicated onto an already-terminal task no child
	// transition will ever arrive, so close the batch out immediately.
	if fresh == 0 {
		if agg, err := m.store.BatchAggregate(ctx, batch.ID); err == nil && agg.Active == 0 {
			m.finishBatch(ctx, batch.ID, agg)
		}
	}
	return batch, children, nil
}

// Task fetches a task by id. Returns nil when absent.
func (m *Manager) Task(ctx context.Context, id string) (*queue.Task, error) {
	return m.store.GetTask(ctx, id)
}

// Batch fetches a batch and its current derived aggregate.
func (m *Manager) Batch(ctx context.Context, id string) (*queue.Batch, queue.Aggregate, error) {
	batch, err := m.store.GetBatch(ctx, id)
	if err != nil {
		return nil, queue.Aggregate{}, err
	}
	if batch == nil {
		return nil, queue.Aggregate{}, fmt.Errorf("batch %s not found", id)
	}
	agg, err := m.store.BatchAggregate(ctx, id)
	if err != nil {
		return nil, queue.Aggregate{}, err
	}
	return batch, agg, nil
}

// CancelTask cancels a task. Pending tasks are finalized immediately;
// processing tasks are flagged and stop at the next stage boundary. Returns
// queue.ErrAlreadyTerminal for tasks that already finished.
func (m *Manager) CancelTask(ctx context.Context, id string) error {
	task, err := m.store.RequestCancel(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == queue.StatusPending {
		m.sched.Remove(id)
		m.finalizeCancelled(ctx, task, "cancelled by request")
	}
	return nil
}

// CancelBatch marks the batch cancelled and cancels every child that has not
// reached a terminal state. Already-terminal children keep their outcome.
func (m *Manager) CancelBatch(ctx context.Context, id string) error {
	batch, err := m.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("batch %s not found", id)
	}
	if batch.Cancelled {
		return queue.ErrAlreadyTerminal
	}
	if err := m.store.MarkBatchCancelled(ctx, id); err != nil {
		return err
	}
	batch.Cancelled = true

	for _, childID := range batch.ChildIDs {
		if err := m.CancelTask(ctx, childID); err != nil && !errors.Is(err, queue.ErrAlreadyTerminal) {
			m.logger.Warn("failed to cancel batch child",
				logging.String(logging.FieldBatchID, id),
				logging.String(logging.FieldTaskID, childID),
				logging.Error(err),
			)
		}
	}

	// With every child already terminal no further transitions arrive, so
	// close the batch out here.
	agg, err := m.store.BatchAggregate(ctx, id)
	if err == nil && agg.Active == 0 {
		m.finishBatch(ctx, id, agg)
	}
	return nil
}

func (m *Manager) normalizeRequest(req queue.TrackRequest) queue.TrackRequest {
	req.TrackID = strings.TrimSpace(req.TrackID)
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	req.Quality = strings.ToLower(strings.TrimSpace(req.Quality))
	if req.Format == "" {
		req.Format = m.cfg.Downloads.DefaultFormat
	}
	if req.Quality == "" {
		req.Quality = m.cfg.Downloads.DefaultQuality
	}
	return req
}
