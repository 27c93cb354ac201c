package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdmittedChild pairs a batch child task with whether its admission created
// new pipeline work or deduplicated onto an existing task.
type AdmittedChild struct {
	Task    *Task
	Created bool
}

// CreateBatch expands track requests into one admission each and records the
// ordered child list. Deduplicated children are linked for aggregation even
// though no new work was started.
func (s *Store) CreateBatch(ctx context.Context, requests []TrackRequest) (*Batch, []AdmittedChild, error) {
	if len(requests) == 0 {
		return nil, nil, errors.New("batch requires at least one track request")
	}

	children := make([]AdmittedChild, 0, len(requests))
	for _, req := range requests {
		task, created, err := s.Admit(ctx, req, BandBulk, false)
		if err != nil {
			return nil, nil, fmt.Errorf("admit batch child %s: %w", req.TrackID, err)
		}
		children = append(children, AdmittedChild{Task: task, Created: created})
	}

	batch := &Batch{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, cancelled, created_at) VALUES (?, 0, ?)`,
		batch.ID, batch.CreatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return nil, nil, fmt.Errorf("insert batch: %w", err)
	}

	for position, child := range children {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_children (batch_id, position, task_id) VALUES (?, ?, ?)`,
			batch.ID, position, child.Task.ID,
		); err != nil {
			return nil, nil, fmt.Errorf("link batch child: %w", err)
		}
		batch.ChildIDs = append(batch.ChildIDs, child.Task.ID)

		// Only freshly created tasks take the back-reference; a dedup hit may
		// already belong to an earlier submission.
		if child.Created && child.Task.BatchID == "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE download_tasks SET batch_id = ? WHERE id = ?`,
				batch.ID, child.Task.ID,
			); err != nil {
				return nil, nil, fmt.Errorf("set owner batch: %w", err)
			}
			child.Task.BatchID = batch.ID
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit batch: %w", err)
	}
	return batch, children, nil
}

// GetBatch fetches a batch and its ordered child ids. Returns nil when absent.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, cancelled, created_at FROM batches WHERE id = ?`, id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id FROM batch_children WHERE batch_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("list batch children: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, err
		}
		batch.ChildIDs = append(batch.ChildIDs, taskID)
	}
	return batch, rows.Err()
}

// BatchAggregate computes derived batch progress inside one transaction so a
// concurrent sibling transition cannot produce a torn view.
func (s *Store) BatchAggregate(ctx context.Context, id string) (Aggregate, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Aggregate{}, fmt.Errorf("begin aggregate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cancelled int
	if err := tx.QueryRowContext(ctx, `SELECT cancelled FROM batches WHERE id = ?`, id).Scan(&cancelled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Aggregate{}, fmt.Errorf("batch %s not found", id)
		}
		return Aggregate{}, fmt.Errorf("read batch: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT t.status, COUNT(1)
         FROM batch_children c JOIN download_tasks t ON t.id = c.task_id
         WHERE c.batch_id = ?
         GROUP BY t.status`, id)
	if err != nil {
		return Aggregate{}, fmt.Errorf("count batch children: %w", err)
	}
	defer rows.Close()

	var agg Aggregate
	for rows.Next() {
		var (
			statusStr string
			n         int
		)
		if err := rows.Scan(&statusStr, &n); err != nil {
			return Aggregate{}, err
		}
		agg.Total += n
		switch status := Status(statusStr); status {
		case StatusCompleted:
			agg.Completed += n
		case StatusFailed:
			agg.Failed += n
		case StatusCancelled:
			agg.Cancelled += n
		default:
			agg.Active += n
		}
	}
	if err := rows.Err(); err != nil {
		return Aggregate{}, err
	}

	agg.State = deriveAggregateState(agg, cancelled != 0)
	return agg, tx.Commit()
}

// BatchesForTask returns the ids of every batch linking the task as a child.
func (s *Store) BatchesForTask(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id FROM batch_children WHERE task_id = ? ORDER BY batch_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("batches for task: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkBatchCancelled flags the batch itself as cancelled. Child task
// cancellation is driven by the workflow manager.
func (s *Store) MarkBatchCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE batches SET cancelled = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark batch cancelled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("batch %s not found", id)
	}
	return nil
}

func deriveAggregateState(agg Aggregate, batchCancelled bool) AggregateState {
	switch {
	case batchCancelled:
		return AggregateCancelled
	case agg.Active > 0:
		return AggregateInProgress
	case agg.Total > 0 && agg.Completed == agg.Total:
		return AggregateCompleted
	case agg.Total > 0 && agg.Failed == agg.Total:
		return AggregateFailed
	case agg.Completed > 0 && agg.Failed > 0:
		return AggregatePartiallyFailed
	case agg.Cancelled > 0:
		return AggregateCancelled
	default:
		return AggregateInProgress
	}
}

func scanBatch(scanner interface{ Scan(dest ...any) error }) (*Batch, error) {
	var (
		id         string
		cancelled  int
		createdRaw string
	)
	if err := scanner.Scan(&id, &cancelled, &createdRaw); err != nil {
		return nil, err
	}
	batch := &Batch{ID: id, Cancelled: cancelled != 0}
	if created, err := parseTimeString(createdRaw); err == nil {
		batch.CreatedAt = created
	}
	return batch, nil
}
