package queue

import (
	"context"
	"fmt"
	"time"
)

// UpdateHeartbeat renews the worker lease on a task. Called periodically
// while a worker is actively processing.
func (s *Store) UpdateHeartbeat(ctx context.Context, taskID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE download_tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, taskID,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale resets processing tasks whose lease expired before cutoff back
// to pending and returns them for requeueing. The attempt count is preserved;
// the existing task is reused, so a reclaim never creates a second task for
// the same fingerprint.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) ([]*Task, error) {
	statuses := ProcessingStatuses()
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM download_tasks
         WHERE status IN (`+placeholders+`)
           AND (last_heartbeat IS NULL OR last_heartbeat < ?)
         ORDER BY created_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale tasks: %w", err)
	}
	defer rows.Close()

	var stale []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		stale = append(stale, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, task := range stale {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE download_tasks
             SET status = ?, staging_path = NULL, last_heartbeat = NULL,
                 progress_message = 'requeued after worker lease expired', updated_at = ?
             WHERE id = ?`,
			StatusPending, now, task.ID,
		); err != nil {
			return nil, fmt.Errorf("reset stale task %s: %w", task.ID, err)
		}
		task.Status = StatusPending
		task.StagingPath = ""
		task.LastHeartbeat = nil
		task.ProgressMessage = "requeued after worker lease expired"
	}
	return stale, nil
}
