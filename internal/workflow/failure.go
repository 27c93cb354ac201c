package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tonearm/internal/logging"
	"tonearm/internal/queue"
	"tonearm/internal/retry"
	"tonearm/internal/services"
)

// handleFailure applies the retry controller's verdict for a failed attempt.
func (m *Manager) handleFailure(ctx context.Context, task *queue.Task, execErr error, logger *slog.Logger) {
	decision := m.retry.Decide(task, execErr)
	kind := services.Kind(execErr)

	switch decision.Outcome {
	case retry.OutcomeCancelled:
		m.finalizeCancelled(ctx, task, "cancellation requested")

	case retry.OutcomeFailed:
		task.SetFailed(kind, execErr.Error())
		if err := m.store.Update(ctx, task); err != nil {
			logger.Error("failed to persist task failure", logging.Error(err))
			return
		}
		logger.Error("task failed",
			logging.String(logging.FieldErrorKind, kind),
			logging.Int("attempt", task.Attempt),
			logging.Int("max_attempts", task.MaxAttempts),
			logging.Error(execErr),
		)
		m.notifyTask(ctx, task)
		if kind == services.KindStorage {
			if err := m.notifier.NotifyError(ctx, execErr, fmt.Sprintf("storage failure on task %s", task.ID)); err != nil {
				logger.Warn("error notification delivery failed", logging.Error(err))
			}
		}
		m.observeBatches(ctx, task)

	case retry.OutcomeRequeue:
		task.ErrorKind = kind
		task.ErrorMessage = execErr.Error()
		task.ErrorAttempt = task.Attempt
		task.Status = queue.StatusPending
		task.LastHeartbeat = nil
		task.SetProgress(fmt.Sprintf("retrying after %s (attempt %d of %d)", kind, task.Attempt, task.MaxAttempts), 0)
		if err := m.store.Update(ctx, task); err != nil {
			logger.Error("failed to requeue task", logging.Error(err))
			return
		}
		logger.Warn("task attempt failed, retrying",
			logging.String(logging.FieldErrorKind, kind),
			logging.Int("attempt", task.Attempt),
			logging.Duration("delay", decision.Delay),
			logging.Error(execErr),
		)
		m.scheduleRequeue(task.ID, task.Band, decision.Delay)
	}
}

// scheduleRequeue re-enters a task after its backoff delay. The deferred set
// keeps the reconcile sweep from enqueueing the pending row early.
func (m *Manager) scheduleRequeue(taskID string, band queue.Band, delay time.Duration) {
	m.mu.Lock()
	m.deferred[taskID] = struct{}{}
	runCtx := m.runCtx
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-runCtx.Done():
				// The row stays pending; the sweep on the next start
				// requeues it.
				m.mu.Lock()
				delete(m.deferred, taskID)
				m.mu.Unlock()
				return
			case <-timer.C:
			}
		}
		m.sched.Enqueue(taskID, band)
		m.mu.Lock()
		delete(m.deferred, taskID)
		m.mu.Unlock()
	}()
}

// finalizeCancelled moves a task to cancelled and fires the downstream
// notifications and batch bookkeeping. The guarded transition keeps a
// pending-state cancellation from stomping a row a worker claimed in the
// meantime; the cancel flag stops that worker at its next stage boundary
// and it finalizes the task itself.
func (m *Manager) finalizeCancelled(ctx context.Context, task *queue.Task, reason string) {
	task.ErrorKind = ""
	task.ErrorMessage = ""
	task.ProgressMessage = reason
	if err := m.store.Transition(ctx, task, queue.StatusCancelled); err != nil {
		if errors.Is(err, queue.ErrTaskSuperseded) {
			m.logger.Debug("cancellation deferred to owning worker",
				logging.String(logging.FieldTaskID, task.ID),
			)
			return
		}
		m.logger.Error("failed to persist task cancellation",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
		return
	}
	m.logger.Info("task cancelled",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("reason", reason),
	)
	m.notifyTask(ctx, task)
	m.observeBatches(ctx, task)
}
