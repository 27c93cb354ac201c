package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/queue"
)

// webhookService posts JSON event payloads to a caller-supplied callback URL.
type webhookService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

type webhookEvent struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Task      *taskSnapshot  `json:"task,omitempty"`
	Batch     *batchSnapshot `json:"batch,omitempty"`
	Error     string         `json:"error,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

type taskSnapshot struct {
	ID           string  `json:"id"`
	TrackID      string  `json:"track_id"`
	Format       string  `json:"format"`
	Quality      string  `json:"quality"`
	Status       string  `json:"status"`
	Attempt      int     `json:"attempt"`
	ErrorKind    string  `json:"error_kind,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	OutputPath   string  `json:"output_path,omitempty"`
	Progress     float64 `json:"progress"`
}

type batchSnapshot struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

func (w *webhookService) NotifyTaskCompleted(ctx context.Context, task *queue.Task) error {
	if !w.cfg.Tasks {
		return nil
	}
	return w.post(ctx, webhookEvent{Event: "task.completed", Task: snapshotTask(task)})
}

func (w *webhookService) NotifyTaskFailed(ctx context.Context, task *queue.Task) error {
	if !w.cfg.Tasks {
		return nil
	}
	return w.post(ctx, webhookEvent{Event: "task.failed", Task: snapshotTask(task)})
}

func (w *webhookService) NotifyTaskCancelled(ctx context.Context, task *queue.Task) error {
	if !w.cfg.Tasks {
		return nil
	}
	return w.post(ctx, webhookEvent{Event: "task.cancelled", Task: snapshotTask(task)})
}

func (w *webhookService) NotifyBatchFinished(ctx context.Context, batch *queue.Batch, agg queue.Aggregate) error {
	if !w.cfg.Batches {
		return nil
	}
	return w.post(ctx, webhookEvent{Event: "batch.finished", Batch: &batchSnapshot{
		ID:        batch.ID,
		State:     string(agg.State),
		Total:     agg.Total,
		Completed: agg.Completed,
		Failed:    agg.Failed,
		Cancelled: agg.Cancelled,
	}})
}

func (w *webhookService) NotifyError(ctx context.Context, err error, detail string) error {
	if !w.cfg.Errors {
		return nil
	}
	event := webhookEvent{Event: "error", Detail: detail}
	if err != nil {
		event.Error = err.Error()
	}
	return w.post(ctx, event)
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	return w.post(ctx, webhookEvent{Event: "test"})
}

func (w *webhookService) post(ctx context.Context, event webhookEvent) error {
	event.Timestamp = time.Now().UTC()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}

func snapshotTask(task *queue.Task) *taskSnapshot {
	if task == nil {
		return nil
	}
	return &taskSnapshot{
		ID:           task.ID,
		TrackID:      task.TrackID,
		Format:       task.Format,
		Quality:      task.Quality,
		Status:       string(task.Status),
		Attempt:      task.Attempt,
		ErrorKind:    task.ErrorKind,
		ErrorMessage: task.ErrorMessage,
		OutputPath:   task.OutputPath,
		Progress:     task.ProgressPercent,
	}
}
