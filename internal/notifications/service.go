package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/queue"
)

const userAgent = "tonearm/0.1.0"

// Service defines the notification surface exposed to the workflow manager.
type Service interface {
	NotifyTaskCompleted(ctx context.Context, task *queue.Task) error
	NotifyTaskFailed(ctx context.Context, task *queue.Task) error
	NotifyTaskCancelled(ctx context.Context, task *queue.Task) error
	NotifyBatchFinished(ctx context.Context, batch *queue.Batch, agg queue.Aggregate) error
	NotifyError(ctx context.Context, err error, detail string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service from config. With both a ntfy
// topic and a webhook URL configured, events fan out to both; with neither,
// a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var sinks []Service
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		sinks = append(sinks, &ntfyService{endpoint: topic, client: client, cfg: cfg.Notifications})
	}
	if url := strings.TrimSpace(cfg.Notifications.WebhookURL); url != "" {
		sinks = append(sinks, &webhookService{endpoint: url, client: client, cfg: cfg.Notifications})
	}

	switch len(sinks) {
	case 0:
		return noopService{}
	case 1:
		return sinks[0]
	default:
		return multiService(sinks)
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	cfg      config.Notifications
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, task *queue.Task) error {
	if !n.cfg.Tasks {
		return nil
	}
	data := payload{
		title:   "Tonearm - Download Complete",
		message: fmt.Sprintf("Track %s ready: %s", task.TrackID, task.OutputPath),
		tags:    []string{"tonearm", "task", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, task *queue.Task) error {
	if !n.cfg.Tasks {
		return nil
	}
	data := payload{
		title:   "Tonearm - Download Failed",
		message: fmt.Sprintf("Track %s failed after %d attempts: %s", task.TrackID, task.Attempt, task.ErrorMessage),
		tags:    []string{"tonearm", "task", "failed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskCancelled(ctx context.Context, task *queue.Task) error {
	if !n.cfg.Tasks {
		return nil
	}
	data := payload{
		title:   "Tonearm - Download Cancelled",
		message: fmt.Sprintf("Track %s cancelled", task.TrackID),
		tags:    []string{"tonearm", "task", "cancelled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchFinished(ctx context.Context, batch *queue.Batch, agg queue.Aggregate) error {
	if !n.cfg.Batches {
		return nil
	}
	var title string
	switch agg.State {
	case queue.AggregateCompleted:
		title = "Tonearm - Batch Complete"
	case queue.AggregatePartiallyFailed:
		title = "Tonearm - Batch Complete (with failures)"
	case queue.AggregateCancelled:
		title = "Tonearm - Batch Cancelled"
	default:
		title = "Tonearm - Batch Failed"
	}
	data := payload{
		title:   title,
		message: fmt.Sprintf("%d tracks: %d completed, %d failed, %d cancelled", agg.Total, agg.Completed, agg.Failed, agg.Cancelled),
		tags:    []string{"tonearm", "batch", string(agg.State)},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, detail string) error {
	if !n.cfg.Errors {
		return nil
	}
	message := "Error"
	if err != nil {
		message = err.Error()
	}
	if strings.TrimSpace(detail) != "" {
		message = fmt.Sprintf("%s (%s)", message, detail)
	}
	data := payload{
		title:    "Tonearm - Error",
		message:  message,
		tags:     []string{"tonearm", "error"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "Tonearm - Test",
		message: "Notification delivery is working",
		tags:    []string{"tonearm", "test"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}
