package notifications_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"tonearm/internal/notifications"
	"tonearm/internal/queue"
	"tonearm/internal/testsupport"
)

type captured struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []captured
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		mu.Lock()
		requests = append(requests, captured{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), requests...)
	}
}

func sampleTask() *queue.Task {
	return &queue.Task{
		ID:         "task-1",
		TrackID:    "track-1",
		Format:     "mp3",
		Quality:    "320k",
		Status:     queue.StatusCompleted,
		Attempt:    1,
		OutputPath: "/music/Artist/Album/Artist - Title.mp3",
	}
}

func TestUnconfiguredServiceIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := notifications.NewService(cfg)

	if err := svc.NotifyTaskCompleted(context.Background(), sampleTask()); err != nil {
		t.Fatalf("noop completed: %v", err)
	}
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected test notification to report no sink configured")
	}
}

func TestNtfyDelivery(t *testing.T) {
	server, requests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg)

	if err := svc.NotifyTaskCompleted(context.Background(), sampleTask()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if title := got[0].header.Get("Title"); title != "Tonearm - Download Complete" {
		t.Fatalf("title header = %q", title)
	}
	if tags := got[0].header.Get("Tags"); tags != "tonearm,task,completed" {
		t.Fatalf("tags header = %q", tags)
	}
}

func TestNtfyErrorSetsHighPriority(t *testing.T) {
	server, requests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg)

	if err := svc.NotifyError(context.Background(), io.ErrUnexpectedEOF, "placement"); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if priority := got[0].header.Get("Priority"); priority != "high" {
		t.Fatalf("priority header = %q", priority)
	}
}

func TestNtfyRespectsEventToggles(t *testing.T) {
	server, requests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Tasks = false
	svc := notifications.NewService(cfg)

	if err := svc.NotifyTaskFailed(context.Background(), sampleTask()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := requests(); len(got) != 0 {
		t.Fatalf("requests = %d, want suppressed delivery", len(got))
	}
}

func TestWebhookDelivery(t *testing.T) {
	server, requests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL
	svc := notifications.NewService(cfg)

	task := sampleTask()
	task.Status = queue.StatusFailed
	task.ErrorKind = "fetch_error"
	task.ErrorMessage = "2 candidates exhausted"
	if err := svc.NotifyTaskFailed(context.Background(), task); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if ct := got[0].header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}

	var event struct {
		Event string `json:"event"`
		Task  struct {
			ID        string `json:"id"`
			ErrorKind string `json:"error_kind"`
		} `json:"task"`
	}
	if err := json.Unmarshal(got[0].body, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.Event != "task.failed" || event.Task.ID != "task-1" || event.Task.ErrorKind != "fetch_error" {
		t.Fatalf("unexpected payload: %s", got[0].body)
	}
}

func TestWebhookBatchFinished(t *testing.T) {
	server, requests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL
	svc := notifications.NewService(cfg)

	batch := &queue.Batch{ID: "batch-1"}
	agg := queue.Aggregate{Total: 3, Completed: 2, Failed: 1, State: queue.AggregatePartiallyFailed}
	if err := svc.NotifyBatchFinished(context.Background(), batch, agg); err != nil {
		t.Fatalf("notify: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	var event struct {
		Event string `json:"event"`
		Batch struct {
			ID    string `json:"id"`
			State string `json:"state"`
			Total int    `json:"total"`
		} `json:"batch"`
	}
	if err := json.Unmarshal(got[0].body, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if event.Event != "batch.finished" || event.Batch.State != "partially_failed" || event.Batch.Total != 3 {
		t.Fatalf("unexpected payload: %s", got[0].body)
	}
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	ntfyServer, ntfyRequests := captureServer(t)
	hookServer, hookRequests := captureServer(t)
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ntfyServer.URL
	cfg.Notifications.WebhookURL = hookServer.URL
	svc := notifications.NewService(cfg)

	if err := svc.NotifyTaskCompleted(context.Background(), sampleTask()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(ntfyRequests()) != 1 || len(hookRequests()) != 1 {
		t.Fatalf("fanout delivered ntfy=%d webhook=%d, want 1 each", len(ntfyRequests()), len(hookRequests()))
	}
}

func TestDeliveryErrorSurfacesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(cfg)

	if err := svc.NotifyTaskCompleted(context.Background(), sampleTask()); err == nil {
		t.Fatal("expected delivery error for non-2xx response")
	}
}
