package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tonearm/internal/config"
	"tonearm/internal/daemon"
	"tonearm/internal/logging"
	"tonearm/internal/pipeline"
	"tonearm/internal/queue"
	"tonearm/internal/testsupport"
	"tonearm/internal/workflow"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, trackID string) (*pipeline.Resolution, error) {
	return nil, errors.New("not wired")
}

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, candidate pipeline.SourceCandidate, destDir string) (string, error) {
	return "", errors.New("not wired")
}

func newDaemon(t *testing.T, cfg *config.Config, store *queue.Store) *daemon.Daemon {
	t.Helper()
	wf, err := workflow.NewManager(cfg, store, nil, workflow.Collaborators{
		Resolver: stubResolver{},
		Fetcher:  stubFetcher{},
	})
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	d, err := daemon.New(cfg, store, logging.NewNop(), wf)
	if err != nil {
		t.Fatalf("build daemon: %v", err)
	}
	return d
}

func TestStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(d.Stop)

	status, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("status = %+v, want running daemon and workflow", status)
	}
	if status.LockFilePath != daemon.LockPath(cfg) {
		t.Fatalf("lock path = %q", status.LockFilePath)
	}
	if _, err := os.Stat(status.LockFilePath); err != nil {
		t.Fatalf("stat lock file: %v", err)
	}

	d.Stop()
	status, err = d.Status(context.Background())
	if err != nil {
		t.Fatalf("status after stop: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should report stopped")
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	first := newDaemon(t, cfg, store)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start first instance: %v", err)
	}
	t.Cleanup(first.Stop)

	second := newDaemon(t, cfg, store)
	if err := second.Start(context.Background()); err == nil {
		second.Stop()
		t.Fatal("second instance should fail to acquire the lock")
	}
}

func TestTestNotificationWithoutSink(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	sent, detail, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("test notification: %v", err)
	}
	if sent || detail != "no notifier configured" {
		t.Fatalf("sent=%v detail=%q, want graceful no-sink report", sent, detail)
	}
}

func TestLogPathUnderLogDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	d := newDaemon(t, cfg, store)

	if got := d.LogPath(); got != filepath.Join(cfg.Paths.LogDir, "tonearm.log") {
		t.Fatalf("log path = %q", got)
	}
}
