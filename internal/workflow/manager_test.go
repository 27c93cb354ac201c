package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/pipeline"
	"tonearm/internal/queue"
	"tonearm/internal/services"
	"tonearm/internal/testsupport"
	"tonearm/internal/workflow"
)

// scriptedResolver resolves every track to a single candidate whose locator is
// the track id, so the fetcher can key behavior per track. Tracks listed in
// failWith return their scripted error instead.
type scriptedResolver struct {
	mu       sync.Mutex
	failWith map[string]error
	calls    map[string]int
}

func newScriptedResolver() *scriptedResolver {
	return &scriptedResolver{failWith: make(map[string]error), calls: make(map[string]int)}
}

func (r *scriptedResolver) Resolve(ctx context.Context, trackID string) (*pipeline.Resolution, error) {
	r.mu.Lock()
	r.calls[trackID]++
	err := r.failWith[trackID]
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &pipeline.Resolution{
		Metadata: pipeline.TrackMetadata{
			TrackID: trackID,
			Title:   "Title " + trackID,
			Artist:  "Artist",
			Album:   "Album",
		},
		Candidates: []pipeline.SourceCandidate{{Locator: trackID, Format: "mp3", Label: "primary"}},
	}, nil
}

func (r *scriptedResolver) callCount(trackID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[trackID]
}

// scriptedFetcher fails the first failures[locator] fetches for a locator,
// then writes an mp3 artifact. A locator with an installed gate blocks until
// the gate is closed, holding the task mid-stage.
type scriptedFetcher struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	gates    map[string]chan struct{}
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		failures: make(map[string]int),
		calls:    make(map[string]int),
		gates:    make(map[string]chan struct{}),
	}
}

func (f *scriptedFetcher) gate(locator string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[locator] = ch
	return ch
}

func (f *scriptedFetcher) Fetch(ctx context.Context, candidate pipeline.SourceCandidate, destDir string) (string, error) {
	f.mu.Lock()
	f.calls[candidate.Locator]++
	fail := f.calls[candidate.Locator] <= f.failures[candidate.Locator]
	gate := f.gates[candidate.Locator]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("connection reset")
	}
	path := filepath.Join(destDir, "audio.mp3")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *scriptedFetcher) callCount(locator string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[locator]
}

// recordingNotifier counts delivery calls per event type.
type recordingNotifier struct {
	mu            sync.Mutex
	completed     int
	failed        int
	cancelled     int
	batchFinished int
	errorEvents   int
}

func (n *recordingNotifier) NotifyTaskCompleted(ctx context.Context, task *queue.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *recordingNotifier) NotifyTaskFailed(ctx context.Context, task *queue.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
	return nil
}

func (n *recordingNotifier) NotifyTaskCancelled(ctx context.Context, task *queue.Task) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled++
	return nil
}

func (n *recordingNotifier) NotifyBatchFinished(ctx context.Context, batch *queue.Batch, agg queue.Aggregate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batchFinished++
	return nil
}

func (n *recordingNotifier) NotifyError(ctx context.Context, err error, detail string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errorEvents++
	return nil
}

func (n *recordingNotifier) TestNotification(ctx context.Context) error { return nil }

func (n *recordingNotifier) counts() (completed, failed, cancelled, batchFinished int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completed, n.failed, n.cancelled, n.batchFinished
}

type managerEnv struct {
	cfg      *config.Config
	store    *queue.Store
	manager  *workflow.Manager
	resolver *scriptedResolver
	fetcher  *scriptedFetcher
	notifier *recordingNotifier
}

func newManagerEnv(t *testing.T, opts ...testsupport.ConfigOption) *managerEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	resolver := newScriptedResolver()
	fetcher := newScriptedFetcher()
	notifier := &recordingNotifier{}

	m, err := workflow.NewManager(cfg, store, nil, workflow.Collaborators{
		Resolver: resolver,
		Fetcher:  fetcher,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	return &managerEnv{cfg: cfg, store: store, manager: m, resolver: resolver, fetcher: fetcher, notifier: notifier}
}

func (e *managerEnv) start(t *testing.T) {
	t.Helper()
	if err := e.manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(e.manager.Stop)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (e *managerEnv) waitForStatus(t *testing.T, taskID string, status queue.Status) *queue.Task {
	t.Helper()
	var task *queue.Task
	waitFor(t, string(status)+" status for "+taskID, func() bool {
		var err error
		task, err = e.store.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		return task != nil && task.Status == status
	})
	return task
}

func TestSubmitSingleDeduplicatesAndCompletes(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	req := queue.TrackRequest{TrackID: "track-dup", Format: "mp3", Quality: "320k"}
	task, created, err := env.manager.SubmitSingle(ctx, req, false)
	if err != nil || !created {
		t.Fatalf("first submit: created=%v err=%v", created, err)
	}
	dup, created, err := env.manager.SubmitSingle(ctx, req, false)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if created || dup.ID != task.ID {
		t.Fatalf("duplicate submit: created=%v id=%s, want dedup onto %s", created, dup.ID, task.ID)
	}

	env.start(t)
	done := env.waitForStatus(t, task.ID, queue.StatusCompleted)
	if done.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", done.Attempt)
	}
	if env.resolver.callCount("track-dup") != 1 {
		t.Fatalf("resolver calls = %d, want exactly 1 execution", env.resolver.callCount("track-dup"))
	}
	if _, err := os.Stat(done.OutputPath); err != nil {
		t.Fatalf("stat output: %v", err)
	}
}

func TestSubmitSingleAppliesConfiguredDefaults(t *testing.T) {
	env := newManagerEnv(t)

	task, _, err := env.manager.SubmitSingle(context.Background(), queue.TrackRequest{TrackID: " track-defaults "}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.TrackID != "track-defaults" {
		t.Fatalf("track id = %q, want trimmed", task.TrackID)
	}
	if task.Format != env.cfg.Downloads.DefaultFormat || task.Quality != env.cfg.Downloads.DefaultQuality {
		t.Fatalf("format/quality = %s/%s, want configured defaults", task.Format, task.Quality)
	}
	if task.Band != queue.BandInteractive {
		t.Fatalf("band = %s, want interactive", task.Band)
	}
}

func TestRetryPreservesLastErrorAcrossSuccess(t *testing.T) {
	env := newManagerEnv(t, testsupport.WithMaxAttempts(5))
	ctx := context.Background()

	env.fetcher.mu.Lock()
	env.fetcher.failures["track-flaky"] = 2
	env.fetcher.mu.Unlock()

	task, _, err := env.manager.SubmitSingle(ctx, queue.TrackRequest{TrackID: "track-flaky", Format: "mp3"}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.start(t)
	done := env.waitForStatus(t, task.ID, queue.StatusCompleted)

	if done.Attempt != 3 {
		t.Fatalf("attempt = %d, want 3 after two retries", done.Attempt)
	}
	if done.ErrorKind != "fetch_error" || done.ErrorAttempt != 2 {
		t.Fatalf("last error = %s (attempt %d), want fetch_error from attempt 2 preserved", done.ErrorKind, done.ErrorAttempt)
	}
	if done.ErrorMessage == "" {
		t.Fatal("expected last error message preserved after success")
	}
}

func TestExhaustedAttemptsFailTask(t *testing.T) {
	env := newManagerEnv(t, testsupport.WithMaxAttempts(2))
	ctx := context.Background()

	env.fetcher.mu.Lock()
	env.fetcher.failures["track-dead"] = 100
	env.fetcher.mu.Unlock()

	task, _, err := env.manager.SubmitSingle(ctx, queue.TrackRequest{TrackID: "track-dead", Format: "mp3"}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	env.start(t)
	done := env.waitForStatus(t, task.ID, queue.StatusFailed)
	if done.Attempt != 2 {
		t.Fatalf("attempt = %d, want max attempts reached", done.Attempt)
	}
	waitFor(t, "failure notification", func() bool {
		_, failed, _, _ := env.notifier.counts()
		return failed == 1
	})
}

func TestBatchPartiallyFailsOnNotFoundChild(t *testing.T) {
	env := newManagerEnv(t, testsupport.WithMaxAttempts(5))
	ctx := context.Background()

	env.resolver.mu.Lock()
	env.resolver.failWith["track-missing"] = services.Wrap(services.ErrNotFound, "resolve", "provider search", "no results", nil)
	env.resolver.mu.Unlock()

	batch, children, err := env.manager.SubmitBatch(ctx, []queue.TrackRequest{
		{TrackID: "track-ok-1", Format: "mp3"},
		{TrackID: "track-missing", Format: "mp3"},
		{TrackID: "track-ok-2", Format: "mp3"},
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if len(children) != 3 {
		t.Fatalf("children = %d, want 3", len(children))
	}
	for _, child := range children {
		if child.Task.Band != queue.BandBulk {
			t.Fatalf("child band = %s, want bulk", child.Task.Band)
		}
	}

	env.start(t)
	waitFor(t, "batch to settle", func() bool {
		agg, err := env.store.BatchAggregate(ctx, batch.ID)
		if err != nil {
			t.Fatalf("aggregate: %v", err)
		}
		return agg.State == queue.AggregatePartiallyFailed
	})

	agg, err := env.store.BatchAggregate(ctx, batch.ID)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Completed != 2 || agg.Failed != 1 {
		t.Fatalf("aggregate = %+v, want 2 completed and 1 failed", agg)
	}

	var missing *queue.Task
	for _, child := range children {
		if child.Task.TrackID == "track-missing" {
			missing = env.waitForStatus(t, child.Task.ID, queue.StatusFailed)
		}
	}
	// Not-found fails fast: no retries burned on a track the catalog
	// does not have.
	if missing.Attempt != 1 {
		t.Fatalf("missing track attempt = %d, want 1", missing.Attempt)
	}
	if missing.ErrorKind != "resolution_not_found" {
		t.Fatalf("missing track error kind = %s", missing.ErrorKind)
	}

	waitFor(t, "batch notification", func() bool {
		_, _, _, batches := env.notifier.counts()
		return batches >= 1
	})
	time.Sleep(50 * time.Millisecond)
	if _, _, _, batches := env.notifier.counts(); batches != 1 {
		t.Fatalf("batch finished notifications = %d, want exactly 1", batches)
	}
}

func TestBatchOfTerminalDuplicatesFinishesImmediately(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	// Complete both tracks ahead of the batch so every child deduplicates
	// onto a terminal task and no transition will ever arrive.
	for _, trackID := range []string{"track-done-1", "track-done-2"} {
		task, _, err := env.store.Admit(ctx, queue.TrackRequest{TrackID: trackID, Format: "mp3", Quality: "320k"}, queue.BandInteractive, false)
		if err != nil {
			t.Fatalf("admit %s: %v", trackID, err)
		}
		if err := env.store.Transition(ctx, task, queue.StatusCompleted); err != nil {
			t.Fatalf("complete %s: %v", trackID, err)
		}
	}

	batch, children, err := env.manager.SubmitBatch(ctx, []queue.TrackRequest{
		{TrackID: "track-done-1", Format: "mp3"},
		{TrackID: "track-done-2", Format: "mp3"},
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	for _, child := range children {
		if child.Created {
			t.Fatalf("child %s admitted fresh, want dedup onto the finished task", child.Task.TrackID)
		}
	}

	_, agg, err := env.manager.Batch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("batch lookup: %v", err)
	}
	if agg.State != queue.AggregateCompleted || agg.Completed != 2 {
		t.Fatalf("aggregate = %+v, want completed with both children counted", agg)
	}
	if _, _, _, batches := env.notifier.counts(); batches != 1 {
		t.Fatalf("batch finished notifications = %d, want 1", batches)
	}
}

func TestCancelPendingTask(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	task, _, err := env.manager.SubmitSingle(ctx, queue.TrackRequest{TrackID: "track-cancel", Format: "mp3"}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := env.manager.CancelTask(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stored, err := env.store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.Status != queue.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
	if _, _, cancelled, _ := env.notifier.counts(); cancelled != 1 {
		t.Fatalf("cancel notifications = %d, want 1", cancelled)
	}

	if err := env.manager.CancelTask(ctx, task.ID); !errors.Is(err, queue.ErrAlreadyTerminal) {
		t.Fatalf("repeat cancel err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestCancelDuringProcessingStopsAtStageBoundary(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()
	gate := env.fetcher.gate("track-midflight")
	env.start(t)

	task, _, err := env.manager.SubmitSingle(ctx, queue.TrackRequest{TrackID: "track-midflight", Format: "mp3"}, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.waitForStatus(t, task.ID, queue.StatusFetching)

	if err := env.manager.CancelTask(ctx, task.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The worker still holds the row; the cancellation must only flag it,
	// and subsequent stage writes must not erase the flag.
	held, err := env.store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if held.Status != queue.StatusFetching {
		t.Fatalf("status = %s, want the worker left in fetching", held.Status)
	}
	if !held.CancelRequested {
		t.Fatal("expected cancel flag persisted while processing")
	}

	close(gate)
	done := env.waitForStatus(t, task.ID, queue.StatusCancelled)
	if done.OutputPath != "" {
		t.Fatalf("output path = %q, want no placement after cancellation", done.OutputPath)
	}
	completed, _, cancelled, _ := env.notifier.counts()
	if completed != 0 || cancelled != 1 {
		t.Fatalf("notifications completed=%d cancelled=%d, want 0 and 1", completed, cancelled)
	}
}

func TestCancelBatchFinalizesChildren(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	batch, _, err := env.manager.SubmitBatch(ctx, []queue.TrackRequest{
		{TrackID: "track-a", Format: "mp3"},
		{TrackID: "track-b", Format: "mp3"},
	})
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}

	if err := env.manager.CancelBatch(ctx, batch.ID); err != nil {
		t.Fatalf("cancel batch: %v", err)
	}

	_, agg, err := env.manager.Batch(ctx, batch.ID)
	if err != nil {
		t.Fatalf("batch lookup: %v", err)
	}
	if agg.State != queue.AggregateCancelled || agg.Cancelled != 2 {
		t.Fatalf("aggregate = %+v, want both children cancelled", agg)
	}
	if _, _, _, batches := env.notifier.counts(); batches != 1 {
		t.Fatalf("batch finished notifications = %d, want 1", batches)
	}

	if err := env.manager.CancelBatch(ctx, batch.ID); !errors.Is(err, queue.ErrAlreadyTerminal) {
		t.Fatalf("repeat cancel err = %v, want ErrAlreadyTerminal", err)
	}
}

func TestStartReclaimsExpiredLeases(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	task, _, err := env.store.Admit(ctx, queue.TrackRequest{TrackID: "track-orphan", Format: "mp3", Quality: "320k"}, queue.BandInteractive, false)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}

	// Simulate a crashed worker: the row is mid-fetch with a heartbeat
	// older than the lease timeout.
	stale := time.Now().UTC().Add(-time.Hour)
	task.Status = queue.StatusFetching
	task.Attempt = 1
	task.LastHeartbeat = &stale
	if err := env.store.Update(ctx, task); err != nil {
		t.Fatalf("update: %v", err)
	}

	env.start(t)
	done := env.waitForStatus(t, task.ID, queue.StatusCompleted)
	if done.Attempt != 2 {
		t.Fatalf("attempt = %d, want interrupted attempt preserved plus one retry", done.Attempt)
	}
}

func TestReconcilePicksUpExternallyAdmittedTasks(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	env.start(t)

	// Admitted through the store directly, as the CLI does from another
	// process; only the reconcile sweep can discover it.
	task, created, err := env.store.Admit(ctx, queue.TrackRequest{TrackID: "track-external", Format: "mp3", Quality: "320k"}, queue.BandBulk, false)
	if err != nil || !created {
		t.Fatalf("admit: created=%v err=%v", created, err)
	}
	env.waitForStatus(t, task.ID, queue.StatusCompleted)
}

func TestStatusSummary(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	if _, _, err := env.manager.SubmitSingle(ctx, queue.TrackRequest{TrackID: "track-status", Format: "mp3"}, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	summary, err := env.manager.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if summary.Running {
		t.Fatal("manager not started, running should be false")
	}
	if summary.Workers != env.cfg.Downloads.Workers {
		t.Fatalf("workers = %d, want %d", summary.Workers, env.cfg.Downloads.Workers)
	}
	if summary.Counts.Pending != 1 || summary.QueuedInteractive != 1 {
		t.Fatalf("summary = %+v, want one pending interactive task", summary)
	}
}

func TestNewManagerRequiresStageImplementations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	if _, err := workflow.NewManager(cfg, store, nil, workflow.Collaborators{}); err == nil {
		t.Fatal("expected error without resolver and fetcher")
	}
}
