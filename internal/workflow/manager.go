package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/notifications"
	"tonearm/internal/organizer"
	"tonearm/internal/pipeline"
	"tonearm/internal/queue"
	"tonearm/internal/ratelimit"
	"tonearm/internal/retry"
	"tonearm/internal/scheduler"
	"tonearm/internal/services"
)

// Collaborators bundles the pipeline stage implementations and optional
// supporting services handed to the manager. Resolver and Fetcher are
// required; the rest default to sensible implementations.
type Collaborators struct {
	Resolver   pipeline.Resolver
	Fetcher    pipeline.Fetcher
	Transcoder pipeline.Transcoder
	Tagger     pipeline.Tagger
	Placer     pipeline.Placer
	Notifier   notifications.Service
	Limiter    *ratelimit.Limiter
}

// Manager owns the worker pool and the full task lifecycle between admission
// and a terminal state.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	sched     *scheduler.Queue
	pipeline  *pipeline.Pipeline
	retry     *retry.Controller
	notifier  notifications.Service
	heartbeat *heartbeatMonitor
	logger    *slog.Logger

	mu              sync.Mutex
	running         bool
	runCtx          context.Context
	cancelRun       context.CancelFunc
	notifiedBatches map[string]struct{}
	// deferred holds task ids waiting out a retry backoff so the reconcile
	// sweep does not re-enqueue them early.
	deferred map[string]struct{}

	wg sync.WaitGroup
}

// NewManager wires a manager from config, store, and collaborators.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, collab Collaborators) (*Manager, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("workflow manager requires config and store")
	}
	if collab.Resolver == nil || collab.Fetcher == nil {
		return nil, errors.New("workflow manager requires resolver and fetcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := collab.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	limiter := collab.Limiter
	if limiter == nil {
		limiter = ratelimit.New(cfg.RateLimit.UpstreamPerMinute, time.Minute)
	}
	placer := collab.Placer
	if placer == nil {
		placer = organizer.New(cfg)
	}

	m := &Manager{
		cfg:             cfg,
		store:           store,
		sched:           scheduler.New(),
		retry:           retry.New(cfg),
		notifier:        notifier,
		logger:          logging.NewComponentLogger(logger, "workflow"),
		notifiedBatches: make(map[string]struct{}),
		deferred:        make(map[string]struct{}),
	}
	m.heartbeat = newHeartbeatMonitor(store, cfg, m.logger)

	pipe, err := pipeline.New(cfg, store, collab.Resolver, collab.Fetcher, collab.Transcoder, collab.Tagger, placer, limiter, m.cancelRequested, logger)
	if err != nil {
		return nil, err
	}
	m.pipeline = pipe
	return m, nil
}

// Start recovers orphaned work, then launches the worker pool and reconcile
// loop. Callers stop the manager with Stop; cancelling ctx also winds the
// pool down.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancelRun = cancel
	m.running = true
	m.mu.Unlock()

	if err := m.reconcile(runCtx); err != nil {
		m.logger.Error("startup recovery sweep failed", logging.Error(err))
	}

	for i := 0; i < m.cfg.Downloads.Workers; i++ {
		m.wg.Add(1)
		go m.worker(runCtx, i+1)
	}
	m.wg.Add(1)
	go m.reconcileLoop(runCtx)

	m.logger.Info("workflow manager started",
		logging.Int("workers", m.cfg.Downloads.Workers),
		logging.String("database", m.store.Path()),
	)
	return nil
}

// Stop shuts the pool down and waits for in-flight attempts to unwind. Tasks
// interrupted mid-stage stay in their processing state and are reclaimed by
// the lease sweep on the next start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancelRun
	m.mu.Unlock()

	cancel()
	m.sched.Close()
	m.wg.Wait()
	m.logger.Info("workflow manager stopped")
}

// Running reports whether the worker pool is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", id))
	for {
		taskID, err := m.sched.Dequeue(ctx)
		if err != nil {
			return
		}
		m.processTask(ctx, taskID, logger)
	}
}

func (m *Manager) processTask(ctx context.Context, taskID string, logger *slog.Logger) {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		logger.Error("failed to load queued task", logging.String(logging.FieldTaskID, taskID), logging.Error(err))
		return
	}
	if task == nil {
		logger.Warn("queued task no longer exists", logging.String(logging.FieldTaskID, taskID))
		return
	}
	// A non-pending status means the queue entry is stale: the task was
	// cancelled, reclaimed, or grabbed through a duplicate enqueue.
	if task.Status != queue.StatusPending {
		logger.Debug("skipping stale queue entry",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("status", string(task.Status)),
		)
		return
	}
	if task.CancelRequested {
		m.finalizeCancelled(ctx, task, "cancelled before processing started")
		return
	}

	taskCtx := services.WithTaskID(ctx, task.ID)
	if task.BatchID != "" {
		taskCtx = services.WithBatchID(taskCtx, task.BatchID)
	}
	taskCtx = services.WithRequestID(taskCtx, uuid.NewString())
	taskLogger := logging.WithContext(taskCtx, logger)

	stopHeartbeat := m.heartbeat.start(taskCtx, task.ID)
	execErr := m.pipeline.Execute(taskCtx, task)
	stopHeartbeat()

	if execErr == nil {
		taskLogger.Info("task completed",
			logging.String(logging.FieldBand, string(task.Band)),
			logging.Int("attempt", task.Attempt),
			logging.String("output", task.OutputPath),
		)
		m.notifyTask(taskCtx, task)
		m.observeBatches(taskCtx, task)
		return
	}

	// Another worker or process won the row: a racing claim, a lease
	// reclaim, or an external cancellation finalized it first. Drop the
	// claim without recording a failure; whoever owns the row now drives
	// it to its outcome.
	if errors.Is(execErr, queue.ErrTaskSuperseded) {
		taskLogger.Debug("dropping superseded task claim",
			logging.String("status", string(task.Status)),
		)
		return
	}

	// Shutdown interrupted the attempt; leave the processing row for lease
	// recovery instead of recording a failure.
	if ctx.Err() != nil {
		taskLogger.Info("shutdown interrupted task, lease recovery will requeue",
			logging.String("status", string(task.Status)),
		)
		return
	}

	m.handleFailure(taskCtx, task, execErr, taskLogger)
}

// cancelRequested backs the pipeline's between-stage cancellation checks. It
// reads the store so cancellations filed from another process are honored.
func (m *Manager) cancelRequested(taskID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		return false
	}
	return task.CancelRequested
}

func (m *Manager) reconcileLoop(ctx context.Context) {
	defer m.wg.Done()
	interval := time.Duration(m.cfg.Workflow.ReconcileInterval) * time.Second
	errInterval := time.Duration(m.cfg.Workflow.ErrorRetryInterval) * time.Second

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		next := interval
		if err := m.reconcile(ctx); err != nil {
			m.logger.Error("reconcile sweep failed", logging.Error(err))
			next = errInterval
		}
		timer.Reset(next)
	}
}

// reconcile reclaims expired worker leases and enqueues pending rows the
// scheduler does not know about, such as tasks admitted by another process or
// orphaned by a crash.
func (m *Manager) reconcile(ctx context.Context) error {
	reclaimed, err := m.heartbeat.reclaim(ctx)
	if err != nil {
		return err
	}
	for _, task := range reclaimed {
		m.logger.Warn("reclaimed task from expired worker lease",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Int("attempt", task.Attempt),
		)
	}

	pending, err := m.store.List(ctx, queue.StatusPending)
	if err != nil {
		return err
	}
	for _, task := range pending {
		if task.CancelRequested {
			m.finalizeCancelled(ctx, task, "cancelled before processing started")
			continue
		}
		if m.isDeferred(task.ID) || m.sched.Contains(task.ID) {
			continue
		}
		m.sched.Enqueue(task.ID, task.Band)
	}
	return nil
}

func (m *Manager) isDeferred(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deferred[taskID]
	return ok
}

func (m *Manager) notifyTask(ctx context.Context, task *queue.Task) {
	var err error
	switch task.Status {
	case queue.StatusCompleted:
		err = m.notifier.NotifyTaskCompleted(ctx, task)
	case queue.StatusFailed:
		err = m.notifier.NotifyTaskFailed(ctx, task)
	case queue.StatusCancelled:
		err = m.notifier.NotifyTaskCancelled(ctx, task)
	}
	if err != nil {
		m.logger.Warn("notification delivery failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
	}
}
