package workflow

import (
	"context"
	"log/slog"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/queue"
)

// heartbeatMonitor renews a worker's lease on its task while a pipeline
// attempt runs and reclaims tasks whose lease expired.
type heartbeatMonitor struct {
	store    *queue.Store
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func newHeartbeatMonitor(store *queue.Store, cfg *config.Config, logger *slog.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{
		store:    store,
		interval: time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		timeout:  time.Duration(cfg.Workflow.HeartbeatTimeout) * time.Second,
		logger:   logger,
	}
}

// start begins renewing the lease for taskID. The returned stop function
// blocks until the renewal goroutine has exited.
func (h *heartbeatMonitor) start(ctx context.Context, taskID string) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := h.store.UpdateHeartbeat(hbCtx, taskID); err != nil && hbCtx.Err() == nil {
					h.logger.Warn("failed to renew worker lease",
						logging.String(logging.FieldTaskID, taskID),
						logging.Error(err),
					)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// reclaim resets processing tasks whose lease expired back to pending.
func (h *heartbeatMonitor) reclaim(ctx context.Context) ([]*queue.Task, error) {
	cutoff := time.Now().UTC().Add(-h.timeout)
	return h.store.ReclaimStale(ctx, cutoff)
}
