// Package retry decides whether and when a failed task is re-queued. All
// per-error retry policy lives in this one decision table.
package retry

import (
	"math/rand"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/queue"
	"tonearm/internal/services"
)

// Outcome is the terminal-or-requeue verdict for a failed attempt.
type Outcome int

const (
	// OutcomeRequeue re-enters the task into the scheduler after Delay.
	OutcomeRequeue Outcome = iota
	// OutcomeFailed ends the task as failed.
	OutcomeFailed
	// OutcomeCancelled ends the task as cancelled, not failed.
	OutcomeCancelled
)

// Decision carries the verdict for one failed attempt.
type Decision struct {
	Outcome Outcome
	Delay   time.Duration
}

// Controller applies the retry decision table.
type Controller struct {
	baseDelay      time.Duration
	maxDelay       time.Duration
	transcodeDelay time.Duration
	// transcodeRetries bounds transcode failures separately from the global
	// attempt ceiling.
	transcodeRetries int
}

// New builds a controller from config.
func New(cfg *config.Config) *Controller {
	return &Controller{
		baseDelay:        time.Duration(cfg.Retry.BaseDelaySeconds) * time.Second,
		maxDelay:         time.Duration(cfg.Retry.MaxDelaySeconds) * time.Second,
		transcodeDelay:   time.Duration(cfg.Retry.TranscodeDelaySeconds) * time.Second,
		transcodeRetries: 1,
	}
}

// Decide classifies a failed attempt. task.Attempt counts attempts made,
// including the one that just failed.
func (c *Controller) Decide(task *queue.Task, err error) Decision {
	kind := services.Kind(err)

	// Cancellation is immediate regardless of attempt count.
	if kind == services.KindCancelled {
		return Decision{Outcome: OutcomeCancelled}
	}

	if task.Attempt >= task.MaxAttempts {
		return Decision{Outcome: OutcomeFailed}
	}

	switch kind {
	case services.KindNotFound, services.KindStorage:
		return Decision{Outcome: OutcomeFailed}
	case services.KindResolution:
		return Decision{Outcome: OutcomeRequeue, Delay: c.exponential(task.Attempt)}
	case services.KindFetch:
		return Decision{Outcome: OutcomeRequeue, Delay: c.jittered(c.exponential(task.Attempt))}
	case services.KindTranscode:
		if task.Attempt > c.transcodeRetries {
			return Decision{Outcome: OutcomeFailed}
		}
		return Decision{Outcome: OutcomeRequeue, Delay: c.transcodeDelay}
	case services.KindRateLimit:
		if after, ok := services.RetryAfter(err); ok {
			return Decision{Outcome: OutcomeRequeue, Delay: after}
		}
		return Decision{Outcome: OutcomeRequeue, Delay: c.exponential(task.Attempt)}
	default:
		return Decision{Outcome: OutcomeRequeue, Delay: c.jittered(c.exponential(task.Attempt))}
	}
}

// exponential returns base * 2^(attempt-1) capped at maxDelay.
func (c *Controller) exponential(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// jittered spreads a delay over [delay/2, delay] so simultaneous failures
// do not re-enter the queue in lockstep.
func (c *Controller) jittered(delay time.Duration) time.Duration {
	if delay <= time.Millisecond {
		return delay
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}
