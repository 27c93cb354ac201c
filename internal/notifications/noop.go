package notifications

import (
	"context"
	"errors"

	"tonearm/internal/queue"
)

type noopService struct{}

func (noopService) NotifyTaskCompleted(context.Context, *queue.Task) error { return nil }

func (noopService) NotifyTaskFailed(context.Context, *queue.Task) error { return nil }

func (noopService) NotifyTaskCancelled(context.Context, *queue.Task) error { return nil }

func (noopService) NotifyBatchFinished(context.Context, *queue.Batch, queue.Aggregate) error {
	return nil
}

func (noopService) NotifyError(context.Context, error, string) error { return nil }

func (noopService) TestNotification(context.Context) error {
	return errors.New("no notification sink configured")
}

// multiService fans an event out to every configured sink, returning the
// first error after all sinks were attempted.
type multiService []Service

func (m multiService) NotifyTaskCompleted(ctx context.Context, task *queue.Task) error {
	return m.each(func(s Service) error { return s.NotifyTaskCompleted(ctx, task) })
}

func (m multiService) NotifyTaskFailed(ctx context.Context, task *queue.Task) error {
	return m.each(func(s Service) error { return s.NotifyTaskFailed(ctx, task) })
}

func (m multiService) NotifyTaskCancelled(ctx context.Context, task *queue.Task) error {
	return m.each(func(s Service) error { return s.NotifyTaskCancelled(ctx, task) })
}

func (m multiService) NotifyBatchFinished(ctx context.Context, batch *queue.Batch, agg queue.Aggregate) error {
	return m.each(func(s Service) error { return s.NotifyBatchFinished(ctx, batch, agg) })
}

func (m multiService) NotifyError(ctx context.Context, err error, detail string) error {
	return m.each(func(s Service) error { return s.NotifyError(ctx, err, detail) })
}

func (m multiService) TestNotification(ctx context.Context) error {
	return m.each(func(s Service) error { return s.TestNotification(ctx) })
}

func (m multiService) each(fn func(Service) error) error {
	var firstErr error
	for _, sink := range m {
		if err := fn(sink); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
