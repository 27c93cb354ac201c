package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/queue"
	"tonearm/internal/ratelimit"
	"tonearm/internal/services"
)

// CancelCheck reports whether a cancellation has been requested for a task.
// Consulted between stages only; stages themselves run to completion.
type CancelCheck func(taskID string) bool

// Pipeline runs the ordered download stages for one task at a time.
type Pipeline struct {
	cfg        *config.Config
	store      *queue.Store
	resolver   Resolver
	fetcher    Fetcher
	transcoder Transcoder
	tagger     Tagger
	placer     Placer
	limiter    *ratelimit.Limiter
	cancelled  CancelCheck
	logger     *slog.Logger
}

// New wires a pipeline. Transcoder and tagger may be nil; resolver, fetcher,
// and placer are required.
func New(cfg *config.Config, store *queue.Store, resolver Resolver, fetcher Fetcher, transcoder Transcoder, tagger Tagger, placer Placer, limiter *ratelimit.Limiter, cancelled CancelCheck, logger *slog.Logger) (*Pipeline, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("pipeline requires config and store")
	}
	if resolver == nil || fetcher == nil || placer == nil {
		return nil, errors.New("pipeline requires resolver, fetcher, and placer")
	}
	if limiter == nil {
		limiter = ratelimit.New(cfg.RateLimit.UpstreamPerMinute, time.Minute)
	}
	if cancelled == nil {
		cancelled = func(string) bool { return false }
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		resolver:   resolver,
		fetcher:    fetcher,
		transcoder: transcoder,
		tagger:     tagger,
		placer:     placer,
		limiter:    limiter,
		cancelled:  cancelled,
		logger:     logger,
	}, nil
}

// Execute runs one pipeline attempt for the task. The returned error is
// always tagged with a services sentinel for retry classification; a nil
// return means the task reached completed.
func (p *Pipeline) Execute(ctx context.Context, task *queue.Task) error {
	logger := logging.WithContext(ctx, p.logger)

	task.Attempt++
	task.SetProgress("assigned to worker", 0)
	if err := p.store.Transition(ctx, task, queue.StatusAssigned); err != nil {
		return services.Wrap(services.ErrStorage, "assign", "persist transition", "", err)
	}

	stagingDir := filepath.Join(p.cfg.Paths.StagingDir, task.ID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return services.Wrap(services.ErrStorage, "assign", "create staging dir", stagingDir, err)
	}
	task.StagingPath = stagingDir

	resolution, err := p.resolveStage(ctx, task, logger)
	if err != nil {
		return p.abort(ctx, task, err)
	}
	if p.checkCancelled(task) {
		return p.abort(ctx, task, services.Wrap(services.ErrCancelled, "resolve", "", "cancellation requested", nil))
	}

	rawPath, err := p.fetchStage(ctx, task, resolution, stagingDir, logger)
	if err != nil {
		return p.abort(ctx, task, err)
	}
	if p.checkCancelled(task) {
		return p.abort(ctx, task, services.Wrap(services.ErrCancelled, "fetch", "", "cancellation requested", nil))
	}

	encodedPath, err := p.transcodeStage(ctx, task, rawPath, logger)
	if err != nil {
		return p.abort(ctx, task, err)
	}
	if p.checkCancelled(task) {
		return p.abort(ctx, task, services.Wrap(services.ErrCancelled, "transcode", "", "cancellation requested", nil))
	}

	p.tagStage(ctx, task, encodedPath, resolution.Metadata, logger)
	if p.checkCancelled(task) {
		return p.abort(ctx, task, services.Wrap(services.ErrCancelled, "tag", "", "cancellation requested", nil))
	}

	if err := p.placeStage(ctx, task, encodedPath, resolution.Metadata, logger); err != nil {
		return p.abort(ctx, task, err)
	}

	p.cleanupStaging(task, logger)
	task.StagingPath = ""
	task.SetProgress("download complete", 100)
	if err := p.store.Transition(ctx, task, queue.StatusCompleted); err != nil {
		return services.Wrap(services.ErrStorage, "place", "persist completion", "", err)
	}
	return nil
}

func (p *Pipeline) resolveStage(ctx context.Context, task *queue.Task, logger *slog.Logger) (*Resolution, error) {
	task.SetProgress("resolving catalog sources", 5)
	if err := p.store.Transition(ctx, task, queue.StatusResolving); err != nil {
		return nil, services.Wrap(services.ErrStorage, "resolve", "persist transition", "", err)
	}

	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, services.Wrap(services.ErrResolution, "resolve", "rate limiter", "", err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Downloads.ResolveTimeout)*time.Second)
	defer cancel()

	resolution, err := p.resolver.Resolve(stageCtx, task.TrackID)
	if err != nil {
		if isClassified(err) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrResolution, "resolve", "catalog lookup", task.TrackID, err)
	}
	if resolution == nil || len(resolution.Candidates) == 0 {
		return nil, services.Wrap(services.ErrResolution, "resolve", "catalog lookup", "no source candidates returned", nil)
	}
	logger.Debug("resolved track",
		logging.String("title", resolution.Metadata.Title),
		logging.String("artist", resolution.Metadata.Artist),
		logging.Int("candidates", len(resolution.Candidates)),
	)
	return resolution, nil
}

func (p *Pipeline) fetchStage(ctx context.Context, task *queue.Task, resolution *Resolution, stagingDir string, logger *slog.Logger) (string, error) {
	task.SetProgress("fetching audio", 25)
	if err := p.store.Transition(ctx, task, queue.StatusFetching); err != nil {
		return "", services.Wrap(services.ErrStorage, "fetch", "persist transition", "", err)
	}

	var lastErr error
	for i, candidate := range resolution.Candidates {
		if err := p.limiter.Acquire(ctx); err != nil {
			return "", services.Wrap(services.ErrFetch, "fetch", "rate limiter", "", err)
		}

		stageCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Downloads.FetchTimeout)*time.Second)
		path, err := p.fetcher.Fetch(stageCtx, candidate, stagingDir)
		cancel()
		if err == nil {
			return path, nil
		}

		// An upstream rate limit applies to every candidate; surface it so
		// the retry controller can honor the provider's retry-after.
		if errors.Is(err, services.ErrRateLimited) {
			return "", err
		}

		lastErr = err
		logger.Warn("fetch candidate failed, trying next",
			logging.Int("candidate", i+1),
			logging.Int("total", len(resolution.Candidates)),
			logging.String("source", candidate.Label),
			logging.Error(err),
		)
	}
	return "", services.Wrap(services.ErrFetch, "fetch", "all candidates", fmt.Sprintf("%d candidates exhausted", len(resolution.Candidates)), lastErr)
}

func (p *Pipeline) transcodeStage(ctx context.Context, task *queue.Task, rawPath string, logger *slog.Logger) (string, error) {
	task.SetProgress("transcoding", 60)
	if err := p.store.Transition(ctx, task, queue.StatusTranscoding); err != nil {
		return "", services.Wrap(services.ErrStorage, "transcode", "persist transition", "", err)
	}

	rawFormat := formatOf(rawPath)
	if rawFormat == strings.ToLower(task.Format) {
		logger.Debug("artifact already in requested format", logging.String("format", rawFormat))
		return rawPath, nil
	}

	if p.transcoder == nil {
		if p.cfg.Downloads.TranscodeFallback {
			logger.Warn("transcoder unavailable, keeping fetched format",
				logging.String("have", rawFormat),
				logging.String("want", task.Format),
				logging.String(logging.FieldEventType, "transcode_fallback"),
			)
			return rawPath, nil
		}
		return "", services.Wrap(services.ErrTranscode, "transcode", "", "transcoder unavailable", nil)
	}

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Downloads.TranscodeTimeout)*time.Second)
	defer cancel()

	encoded, err := p.transcoder.Transcode(stageCtx, rawPath, task.Format, task.Quality)
	if err != nil {
		if isClassified(err) {
			return "", err
		}
		return "", services.Wrap(services.ErrTranscode, "transcode", "convert", fmt.Sprintf("%s -> %s", rawFormat, task.Format), err)
	}
	return encoded, nil
}

// tagStage never fails the task: the audio artifact is still valid without
// full metadata, so tagging errors downgrade to a warning.
func (p *Pipeline) tagStage(ctx context.Context, task *queue.Task, path string, meta TrackMetadata, logger *slog.Logger) {
	task.SetProgress("embedding tags", 80)
	if err := p.store.Transition(ctx, task, queue.StatusTagging); err != nil {
		logger.Warn("failed to persist tagging transition", logging.Error(err))
		return
	}
	if p.tagger == nil {
		return
	}
	if err := p.tagger.Tag(ctx, path, meta); err != nil {
		logger.Warn("tagging failed, keeping untagged audio",
			logging.Error(err),
			logging.String(logging.FieldEventType, "tag_warning"),
		)
	}
}

func (p *Pipeline) placeStage(ctx context.Context, task *queue.Task, artifactPath string, meta TrackMetadata, logger *slog.Logger) error {
	task.SetProgress("placing into library", 90)
	if err := p.store.Transition(ctx, task, queue.StatusPlacing); err != nil {
		return services.Wrap(services.ErrStorage, "place", "persist transition", "", err)
	}

	finalFormat := formatOf(artifactPath)
	target, err := p.placer.Place(artifactPath, meta.Artist, meta.Album, meta.Title, finalFormat)
	if err != nil {
		return services.Wrap(services.ErrStorage, "place", "move into library", "", err)
	}
	task.OutputPath = target
	logger.Info("placed artifact", logging.String("output", target))
	return nil
}

// abort removes the attempt's intermediate artifacts and hands the
// classified error back to the worker loop.
func (p *Pipeline) abort(ctx context.Context, task *queue.Task, stageErr error) error {
	p.cleanupStaging(task, logging.WithContext(ctx, p.logger))
	task.StagingPath = ""
	return stageErr
}

func (p *Pipeline) cleanupStaging(task *queue.Task, logger *slog.Logger) {
	if task.StagingPath == "" {
		return
	}
	if err := os.RemoveAll(task.StagingPath); err != nil {
		logger.Warn("failed to remove staging artifacts",
			logging.String("path", task.StagingPath),
			logging.Error(err),
		)
	}
}

func (p *Pipeline) checkCancelled(task *queue.Task) bool {
	return p.cancelled(task.ID)
}

func formatOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func isClassified(err error) bool {
	return services.Kind(err) != services.KindUnknown
}
