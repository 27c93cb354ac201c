package main

import (
	"context"
	"log/slog"

	"tonearm/internal/config"
	"tonearm/internal/logging"
	"tonearm/internal/queue"
	"tonearm/internal/services/ffmpeg"
	"tonearm/internal/services/ytdlp"
	"tonearm/internal/workflow"
)

// buildManager probes the external tools and wires the workflow manager.
// yt-dlp is required; a missing ffmpeg degrades transcoding and tagging to
// the pipeline's pass-through policy.
func buildManager(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*workflow.Manager, error) {
	resolver := ytdlp.New(cfg.Tools.YtDlpBin)
	if err := resolver.Available(ctx); err != nil {
		return nil, err
	}

	collab := workflow.Collaborators{
		Resolver: resolver,
		Fetcher:  resolver,
	}

	encoder := ffmpeg.New(cfg.Tools.FFmpegBin)
	if err := encoder.Available(ctx); err != nil {
		logger.Warn("ffmpeg unavailable, transcoding and tagging disabled", logging.Error(err))
	} else {
		collab.Transcoder = encoder
		collab.Tagger = encoder
	}

	return workflow.NewManager(cfg, store, logger, collab)
}
