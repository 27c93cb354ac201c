package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		format  string
		quality string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "submit <track-id>",
		Short: "Queue a single track download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				req := normalizeRequest(cfg, queue.TrackRequest{
					TrackID: args[0],
					Format:  format,
					Quality: quality,
				})
				task, created, err := store.Admit(cmd.Context(), req, queue.BandInteractive, force)
				if err != nil {
					return err
				}
				if !created {
					if task.Status == queue.StatusCompleted {
						fmt.Fprintf(cmd.OutOrStdout(), "already downloaded: task %s (%s)\n", shortID(task.ID), task.OutputPath)
					} else {
						fmt.Fprintf(cmd.OutOrStdout(), "already queued: task %s (%s)\n", shortID(task.ID), task.Status)
					}
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued task %s (%s, %s %s)\n", task.ID, task.TrackID, task.Format, task.Quality)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Target audio format (defaults to config)")
	cmd.Flags().StringVar(&quality, "quality", "", "Target audio quality (defaults to config)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download even when a completed task exists")
	return cmd
}

func normalizeRequest(cfg *config.Config, req queue.TrackRequest) queue.TrackRequest {
	if req.Format == "" {
		req.Format = cfg.Downloads.DefaultFormat
	}
	if req.Quality == "" {
		req.Quality = cfg.Downloads.DefaultQuality
	}
	return req
}
