package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/queue"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage batch downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newBatchAddCommand(ctx))
	cmd.AddCommand(newBatchShowCommand(ctx))
	cmd.AddCommand(newBatchCancelCommand(ctx))
	return cmd
}

func newBatchAddCommand(ctx *commandContext) *cobra.Command {
	var (
		format  string
		quality string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "add [track-id...]",
		Short: "Queue a batch of track downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			trackIDs := args
			if file != "" {
				fromFile, err := readTrackList(file)
				if err != nil {
					return err
				}
				trackIDs = append(trackIDs, fromFile...)
			}
			if len(trackIDs) == 0 {
				return errors.New("batch add requires track ids or --file")
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				requests := make([]queue.TrackRequest, 0, len(trackIDs))
				for _, trackID := range trackIDs {
					requests = append(requests, normalizeRequest(cfg, queue.TrackRequest{
						TrackID: trackID,
						Format:  format,
						Quality: quality,
					}))
				}
				batch, children, err := store.CreateBatch(cmd.Context(), requests)
				if err != nil {
					return err
				}

				fresh := 0
				for _, child := range children {
					if child.Created {
						fresh++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued batch %s: %d tracks (%d new, %d deduplicated)\n",
					batch.ID, len(children), fresh, len(children)-fresh)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Target audio format for all tracks")
	cmd.Flags().StringVar(&quality, "quality", "", "Target audio quality for all tracks")
	cmd.Flags().StringVar(&file, "file", "", "File with one track id per line")
	return cmd
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show batch progress and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				batch, err := store.GetBatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if batch == nil {
					return fmt.Errorf("batch %s not found", args[0])
				}
				agg, err := store.BatchAggregate(cmd.Context(), batch.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(os.Stdout)
				fmt.Fprintf(out, "batch %s: %s\n", batch.ID, agg.State)
				fmt.Fprintf(out, "  total %d, completed %d, failed %d, cancelled %d, active %d\n",
					agg.Total, agg.Completed, agg.Failed, agg.Cancelled, agg.Active)

				rows := make([][]string, 0, len(batch.ChildIDs))
				for _, childID := range batch.ChildIDs {
					task, err := store.GetTask(cmd.Context(), childID)
					if err != nil {
						return err
					}
					if task == nil {
						continue
					}
					rows = append(rows, []string{
						shortID(task.ID),
						truncate(task.TrackID, 40),
						colorStatus(task.Status, colorize),
						formatProgress(task),
						formatError(task),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Track", "Status", "Progress", "Last Error"},
					rows,
				))
				return nil
			})
		},
	}
	return cmd
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch and its unfinished children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				batch, err := store.GetBatch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if batch == nil {
					return fmt.Errorf("batch %s not found", args[0])
				}
				if batch.Cancelled {
					return fmt.Errorf("batch %s is already cancelled", args[0])
				}
				if err := store.MarkBatchCancelled(cmd.Context(), batch.ID); err != nil {
					return err
				}

				cancelled := 0
				for _, childID := range batch.ChildIDs {
					_, err := cancelTask(cmd.Context(), store, childID)
					if errors.Is(err, queue.ErrAlreadyTerminal) {
						continue
					}
					if err != nil {
						return err
					}
					cancelled++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled batch %s (%d of %d children still open)\n",
					batch.ID, cancelled, len(batch.ChildIDs))
				return nil
			})
		},
	}
	return cmd
}

// cancelTask flags a task for cancellation. Pending tasks finalize here;
// tasks held by a worker stop at the next stage boundary. The guarded
// transition loses cleanly when a daemon worker claims the row first.
func cancelTask(ctx context.Context, store *queue.Store, id string) (*queue.Task, error) {
	task, err := store.RequestCancel(ctx, id)
	if err != nil {
		return task, err
	}
	if task.Status == queue.StatusPending {
		task.ErrorKind = ""
		task.ErrorMessage = ""
		task.ProgressMessage = "cancelled by request"
		if err := store.Transition(ctx, task, queue.StatusCancelled); err != nil {
			if errors.Is(err, queue.ErrTaskSuperseded) {
				return task, nil
			}
			return nil, err
		}
	}
	return task, nil
}

func readTrackList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open track list: %w", err)
	}
	defer f.Close()

	var trackIDs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		trackIDs = append(trackIDs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read track list: %w", err)
	}
	return trackIDs, nil
}
