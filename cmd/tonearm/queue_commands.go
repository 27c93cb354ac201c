package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/queue"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List download tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(statusFilters))
			for _, raw := range statusFilters {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				tasks, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
					return nil
				}

				colorize := shouldColorize(os.Stdout)
				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						shortID(task.ID),
						truncate(task.TrackID, 40),
						task.Format,
						string(task.Band),
						colorStatus(task.Status, colorize),
						fmt.Sprintf("%d/%d", task.Attempt, task.MaxAttempts),
						formatTime(task.CreatedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Track", "Format", "Band", "Status", "Attempts", "Created"},
					rows,
					5, // attempts column
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				task, err := store.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if task == nil {
					return fmt.Errorf("task %s not found", args[0])
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(os.Stdout)
				fmt.Fprintf(out, "task %s\n", task.ID)
				fmt.Fprintf(out, "  track:     %s\n", task.TrackID)
				fmt.Fprintf(out, "  target:    %s %s\n", task.Format, task.Quality)
				fmt.Fprintf(out, "  band:      %s\n", task.Band)
				fmt.Fprintf(out, "  status:    %s\n", colorStatus(task.Status, colorize))
				fmt.Fprintf(out, "  attempts:  %d of %d\n", task.Attempt, task.MaxAttempts)
				fmt.Fprintf(out, "  progress:  %s\n", formatProgress(task))
				if task.ErrorKind != "" {
					fmt.Fprintf(out, "  last error (attempt %d): %s: %s\n", task.ErrorAttempt, task.ErrorKind, task.ErrorMessage)
				}
				if task.OutputPath != "" {
					fmt.Fprintf(out, "  output:    %s\n", task.OutputPath)
				}
				if task.BatchID != "" {
					fmt.Fprintf(out, "  batch:     %s\n", task.BatchID)
				}
				fmt.Fprintf(out, "  created:   %s\n", formatTime(task.CreatedAt))
				fmt.Fprintf(out, "  updated:   %s\n", formatTime(task.UpdatedAt))
				if task.LastHeartbeat != nil {
					fmt.Fprintf(out, "  heartbeat: %s\n", formatTime(*task.LastHeartbeat))
				}
				return nil
			})
		},
	}
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a download task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				task, err := cancelTask(cmd.Context(), store, args[0])
				if errors.Is(err, queue.ErrAlreadyTerminal) && task != nil {
					return fmt.Errorf("task %s already finished (%s)", args[0], task.Status)
				}
				if err != nil {
					return err
				}
				if task.Status == queue.StatusCancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "cancelled task %s\n", task.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "cancellation requested for task %s (currently %s)\n", task.ID, task.Status)
				}
				return nil
			})
		},
	}
	return cmd
}
