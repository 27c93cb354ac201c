package main

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"tonearm/internal/config"
	"tonearm/internal/daemon"
	"tonearm/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				counts, err := store.Counts(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(os.Stdout)

				running := daemonRunning(cfg)
				daemonLine := "stopped"
				if running {
					daemonLine = "running"
				}
				if colorize {
					if running {
						daemonLine = ansiGreen + daemonLine + ansiReset
					} else {
						daemonLine = ansiYellow + daemonLine + ansiReset
					}
				}
				fmt.Fprintf(out, "daemon:     %s\n", daemonLine)
				fmt.Fprintf(out, "database:   %s\n", store.Path())
				fmt.Fprintf(out, "library:    %s\n", cfg.Paths.LibraryDir)
				fmt.Fprintln(out)
				headers := []string{"Pending", "Processing", "Completed", "Failed", "Cancelled", "Total"}
				fmt.Fprintln(out, renderTable(
					headers,
					[][]string{{
						fmt.Sprintf("%d", counts.Pending),
						fmt.Sprintf("%d", counts.Processing),
						fmt.Sprintf("%d", counts.Completed),
						fmt.Sprintf("%d", counts.Failed),
						fmt.Sprintf("%d", counts.Cancelled),
						fmt.Sprintf("%d", counts.Total),
					}},
					allColumns(headers)...,
				))
				return nil
			})
		},
	}
	return cmd
}

// daemonRunning probes the daemon's single-instance lock. An acquirable lock
// means no daemon holds it.
func daemonRunning(cfg *config.Config) bool {
	lock := flock.New(daemon.LockPath(cfg))
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
		return false
	}
	return true
}
