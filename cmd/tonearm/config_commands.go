package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tonearm configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(path)
			if target == "" {
				target = config.DefaultConfigPath
			}
			if err := config.WriteSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample config to %s\n", config.ExpandPath(target))
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Destination path (defaults to "+config.DefaultConfigPath+")")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "staging_dir:   %s\n", cfg.Paths.StagingDir)
			fmt.Fprintf(out, "library_dir:   %s\n", cfg.Paths.LibraryDir)
			fmt.Fprintf(out, "log_dir:       %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(out, "workers:       %d\n", cfg.Downloads.Workers)
			fmt.Fprintf(out, "max_attempts:  %d\n", cfg.Downloads.MaxAttempts)
			fmt.Fprintf(out, "format:        %s %s\n", cfg.Downloads.DefaultFormat, cfg.Downloads.DefaultQuality)
			fmt.Fprintf(out, "rate_limit:    %d/min\n", cfg.RateLimit.UpstreamPerMinute)
			fmt.Fprintf(out, "log output:    %s (%s)\n", cfg.Logging.Format, cfg.Logging.Level)
			notifiers := joinNonEmpty([]string{cfg.Notifications.NtfyTopic, cfg.Notifications.WebhookURL}, ", ")
			if notifiers == "" {
				notifiers = "none"
			}
			fmt.Fprintf(out, "notifiers:     %s\n", notifiers)
			return nil
		},
	}
	return cmd
}
