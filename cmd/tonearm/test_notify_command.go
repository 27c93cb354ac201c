package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tonearm/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured notifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" && strings.TrimSpace(cfg.Notifications.WebhookURL) == "" {
				return errors.New("no notifier configured; set notifications.ntfy_topic or notifications.webhook_url")
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "test notification sent")
			return nil
		},
	}
	return cmd
}
