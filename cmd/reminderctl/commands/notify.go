package commands

import (
	"fmt"

	"github.com/benvon/smart-reminder/internal/handlers"
	"github.com/benvon/smart-reminder/internal/notify"
	"github.com/spf13/cobra"
)

// NewNotifyTestCmd creates the notify-test command
func NewNotifyTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-test",
		Short: "Send a test notification",
		Long:  "Send a test notification through every configured channel (Telegram, Slack)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd, false)
			if err != nil {
				return err
			}
			defer e.close()

			n := notify.FromOptions(notify.Options{
				TelegramToken:   e.cfg.TelegramToken,
				TelegramChatID:  e.cfg.TelegramChatID,
				SlackWebhookURL: e.cfg.SlackWebhookURL,
			}, e.logger)
			if err := n.Send(cmd.Context(), handlers.TestNotificationMessage); err != nil {
				return fmt.Errorf("failed to send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}
