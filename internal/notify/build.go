package notify

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Options selects the in-process channels
type Options struct {
	TelegramToken    string
	TelegramChatID   string
	TelegramEndpoint string
	SlackWebhookURL  string
	HTTPClient       *http.Client
}

// FromOptions builds a fan-out over every configured channel, or a LogNotifier when none is.
// A Telegram bot that cannot be reached at startup is set up again on the next send.
func FromOptions(opts Options, logger *zap.Logger) Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	var notifiers []Notifier
	if opts.TelegramToken != "" || opts.TelegramChatID != "" {
		tg, err := NewTelegramNotifier(opts.TelegramToken, opts.TelegramChatID, opts.TelegramEndpoint)
		switch {
		case err == nil:
			notifiers = append(notifiers, tg)
		case errors.Is(err, ErrNotConfigured):
			logger.Warn("telegram_partially_configured")
		default:
			logger.Warn("telegram_init_deferred", zap.Error(err))
			notifiers = append(notifiers, newLazyTelegram(opts.TelegramToken, opts.TelegramChatID, opts.TelegramEndpoint))
		}
	}
	if opts.SlackWebhookURL != "" {
		slack, err := NewSlackNotifier(opts.SlackWebhookURL, opts.HTTPClient)
		if err != nil {
			logger.Error("slack_init_failed", zap.Error(err))
		} else {
			notifiers = append(notifiers, slack)
		}
	}

	switch len(notifiers) {
	case 0:
		logger.Info("no_notification_channel_configured")
		return NewLogNotifier(logger)
	case 1:
		return notifiers[0]
	default:
		return NewMulti(notifiers...)
	}
}
