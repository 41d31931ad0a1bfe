package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramChannel = "telegram"

var errInvalidChatID = errors.New("invalid telegram chat id")

// TelegramNotifier sends messages to a single Telegram chat
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier creates a notifier for chatID. apiEndpoint may be empty for the public API.
func NewTelegramNotifier(token, chatID, apiEndpoint string) (*TelegramNotifier, error) {
	if token == "" || chatID == "" {
		return nil, ErrNotConfigured
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", errInvalidChatID, chatID, err)
	}
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &http.Client{Timeout: 15 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: id}, nil
}

// Send posts message to the configured chat
func (n *TelegramNotifier) Send(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return Transient(telegramChannel, err)
	}
	if _, err := n.api.Send(tgbotapi.NewMessage(n.chatID, message)); err != nil {
		return classifyTelegramError(err)
	}
	return nil
}

// classifyTelegramError treats rate limiting, server errors and transport failures as retryable
func classifyTelegramError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return Transient(telegramChannel, err)
		}
		return fmt.Errorf("%s: %w", telegramChannel, err)
	}
	return Transient(telegramChannel, err)
}

// lazyTelegram retries bot setup on each send until it succeeds. Until then
// every send fails as transient so reminders are not marked delivered.
type lazyTelegram struct {
	token, chatID, endpoint string

	mu sync.Mutex
	tg *TelegramNotifier
}

func newLazyTelegram(token, chatID, endpoint string) *lazyTelegram {
	return &lazyTelegram{token: token, chatID: chatID, endpoint: endpoint}
}

func (n *lazyTelegram) Send(ctx context.Context, message string) error {
	n.mu.Lock()
	if n.tg == nil {
		tg, err := NewTelegramNotifier(n.token, n.chatID, n.endpoint)
		if err != nil {
			n.mu.Unlock()
			if errors.Is(err, errInvalidChatID) {
				return fmt.Errorf("%s: %w", telegramChannel, err)
			}
			return Transient(telegramChannel, err)
		}
		n.tg = tg
	}
	tg := n.tg
	n.mu.Unlock()
	return tg.Send(ctx, message)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*lazyTelegram)(nil)
)
