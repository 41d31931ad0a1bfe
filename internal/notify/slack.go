package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

const slackChannel = "slack"

// SlackNotifier posts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier creates a webhook notifier
func NewSlackNotifier(webhookURL string, client *http.Client) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, ErrNotConfigured
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{webhookURL: webhookURL, client: client}, nil
}

// Send posts message to the webhook
func (n *SlackNotifier) Send(ctx context.Context, message string) error {
	err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, &slack.WebhookMessage{Text: message})
	if err != nil {
		return classifySlackError(err)
	}
	return nil
}

// classifySlackError treats everything except a 4xx other than 429 as retryable
func classifySlackError(err error) error {
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Code == http.StatusTooManyRequests || statusErr.Code >= http.StatusInternalServerError {
			return Transient(slackChannel, err)
		}
		return fmt.Errorf("%s: %w", slackChannel, err)
	}
	return Transient(slackChannel, err)
}

var _ Notifier = (*SlackNotifier)(nil)
