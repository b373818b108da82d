package newsfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const userAgent = "Chartfall-Go/0.1.0"

// Announcement is the webhook payload for a first publication.
type Announcement struct {
	Name        string    `json:"name"`
	Title       string    `json:"title"`
	Artists     string    `json:"artists"`
	Author      string    `json:"author"`
	Rating      int       `json:"rating"`
	CoverURL    string    `json:"coverUrl"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Notifier fans an announcement out to external listeners.
type Notifier interface {
	Announce(ctx context.Context, announcement Announcement) error
}

// NewNotifier builds a webhook notifier when hooks are configured,
// otherwise a noop implementation.
func NewNotifier(hookURLs []string, timeout time.Duration, logger *zap.Logger) Notifier {
	if len(hookURLs) == 0 {
		return noopNotifier{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webhookNotifier{
		hooks:  hookURLs,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type noopNotifier struct{}

func (noopNotifier) Announce(context.Context, Announcement) error { return nil }

// webhookNotifier posts the announcement as JSON to every configured hook.
// A failing hook is logged and skipped; publication never fails because a
// listener is down.
type webhookNotifier struct {
	hooks  []string
	client *http.Client
	logger *zap.Logger
}

func (n *webhookNotifier) Announce(ctx context.Context, announcement Announcement) error {
	payload, err := json.Marshal(announcement)
	if err != nil {
		return err
	}
	for _, hook := range n.hooks {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, hook, bytes.NewReader(payload))
		if err != nil {
			n.logger.Warn("webhook request build failed", zap.String("hook", hook), zap.Error(err))
			continue
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("User-Agent", userAgent)

		response, err := n.client.Do(request)
		if err != nil {
			n.logger.Warn("webhook delivery failed", zap.String("hook", hook), zap.Error(err))
			continue
		}
		response.Body.Close()
		if response.StatusCode >= 300 {
			n.logger.Warn("webhook rejected announcement",
				zap.String("hook", hook),
				zap.Int("status", response.StatusCode))
		}
	}
	return nil
}
