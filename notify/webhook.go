package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/warp/points-engine/loyalty"
)

// WebhookPublisher POSTs notifications to an HTTP endpoint.
type WebhookPublisher struct {
	client *resty.Client
	url    string

	// AllNotifications also forwards user notifications.
	AllNotifications bool
}

func NewWebhook(url string, timeout time.Duration) *WebhookPublisher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetHeader("Content-Type", "application/json")
	return &WebhookPublisher{client: client, url: url}
}

func (p *WebhookPublisher) Publish(ctx context.Context, n loyalty.Notification) error {
	if !n.Broadcast && !p.AllNotifications {
		return nil
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(NewMessage(n)).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return fmt.Errorf("webhook status: %d", resp.StatusCode())
	}
}
