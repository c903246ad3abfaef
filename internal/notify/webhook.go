// Package notify delivers room state webhooks to external receivers.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/neko-do/engine/internal/models"
	appErr "github.com/neko-do/engine/pkg/errors"
)

// Notifier posts a room's public state to a receiver. Delivery is
// best-effort: one attempt, no retries.
type Notifier interface {
	Post(ctx context.Context, url string, state models.RoomState) error
}

type webhookNotifier struct {
	client *resty.Client
}

func NewWebhookNotifier() Notifier {
	return &webhookNotifier{
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

func (n *webhookNotifier) Post(ctx context.Context, url string, state models.RoomState) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(map[string]any{"room": state}).
		Post(url)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "webhook delivery failed")
	}
	if resp.IsError() {
		return appErr.New(appErr.CodeUnavailable, fmt.Sprintf("webhook receiver answered %d", resp.StatusCode()))
	}
	return nil
}
