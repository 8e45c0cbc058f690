package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/offline-cache-agent/pkg/notify"
)

// PushPayload is the JSON body of a push message.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Push shows the notification carried by data.
// Empty data and a JSON null do nothing. Data that is not a JSON object is skipped without error.
func (a *Agent) Push(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	var payload *PushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		a.logger.Debug().Err(err).Msg("Skipping push with non-JSON payload")
		return nil
	}
	if payload == nil {
		a.logger.Debug().Msg("Skipping push with null payload")
		return nil
	}

	n := notify.Notification{
		Title: payload.Title,
		Body:  payload.Body,
		Icon:  a.config.NotificationIcon,
		Badge: a.config.NotificationBadge,
	}
	if err := a.notifier.Show(ctx, n); err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	return nil
}
