// Package notify delivers push notifications on behalf of the cache agent.
//
// The agent never renders notifications itself. It hands a Notification to a
// Notifier, which may log it, forward it to a webhook or record it in memory.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notification is the display request produced by a push event.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
}

// Notifier shows a notification to the user.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Show logs n at info level.
func (l *LogNotifier) Show(ctx context.Context, n Notification) error {
	l.logger.Info().
		Str("title", n.Title).
		Str("body", n.Body).
		Str("icon", n.Icon).
		Str("badge", n.Badge).
		Msg("Showing notification")
	return nil
}

// WebhookNotifier POSTs notifications as JSON to a URL.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier with a 10s timeout.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Show delivers n to the webhook. Any non-2xx status is an error.
func (w *WebhookNotifier) Show(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Recorder keeps every notification in memory, optionally forwarding to Next.
type Recorder struct {
	// Next receives each notification after it is recorded (optional)
	Next Notifier

	mu            sync.RWMutex
	notifications []Notification
}

// NewRecorder creates a recorder that forwards to next (may be nil).
func NewRecorder(next Notifier) *Recorder {
	return &Recorder{Next: next}
}

// Show records n and forwards it.
func (r *Recorder) Show(ctx context.Context, n Notification) error {
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()

	if r.Next != nil {
		return r.Next.Show(ctx, n)
	}
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}
