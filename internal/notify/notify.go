// Package notify provides user-facing notifications for the quiz engine.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	ID        string
	Type      NotificationType
	Message   string
	TTL       time.Duration // zero keeps the entry until dismissed
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

// DefaultTTL is how long feed entries stay visible.
const DefaultTTL = 3 * time.Second

// Info builds an info notification with the default TTL.
func Info(msg string) Notification {
	return Notification{Type: NotificationInfo, Message: msg, TTL: DefaultTTL}
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given channels.
func NewMultiNotifier(channels ...NotificationChannel) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// Send sends a notification to all enabled channels.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Feed keeps recent notifications in memory until their TTL passes.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	now   func() time.Time
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{now: time.Now}
}

func (f *Feed) Name() string    { return "feed" }
func (f *Feed) IsEnabled() bool { return true }

// Send appends n to the feed.
func (f *Feed) Send(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.Timestamp.IsZero() {
		n.Timestamp = f.now()
	}
	f.items = append(f.items, n)
	return nil
}

// Active returns the notifications that have not expired, oldest first.
func (f *Feed) Active() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	kept := f.items[:0]
	for _, n := range f.items {
		if n.TTL > 0 && now.Sub(n.Timestamp) > n.TTL {
			continue
		}
		kept = append(kept, n)
	}
	f.items = kept
	return append([]Notification(nil), kept...)
}

// LogChannel writes notifications to a logger.
type LogChannel struct {
	logger zerolog.Logger
}

// NewLogChannel creates a LogChannel.
func NewLogChannel(logger zerolog.Logger) *LogChannel {
	return &LogChannel{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogChannel) Name() string    { return "log" }
func (l *LogChannel) IsEnabled() bool { return true }

func (l *LogChannel) Send(_ context.Context, n Notification) error {
	ev := l.logger.Info()
	switch n.Type {
	case NotificationWarning:
		ev = l.logger.Warn()
	case NotificationError:
		ev = l.logger.Error()
	}
	ev.Str("notification_id", n.ID).Msg(n.Message)
	return nil
}

// WebhookNotifier sends notifications via webhook.
type WebhookNotifier struct {
	url     string
	enabled bool
	client  *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:     url,
		enabled: url != "",
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name returns the name of the notifier.
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// IsEnabled returns whether the notifier is enabled.
func (w *WebhookNotifier) IsEnabled() bool {
	return w.enabled
}

// Send sends a notification via webhook.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"id":        n.ID,
		"type":      n.Type,
		"message":   n.Message,
		"timestamp": n.Timestamp.Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "CandleQuiz/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// NoOpNotifier discards notifications.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a NoOpNotifier.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

func (n *NoOpNotifier) Send(ctx context.Context, notif Notification) error {
	return nil
}
