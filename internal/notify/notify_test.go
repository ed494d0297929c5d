package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingChannel struct{ name string }

func (f failingChannel) Name() string                             { return f.name }
func (f failingChannel) IsEnabled() bool                          { return true }
func (f failingChannel) Send(context.Context, Notification) error { return errors.New("down") }

func TestFeedExpiresByTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewFeed()
	f.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, f.Send(ctx, Info("short lived")))
	require.NoError(t, f.Send(ctx, Notification{Type: NotificationWarning, Message: "sticky"}))
	assert.Len(t, f.Active(), 2)

	now = now.Add(DefaultTTL + time.Millisecond)
	active := f.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "sticky", active[0].Message)
}

func TestMultiNotifierFillsIdentityAndJoinsErrors(t *testing.T) {
	feed := NewFeed()
	multi := NewMultiNotifier(feed, NewLogChannel(zerolog.Nop()))
	ctx := context.Background()

	require.NoError(t, multi.Send(ctx, Info("hello")))
	got := feed.Active()
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())

	multi.AddChannel(failingChannel{name: "pager"})
	multi.AddChannel(NewWebhookNotifier(""))
	err := multi.Send(ctx, Info("again"))
	require.Error(t, err)
	assert.Equal(t, "notification errors: pager: down", err.Error())
	assert.Len(t, feed.Active(), 2, "healthy channels still receive the notice")

	assert.NoError(t, NewNoOpNotifier().Send(ctx, Info("x")))
}

func TestTerminalChannel(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminalChannel(&buf)
	term.SetColorEnabled(false)
	term.SetBellEnabled(true)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)

	require.NoError(t, term.Send(ctx, Notification{Type: NotificationInfo, Message: "offline", Timestamp: ts}))
	require.NoError(t, term.Send(ctx, Notification{Type: NotificationError, Message: "failed", Timestamp: ts}))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[09:05:07] INFO | offline", lines[0])
	assert.Equal(t, "\a[09:05:07] ERROR | failed", lines[1])

	term.SetEnabled(false)
	assert.False(t, term.IsEnabled())
	assert.Equal(t, "terminal", term.Name())
}

func TestFormatNotification(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	plain := FormatNotification(Notification{Type: NotificationWarning, Message: "m", Timestamp: ts}, false)
	assert.Equal(t, "[14:00:00] WARN | m", plain)

	colored := FormatNotification(Notification{Type: NotificationWarning, Message: "m", Timestamp: ts}, true)
	assert.Contains(t, colored, "\x1b[")
	assert.True(t, strings.HasSuffix(colored, " | m"))
}

func TestWebhookNotifier(t *testing.T) {
	var payload map[string]any
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hook := NewWebhookNotifier(srv.URL)
	require.True(t, hook.IsEnabled())
	n := Notification{ID: "n1", Type: NotificationInfo, Message: "hi", Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, hook.Send(context.Background(), n))

	assert.Equal(t, "CandleQuiz/1.0", userAgent)
	assert.Equal(t, "n1", payload["id"])
	assert.Equal(t, "info", payload["type"])
	assert.Equal(t, "hi", payload["message"])
	assert.Equal(t, "2026-03-01T00:00:00Z", payload["timestamp"])

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()
	err := NewWebhookNotifier(broken.URL).Send(context.Background(), n)
	assert.EqualError(t, err, "webhook returned status 502")

	disabled := NewWebhookNotifier("")
	assert.False(t, disabled.IsEnabled())
	assert.NoError(t, disabled.Send(context.Background(), n))
}
