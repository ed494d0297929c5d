package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TerminalChannel prints notices to a terminal, typically stderr, so
// they do not mix with command output.
type TerminalChannel struct {
	mu           sync.Mutex
	w            io.Writer
	enabled      bool
	colorEnabled bool
	bellEnabled  bool
}

// NewTerminalChannel creates a TerminalChannel writing to w.
func NewTerminalChannel(w io.Writer) *TerminalChannel {
	return &TerminalChannel{
		w:            w,
		enabled:      true,
		colorEnabled: !color.NoColor,
	}
}

// SetColorEnabled enables or disables colored output.
func (t *TerminalChannel) SetColorEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.colorEnabled = enabled
}

// SetBellEnabled rings the terminal bell on warnings and errors.
func (t *TerminalChannel) SetBellEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bellEnabled = enabled
}

// SetEnabled enables or disables the channel.
func (t *TerminalChannel) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// Name returns the channel name.
func (t *TerminalChannel) Name() string { return "terminal" }

// IsEnabled returns whether the channel is enabled.
func (t *TerminalChannel) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Send writes one formatted line.
func (t *TerminalChannel) Send(_ context.Context, n Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	line := FormatNotification(n, t.colorEnabled)
	if t.bellEnabled && n.Type != NotificationInfo {
		line = "\a" + line
	}
	_, err := fmt.Fprintln(t.w, line)
	return err
}

// FormatNotification formats a notification for terminal display.
func FormatNotification(n Notification, colorEnabled bool) string {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var indicator string
	var c *color.Color
	switch n.Type {
	case NotificationWarning:
		indicator, c = "WARN", color.New(color.FgYellow)
	case NotificationError:
		indicator, c = "ERROR", color.New(color.FgRed)
	default:
		indicator, c = "INFO", color.New(color.FgCyan)
	}

	head := fmt.Sprintf("[%s] %s", ts.Format("15:04:05"), indicator)
	if colorEnabled {
		c.EnableColor()
		head = c.Sprint(head)
	}

	var sb strings.Builder
	sb.WriteString(head)
	sb.WriteString(" | ")
	sb.WriteString(n.Message)
	return sb.String()
}
