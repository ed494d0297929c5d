package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"candle-quiz/internal/models"
)

// FormatOHLC formats a bar's prices on one line.
func FormatOHLC(b models.Bar) string {
	return fmt.Sprintf("O:%6.2f H:%6.2f L:%6.2f C:%6.2f", b.O, b.H, b.L, b.C)
}

// FormatVolume formats an optional volume, "-" when absent.
func FormatVolume(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

// FormatBody describes the body as a share of the bar's range.
func FormatBody(b models.Bar) string {
	r := b.Range()
	if r <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", b.Body()/r*100)
}

// FormatShare formats part/total as a percentage, "0.0%" when total is zero.
func FormatShare(part, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(part)/float64(total)*100)
}

// TruncateString truncates a string to the specified length.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	n := utf8.RuneCountInString(s)
	if n >= length {
		return s
	}
	return s + strings.Repeat(" ", length-n)
}
