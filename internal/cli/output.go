// Package cli provides the command-line interface for the quiz engine.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"candle-quiz/internal/models"
	"candle-quiz/pkg/utils"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && !color.NoColor,
	}
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(color.New(color.Faint), format, args...)
}

func (o *Output) line(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(c, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(c *color.Color, text string) string {
	if !o.colorEnabled {
		return text
	}
	c.EnableColor()
	return c.Sprint(text)
}

// LabelText colors a label by direction.
func (o *Output) LabelText(l models.Label) string {
	switch l {
	case models.LabelBullish:
		return o.paint(color.New(color.FgGreen, color.Bold), string(l))
	case models.LabelBearish:
		return o.paint(color.New(color.FgRed, color.Bold), string(l))
	default:
		return o.paint(color.New(color.FgYellow), string(l))
	}
}

// SourceTag returns a bracketed source indicator.
func (o *Output) SourceTag(s models.Source) string {
	c := color.New(color.FgBlue)
	if s == models.SourceExternal {
		c = color.New(color.FgMagenta)
	}
	return "[" + o.paint(c, strings.ToUpper(string(s))) + "]"
}

// Item prints a quiz item.
func (o *Output) Item(it models.Item) {
	title := it.PatternHint
	if title == "" {
		title = "(no pattern hint)"
	}
	o.Printf("%s %s\n", o.SourceTag(it.Source), o.paint(color.New(color.Bold), title))
	o.Dim("  id: %s  seed: %d", it.ID, it.Seed)

	label := o.LabelText(it.Label)
	if it.Ambiguous {
		label += o.paint(color.New(color.FgYellow), " (ambiguous)")
	}
	o.Printf("  Label:   %s\n", label)
	o.Printf("  Context: trend=%s vol=%s gap=%v  horizon=%d\n", it.Context.Trend, it.Context.Vol, it.Context.Gap, it.Horizon)
	o.Println()

	table := NewTable(o, "#", "Bar", "Body", "Volume")
	for i, b := range it.Candles {
		table.AddRow(fmt.Sprintf("%d", i+1), utils.FormatOHLC(b), utils.FormatBody(b), utils.FormatVolume(b.V))
	}
	table.Render()
	o.Println()

	for _, r := range it.Rationale {
		o.Printf("  • %s\n", utils.TruncateString(r, 120))
	}
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table. Cells must not carry color codes.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	t.printRow(t.headers, widths, true)
	var sep []string
	for _, w := range widths {
		sep = append(sep, strings.Repeat("-", w))
	}
	t.output.Println(t.output.paint(color.New(color.Faint), strings.Join(sep, "  ")))
	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, header bool) {
	parts := make([]string, 0, len(cells))
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		padded := utils.PadRight(cell, widths[i])
		if header {
			padded = t.output.paint(color.New(color.Bold), padded)
		}
		parts = append(parts, padded)
	}
	t.output.Println(strings.Join(parts, "  "))
}
