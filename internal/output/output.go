// Package output provides consistent CLI output formatting for status lines
// and search results.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"github.com/Aman-CERP/amanfind/internal/search"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out io.Writer
	now func() time.Time
}

// New creates a new output Writer.
func New(out io.Writer) *Writer {
	return &Writer{out: out, now: time.Now}
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status("✅", msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", msg)
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", msg)
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Code prints a block with each line indented.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// Results prints ranked search results, one per line with the relative score
// as a bar. total is the number of matches before truncation.
func (w *Writer) Results(results []search.Result, total int) {
	if len(results) == 0 {
		_, _ = fmt.Fprintln(w.out, "No matches.")
		return
	}

	width := len(fmt.Sprint(len(results)))
	for i, r := range results {
		_, _ = fmt.Fprintf(w.out, "%*d. %s %s\n", width, i+1, renderScoreBar(r.Relative(), 10), r.Filename)
		_, _ = fmt.Fprintf(w.out, "%*s  %s\n", width, "", r.Path)

		details := []string{humanize.Bytes(uint64(max(r.Size, 0)))}
		if r.FileType != "" {
			details = append(details, r.FileType)
		}
		if !r.ModTime.IsZero() {
			details = append(details, "modified "+humanize.RelTime(r.ModTime, w.now(), "ago", "from now"))
		}
		details = append(details, fmt.Sprintf("score %.3f", r.Score))
		_, _ = fmt.Fprintf(w.out, "%*s  %s\n", width, "", strings.Join(details, " · "))
	}

	if total > len(results) {
		_, _ = fmt.Fprintf(w.out, "\nShowing %s of %s matches.\n",
			humanize.Comma(int64(len(results))), humanize.Comma(int64(total)))
	}
}

// Paths prints only the result paths, for piping into other tools.
func (w *Writer) Paths(results []search.Result) {
	for _, r := range results {
		_, _ = fmt.Fprintln(w.out, r.Path)
	}
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// renderScoreBar draws fraction (0..1) as a bar of the given width.
func renderScoreBar(fraction float64, width int) string {
	filled := min(max(int(fraction*float64(width)+0.5), 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
