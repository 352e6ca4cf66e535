package ui

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/Aman-CERP/amanfind/internal/index"
)

// progressSteps is how many progress lines a plain run prints at most.
const progressSteps = 10

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	lastStep int
	lastMsg  string
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, lastStep: -1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Lines are printed only when progress
// crosses the next tenth, and at completion.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	if event.Total == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	step := int(min(event.Current, event.Total) * progressSteps / event.Total)
	if step <= r.lastStep {
		return
	}
	r.lastStep = step

	_, _ = fmt.Fprintf(r.out, "[%s] %s/%s files (%d%%)\n",
		event.Stage.Icon(),
		humanize.Comma(int64(event.Current)),
		humanize.Comma(int64(event.Total)),
		step*100/progressSteps)
}

// Message implements Renderer.
func (r *PlainRenderer) Message(stage Stage, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastMsg = msg
	_, _ = fmt.Fprintf(r.out, "[%s] %s\n", stage.Icon(), msg)
}

// Complete implements Renderer. The summary is skipped when the runner has
// already reported it as a status line.
func (r *PlainRenderer) Complete(sum index.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if line := sum.String(); line != r.lastMsg {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", StageComplete.Icon(), line)
	}
	for _, folder := range sum.Missing {
		_, _ = fmt.Fprintf(r.out, "WARN: folder not found: %s\n", folder)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
