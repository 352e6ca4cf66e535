// Package ui provides terminal UI components for indexing progress and
// index status display.
package ui

import (
	"context"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/Aman-CERP/amanfind/internal/index"
)

// Stage represents an indexing stage.
type Stage int

const (
	// StageCounting walks the folders once to compute the total.
	StageCounting Stage = iota
	// StageIndexing extracts and indexes files.
	StageIndexing
	// StageOptimizing merges segments after a full rebuild.
	StageOptimizing
	// StageComplete indicates the run has finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageCounting:
		return "Counting"
	case StageIndexing:
		return "Indexing"
	case StageOptimizing:
		return "Optimizing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageCounting:
		return "COUNT"
	case StageIndexing:
		return "INDEX"
	case StageOptimizing:
		return "OPT"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageForPhase maps a runner phase to the stage shown to the user.
func StageForPhase(p index.Phase) Stage {
	switch p {
	case index.PhaseCounting, index.PhaseIdle:
		return StageCounting
	case index.PhaseWalking:
		return StageIndexing
	case index.PhaseOptimizing:
		return StageOptimizing
	default:
		return StageComplete
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current uint64
	Total   uint64
}

// Renderer displays an indexing run.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// Message shows a status line.
	Message(stage Stage, msg string)

	// Complete shows the final summary.
	Complete(sum index.Summary)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string // shown in the TUI header, typically the folders
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the TUI header text.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// text renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
