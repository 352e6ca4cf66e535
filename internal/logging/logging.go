package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects where log records go. Each sink has its own level; an empty
// level turns the sink off.
type Config struct {
	// FileLevel is the minimum level written as JSON to FilePath.
	FileLevel string
	FilePath  string
	// MaxSizeMB and MaxFiles control rotation of FilePath.
	MaxSizeMB int
	MaxFiles  int

	// ConsoleLevel is the minimum level written as text to Console.
	ConsoleLevel string
	Console      io.Writer
}

// DefaultConfig logs info and above to the log file only.
func DefaultConfig() Config {
	return Config{
		FileLevel: "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DebugConfig is used for --debug runs: everything goes to the log file and
// warnings still reach stderr.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.FileLevel = "debug"
	cfg.ConsoleLevel = "warn"
	cfg.Console = os.Stderr
	return cfg
}

// New builds a logger from cfg. The cleanup function flushes and closes the
// log file.
func New(cfg Config) (*slog.Logger, func(), error) {
	var (
		handlers fanout
		closers  []func() error
	)

	if cfg.FileLevel != "" && cfg.FilePath != "" {
		w, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.FileLevel)}))
		closers = append(closers, w.Sync, w.Close)
	}
	if cfg.ConsoleLevel != "" && cfg.Console != nil {
		handlers = append(handlers, slog.NewTextHandler(cfg.Console, &slog.HandlerOptions{Level: parseLevel(cfg.ConsoleLevel)}))
	}

	cleanup := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), cleanup, nil
	}
	return slog.New(handlers), cleanup, nil
}

// SetupCLI installs the default logger for a command. Without debug only
// messages at level or above, and never below warn, reach stderr.
func SetupCLI(level string, debug bool) (func(), error) {
	cfg := Config{ConsoleLevel: level, Console: os.Stderr}
	if parseLevel(level) < slog.LevelWarn {
		cfg.ConsoleLevel = "warn"
	}
	if debug {
		cfg = DebugConfig()
	}

	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		if strings.EqualFold(strings.TrimSpace(level), "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return l
}

// LevelFromString converts a level name to slog.Level. Unknown names map to
// info.
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
