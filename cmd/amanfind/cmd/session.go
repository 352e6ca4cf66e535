package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Aman-CERP/amanfind/internal/analysis"
	"github.com/Aman-CERP/amanfind/internal/config"
	"github.com/Aman-CERP/amanfind/internal/extract"
	"github.com/Aman-CERP/amanfind/internal/index"
	"github.com/Aman-CERP/amanfind/internal/scanner"
	"github.com/Aman-CERP/amanfind/internal/search"
	"github.com/Aman-CERP/amanfind/internal/store"
	"github.com/Aman-CERP/amanfind/internal/telemetry"
)

// session holds the components a command opens on the index directory.
type session struct {
	cfg     *config.Config
	index   *store.Index
	runs    *telemetry.SQLiteStore // nil when run history is unavailable
	queries *telemetry.QueryLog
	engine  *search.Engine
}

// openSession opens the index, run history and search engine for cfg.
func openSession(cfg *config.Config) (*session, error) {
	analyzer, err := analysis.New(analyzerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	idx, err := store.Open(cfg.Index.Directory,
		store.WithAnalyzer(analyzer),
		store.WithFlushDocs(cfg.Index.FlushDocs))
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, index: idx}

	// Run history is optional: searching works without it.
	runs, err := telemetry.Open(filepath.Join(cfg.Index.Directory, telemetry.DefaultDBName))
	if err != nil {
		slog.Warn("run_history_unavailable", slog.String("error", err.Error()))
	} else {
		s.runs = runs
	}

	// A nil *SQLiteStore must not become a non-nil QueryStore.
	var history telemetry.QueryStore
	if s.runs != nil {
		history = s.runs
	}
	s.queries = telemetry.NewQueryLog(history, telemetry.DefaultQueryLogConfig())

	s.engine, err = search.NewEngine(idx, search.Config{
		MaxResults: cfg.Search.MaxResults,
		K1:         cfg.Search.K1,
		B:          cfg.Search.B,
		CacheSize:  cfg.Search.CacheSize,
	}, search.WithQueryLog(s.queries))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create search engine: %w", err)
	}
	return s, nil
}

// analyzerConfig applies the configured content token cap to the default fields.
func analyzerConfig(cfg *config.Config) analysis.FieldAnalyzerConfig {
	fields := analysis.DefaultFieldConfig()
	content := fields.Fields[analysis.FieldContent]
	content.MaxTokens = cfg.Index.MaxContentTokens
	fields.Fields[analysis.FieldContent] = content
	return fields
}

// newRunner wires the indexing runner to this session. The search engine is
// refreshed after every commit.
func (s *session) newRunner(sink index.ProgressSink) (*index.Runner, error) {
	deps := index.RunnerDependencies{
		Index: s.index,
		Walker: scanner.New(scanner.Options{
			SkipNames:     s.cfg.Index.SkipFolderNames,
			IncludeHidden: s.cfg.Index.IncludeHidden,
			ExcludeDirs:   []string{s.cfg.Index.Directory},
			IgnoreFiles:   s.cfg.Index.IgnoreFiles,
		}),
		Extractor: extract.NewTextExtractor(extract.Options{MaxBytes: s.cfg.Index.MaxContentBytes}),
		Sink:      sink,
		Config: index.RunnerConfig{
			Workers:   s.cfg.Index.Workers,
			QueueSize: s.cfg.Index.QueueSize,
		},
		Refresher: s.engine,
	}
	if s.runs != nil {
		deps.Runs = s.runs
	}
	return index.NewRunner(deps)
}

// Close releases everything the session opened.
func (s *session) Close() error {
	var errs []error
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
	}
	if s.queries != nil {
		errs = append(errs, s.queries.Close())
	}
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
	}
	errs = append(errs, s.index.Close())
	return errors.Join(errs...)
}
