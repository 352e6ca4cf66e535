package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanfind/internal/analysis"
	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
	"github.com/Aman-CERP/amanfind/internal/store"
	"github.com/Aman-CERP/amanfind/internal/telemetry"
)

// Engine defaults.
const (
	DefaultMaxResults = 100
	DefaultCacheSize  = 256
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Config tunes ranking and result limits.
type Config struct {
	MaxResults int
	K1         float64
	B          float64
	CacheSize  int
}

// DefaultConfig returns the standard BM25 parameters.
func DefaultConfig() Config {
	return Config{
		MaxResults: DefaultMaxResults,
		K1:         DefaultK1,
		B:          DefaultB,
		CacheSize:  DefaultCacheSize,
	}
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithQueryLog records every search, including cache hits, in l.
func WithQueryLog(l *telemetry.QueryLog) EngineOption {
	return func(e *Engine) {
		e.queries = l
	}
}

// readerHandle pins a reader while searches use it.
type readerHandle struct {
	reader *store.Reader
	refs   atomic.Int64
}

func (h *readerHandle) retain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *readerHandle) release() {
	if h.refs.Add(-1) == 0 {
		_ = h.reader.Close()
	}
}

type cacheKey struct {
	generation uint64
	mode       Mode
	query      string
}

// Engine runs queries against the latest refreshed reader of an index.
type Engine struct {
	index    *store.Index
	analyzer *analysis.Analyzer
	config   Config
	current  atomic.Pointer[readerHandle]
	cache    *lru.Cache[cacheKey, []Result]
	queries  *telemetry.QueryLog
	mu       sync.Mutex // serializes Refresh
}

// NewEngine creates an engine over idx and opens its first reader.
func NewEngine(idx *store.Index, cfg Config, opts ...EngineOption) (*Engine, error) {
	if idx == nil {
		return nil, fmt.Errorf("%w: index is required", ErrNilDependency)
	}
	def := DefaultConfig()
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = def.MaxResults
	}
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	cache, _ := lru.New[cacheKey, []Result](cfg.CacheSize)

	e := &Engine{
		index:    idx,
		analyzer: idx.Analyzer(),
		config:   cfg,
		cache:    cache,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.Refresh(); err != nil {
		return nil, err
	}
	return e, nil
}

// Refresh swaps in a reader of the latest commit. Searches already running keep
// their reader until they finish.
func (e *Engine) Refresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.index.Refresh(); err != nil {
		return fmt.Errorf("failed to refresh index: %w", err)
	}
	if old := e.current.Load(); old != nil && old.reader.Generation() == e.index.Stats().Generation {
		return nil
	}
	r, err := e.index.OpenReader()
	if err != nil {
		return fmt.Errorf("failed to open reader: %w", err)
	}
	h := &readerHandle{reader: r}
	h.refs.Store(1)
	if old := e.current.Swap(h); old != nil {
		old.release()
	}
	slog.Debug("search_reader_refreshed",
		slog.Uint64("generation", r.Generation()),
		slog.Uint64("documents", r.NumDocs()))
	return nil
}

func (e *Engine) acquire() *readerHandle {
	for {
		h := e.current.Load()
		if h == nil {
			return nil
		}
		if h.retain() {
			return h
		}
	}
}

// Generation returns the commit generation searches currently see.
func (e *Engine) Generation() uint64 {
	h := e.acquire()
	if h == nil {
		return 0
	}
	defer h.release()
	return h.reader.Generation()
}

// Search runs query text in mode and returns at most MaxResults results,
// best first. Malformed queries never fail: they are retried as literal text
// and yield no results if that fails too.
func (e *Engine) Search(ctx context.Context, text string, mode Mode) ([]Result, error) {
	start := time.Now()
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	h := e.acquire()
	if h == nil {
		return nil, nil
	}
	defer h.release()
	if h.reader.NumDocs() == 0 {
		return nil, nil
	}

	key := cacheKey{generation: h.reader.Generation(), mode: mode, query: text}
	if cached, ok := e.cache.Get(key); ok {
		e.record(text, mode, len(cached), time.Since(start))
		return slices.Clone(cached), nil
	}

	node, err := Parse(text)
	if err != nil {
		slog.Debug("query_parse_fallback",
			slog.String("query", text),
			slog.String("error", err.Error()))
		node, err = Parse(Escape(text))
		if err != nil {
			slog.Debug("query_unparseable", slog.String("query", text))
			return nil, nil
		}
	}

	ev := &evaluator{
		ctx:      ctx,
		reader:   h.reader,
		analyzer: e.analyzer,
		fields:   mode.Fields(),
		k1:       e.config.K1,
		b:        e.config.B,
	}
	matched, err := ev.eval(node)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "search failed", err)
	}

	results, err := e.collect(h.reader, matched)
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeSearchFailed, "failed to load results", err)
	}
	e.cache.Add(key, results)
	e.record(text, mode, len(results), time.Since(start))

	slog.Debug("search_completed",
		slog.String("query", text),
		slog.String("mode", mode.String()),
		slog.Int("matched", len(matched)),
		slog.Int("returned", len(results)),
		slog.Duration("duration", time.Since(start)))
	return slices.Clone(results), nil
}

type scored struct {
	doc   store.DocID
	score float64
}

// collect ranks matched documents by score, ties by path, and keeps the top
// MaxResults. Only documents that can reach the cut are loaded.
func (e *Engine) collect(r *store.Reader, matched hits) ([]Result, error) {
	if len(matched) == 0 {
		return nil, nil
	}
	ranked := make([]scored, 0, len(matched))
	for doc, s := range matched {
		ranked = append(ranked, scored{doc: doc, score: s})
	}
	slices.SortFunc(ranked, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.doc, b.doc)
	})

	limit := e.config.MaxResults
	if len(ranked) > limit {
		cutoff := ranked[limit-1].score
		n := limit
		for n < len(ranked) && ranked[n].score >= cutoff {
			n++
		}
		ranked = ranked[:n]
	}

	results := make([]Result, 0, len(ranked))
	for _, sd := range ranked {
		doc, err := r.Document(sd.doc)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			Path:     doc.Path,
			Filename: doc.Filename,
			FileType: doc.FileType,
			Score:    sd.score,
			Size:     doc.Size,
			ModTime:  doc.ModTime,
		})
	}
	slices.SortFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	maxScore := results[0].Score
	for i := range results {
		results[i].MaxScore = maxScore
	}
	return results, nil
}

func (e *Engine) record(query string, mode Mode, count int, latency time.Duration) {
	if e.queries == nil {
		return
	}
	e.queries.Record(telemetry.QueryEvent{
		Query:   query,
		Mode:    mode.String(),
		Results: count,
		Latency: latency,
	})
}

// Close releases the engine's reader. Searches still running finish first.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old := e.current.Swap(nil); old != nil {
		old.release()
	}
	e.cache.Purge()
	return nil
}
