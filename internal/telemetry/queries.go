// Package telemetry keeps a local history of searches and indexing runs in a
// SQLite database next to the index. Nothing leaves the machine.
package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

// latencyBounds are the upper bounds of the latency histogram buckets. The
// last bucket is open-ended.
var latencyBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
}

// LatencyBucket returns the histogram label for d, such as "<50ms" or ">=500ms".
func LatencyBucket(d time.Duration) string {
	for _, bound := range latencyBounds {
		if d < bound {
			return "<" + bound.String()
		}
	}
	return ">=" + latencyBounds[len(latencyBounds)-1].String()
}

// QueryEvent is one executed search.
type QueryEvent struct {
	Query   string
	Mode    string
	Results int
	Latency time.Duration
	At      time.Time
}

// QueryTerms returns the words of a query as the content analyzer would fold
// them: lowercased, without diacritics, operators or field prefixes. Words
// shorter than three runes are dropped.
func QueryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(query) {
		if i := strings.IndexByte(w, ':'); i >= 0 {
			w = w[i+1:]
		}
		if i := strings.IndexAny(w, "~^"); i >= 0 {
			w = w[:i] // fuzzy distance or boost
		}
		w = strings.Trim(w, `+-!()"*?`)
		switch w {
		case "AND", "OR", "NOT", "&&", "||":
			continue
		}
		w = strings.ToLower(analysis.Fold(analysis.Normalize(w)))
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// normalizeQuery is the key used to spot repeated and failing queries.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// QueryBatch is everything recorded since the previous flush.
type QueryBatch struct {
	Date        string // YYYY-MM-DD, local time
	Modes       map[string]int64
	Terms       map[string]int64
	Latencies   map[string]int64
	ZeroResults []QueryEvent
}

func (b QueryBatch) empty() bool {
	return len(b.Modes) == 0 && len(b.Terms) == 0 && len(b.ZeroResults) == 0
}

// QueryStore persists query batches.
type QueryStore interface {
	SaveQueries(ctx context.Context, batch QueryBatch) error
}

// QueryStats is the in-memory view of the queries recorded by a QueryLog.
type QueryStats struct {
	Total       int64            `json:"total"`
	Repeated    int64            `json:"repeated"`
	ZeroResults int64            `json:"zero_results"`
	Modes       map[string]int64 `json:"modes"`
	Latencies   map[string]int64 `json:"latencies"`
	Failing     []string         `json:"failing,omitempty"`
}

// QueryLogConfig bounds the memory a QueryLog uses.
type QueryLogConfig struct {
	RecentQueries  int           // distinct queries remembered for repeat detection
	FailingQueries int           // distinct zero-result queries kept in memory
	FlushInterval  time.Duration // 0 flushes on Close only
}

// DefaultQueryLogConfig returns the defaults used by the CLI.
func DefaultQueryLogConfig() QueryLogConfig {
	return QueryLogConfig{
		RecentQueries:  500,
		FailingQueries: 50,
		FlushInterval:  time.Minute,
	}
}

// QueryLog aggregates search events and flushes them to a QueryStore in
// batches. Safe for concurrent use.
type QueryLog struct {
	mu      sync.Mutex
	stats   QueryStats
	recent  *lru.Cache[string, struct{}]
	failing *lru.Cache[string, time.Time]
	pending QueryBatch
	closed  bool

	store QueryStore
	stop  chan struct{}
	done  chan struct{}
}

// NewQueryLog creates a QueryLog. With a nil store events are only kept in
// memory.
func NewQueryLog(store QueryStore, cfg QueryLogConfig) *QueryLog {
	defaults := DefaultQueryLogConfig()
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = defaults.RecentQueries
	}
	if cfg.FailingQueries <= 0 {
		cfg.FailingQueries = defaults.FailingQueries
	}
	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)
	failing, _ := lru.New[string, time.Time](cfg.FailingQueries)

	l := &QueryLog{
		stats: QueryStats{
			Modes:     make(map[string]int64),
			Latencies: make(map[string]int64),
		},
		recent:  recent,
		failing: failing,
		pending: newBatch(),
		store:   store,
	}
	if store != nil && cfg.FlushInterval > 0 {
		l.stop = make(chan struct{})
		l.done = make(chan struct{})
		go l.flushLoop(cfg.FlushInterval)
	}
	return l
}

func newBatch() QueryBatch {
	return QueryBatch{
		Modes:     make(map[string]int64),
		Terms:     make(map[string]int64),
		Latencies: make(map[string]int64),
	}
}

func (l *QueryLog) flushLoop(every time.Duration) {
	defer close(l.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.Flush(context.Background()); err != nil {
				slog.Warn("query_log_flush_failed", slog.String("error", err.Error()))
			}
		case <-l.stop:
			return
		}
	}
}

// Record adds one search. Events after Close are dropped.
func (l *QueryLog) Record(ev QueryEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	key := normalizeQuery(ev.Query)
	bucket := LatencyBucket(ev.Latency)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.stats.Total++
	l.stats.Modes[ev.Mode]++
	l.stats.Latencies[bucket]++
	if l.recent.Contains(key) {
		l.stats.Repeated++
	}
	l.recent.Add(key, struct{}{})

	l.pending.Modes[ev.Mode]++
	l.pending.Latencies[bucket]++
	for _, term := range QueryTerms(ev.Query) {
		l.pending.Terms[term]++
	}

	if ev.Results == 0 {
		l.stats.ZeroResults++
		l.failing.Add(key, ev.At)
		l.pending.ZeroResults = append(l.pending.ZeroResults, ev)
	}
}

// Stats returns a copy of the counters. Failing lists the distinct
// zero-result queries, most recent first.
func (l *QueryLog) Stats() QueryStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := l.stats
	out.Modes = make(map[string]int64, len(l.stats.Modes))
	for k, v := range l.stats.Modes {
		out.Modes[k] = v
	}
	out.Latencies = make(map[string]int64, len(l.stats.Latencies))
	for k, v := range l.stats.Latencies {
		out.Latencies[k] = v
	}
	keys := l.failing.Keys() // oldest first
	out.Failing = make([]string, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		out.Failing = append(out.Failing, keys[i])
	}
	return out
}

// Flush writes the pending batch to the store. A failed batch is dropped.
func (l *QueryLog) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	batch := l.pending
	l.pending = newBatch()
	l.mu.Unlock()

	if batch.empty() {
		return nil
	}
	batch.Date = time.Now().Format(time.DateOnly)
	return l.store.SaveQueries(ctx, batch)
}

// Close stops the flush loop and writes what is pending.
func (l *QueryLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.stop != nil {
		close(l.stop)
		<-l.done
	}
	return l.Flush(context.Background())
}
