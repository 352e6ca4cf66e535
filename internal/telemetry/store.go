package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"
)

// DefaultDBName is the telemetry database file inside the index directory.
const DefaultDBName = "telemetry.db"

// maxFailingQueries bounds the zero-result query table.
const maxFailingQueries = 100

// SQLiteStore persists search history and indexing runs.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

var (
	_ QueryStore = (*SQLiteStore)(nil)
	_ RunStore   = (*SQLiteStore)(nil)
)

// Open opens the database at path, creating it and its schema if needed.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	// Index writers and searches may share the file; one connection per process.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, owned: true}, nil
}

// NewSQLiteStore wraps a connection whose schema already exists. Close leaves
// the connection open.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS search_modes (
		day TEXT NOT NULL,
		mode TEXT NOT NULL,
		searches INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, mode)
	);

	CREATE TABLE IF NOT EXISTS search_latency (
		day TEXT NOT NULL,
		bucket TEXT NOT NULL,
		searches INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (day, bucket)
	);

	CREATE TABLE IF NOT EXISTS search_terms (
		term TEXT PRIMARY KEY,
		uses INTEGER NOT NULL DEFAULT 0,
		last_used INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_terms_uses ON search_terms(uses DESC);

	-- One row per distinct failing query; last_seen orders and trims the table.
	CREATE TABLE IF NOT EXISTS failing_queries (
		query TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		times INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS index_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		folders TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		total INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		indexed INTEGER NOT NULL,
		filename_only INTEGER NOT NULL,
		errored INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_index_runs_started ON index_runs(started_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return nil
}

// SaveQueries adds a batch to the search history in one transaction.
func (s *SQLiteStore) SaveQueries(ctx context.Context, b QueryBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsertDaily := func(table, column string, counts map[string]int64) error {
		query := fmt.Sprintf(`
			INSERT INTO %s (day, %s, searches) VALUES (?, ?, ?)
			ON CONFLICT(day, %s) DO UPDATE SET searches = searches + excluded.searches`,
			table, column, column)
		for key, n := range counts {
			if _, err := tx.ExecContext(ctx, query, b.Date, key, n); err != nil {
				return fmt.Errorf("failed to update %s: %w", table, err)
			}
		}
		return nil
	}
	if err := upsertDaily("search_modes", "mode", b.Modes); err != nil {
		return err
	}
	if err := upsertDaily("search_latency", "bucket", b.Latencies); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	for term, n := range b.Terms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO search_terms (term, uses, last_used) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET uses = uses + excluded.uses, last_used = excluded.last_used`,
			term, n, now); err != nil {
			return fmt.Errorf("failed to update search_terms: %w", err)
		}
	}

	for _, ev := range b.ZeroResults {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failing_queries (query, mode, times, last_seen) VALUES (?, ?, 1, ?)
			ON CONFLICT(query) DO UPDATE SET
				mode = excluded.mode,
				times = times + 1,
				last_seen = MAX(last_seen, excluded.last_seen)`,
			normalizeQuery(ev.Query), ev.Mode, ev.At.UnixMilli()); err != nil {
			return fmt.Errorf("failed to update failing_queries: %w", err)
		}
	}
	if len(b.ZeroResults) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM failing_queries WHERE query NOT IN (
				SELECT query FROM failing_queries ORDER BY last_seen DESC, query LIMIT ?
			)`, maxFailingQueries); err != nil {
			return fmt.Errorf("failed to trim failing_queries: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit search history: %w", err)
	}
	return nil
}

// TermUse is a query term and how often it was searched.
type TermUse struct {
	Term string `json:"term"`
	Uses int64  `json:"uses"`
}

// FailingQuery is a distinct query that returned nothing.
type FailingQuery struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	Times int64  `json:"times"`
}

// SearchSummary aggregates the whole search history.
type SearchSummary struct {
	Searches  int64            `json:"searches"`
	Modes     map[string]int64 `json:"modes"`
	Latencies map[string]int64 `json:"latencies"`
	TopTerms  []TermUse        `json:"top_terms,omitempty"`
	Failing   []FailingQuery   `json:"failing,omitempty"`
}

// Summary reads the search history, with at most limit terms and failing
// queries.
func (s *SQLiteStore) Summary(ctx context.Context, limit int) (SearchSummary, error) {
	sum := SearchSummary{Modes: make(map[string]int64), Latencies: make(map[string]int64)}

	sumDaily := func(table, column string, into map[string]int64) error {
		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT %s, SUM(searches) FROM %s GROUP BY %s`, column, table, column))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", table, err)
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			var n int64
			if err := rows.Scan(&key, &n); err != nil {
				return fmt.Errorf("failed to scan %s: %w", table, err)
			}
			into[key] = n
		}
		return rows.Err()
	}
	if err := sumDaily("search_modes", "mode", sum.Modes); err != nil {
		return sum, err
	}
	if err := sumDaily("search_latency", "bucket", sum.Latencies); err != nil {
		return sum, err
	}
	for _, n := range sum.Modes {
		sum.Searches += n
	}

	// Rows are drained before the next query: the store has one connection.
	var err error
	if sum.TopTerms, err = s.topTerms(ctx, limit); err != nil {
		return sum, err
	}
	if sum.Failing, err = s.failingQueries(ctx, limit); err != nil {
		return sum, err
	}
	return sum, nil
}

func (s *SQLiteStore) topTerms(ctx context.Context, limit int) ([]TermUse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT term, uses FROM search_terms ORDER BY uses DESC, term LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read search_terms: %w", err)
	}
	defer rows.Close()

	var terms []TermUse
	for rows.Next() {
		var tu TermUse
		if err := rows.Scan(&tu.Term, &tu.Uses); err != nil {
			return nil, fmt.Errorf("failed to scan search_terms: %w", err)
		}
		terms = append(terms, tu)
	}
	return terms, rows.Err()
}

func (s *SQLiteStore) failingQueries(ctx context.Context, limit int) ([]FailingQuery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, mode, times FROM failing_queries ORDER BY last_seen DESC, query LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read failing_queries: %w", err)
	}
	defer rows.Close()

	var failing []FailingQuery
	for rows.Next() {
		var fq FailingQuery
		if err := rows.Scan(&fq.Query, &fq.Mode, &fq.Times); err != nil {
			return nil, fmt.Errorf("failed to scan failing_queries: %w", err)
		}
		failing = append(failing, fq)
	}
	return failing, rows.Err()
}

// Close releases the connection if the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
