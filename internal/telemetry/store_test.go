package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), DefaultDBName))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func batch(date string) QueryBatch {
	b := newBatch()
	b.Date = date
	return b
}

func TestSQLiteStore_SaveQueries_AccumulatesAcrossDays(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Given: two batches on different days
	b1 := batch("2026-01-05")
	b1.Modes["all"] = 10
	b1.Modes["filename"] = 2
	b1.Latencies["<10ms"] = 12
	b1.Terms["report"] = 3
	b2 := batch("2026-01-06")
	b2.Modes["all"] = 5
	b2.Latencies["<10ms"] = 4
	b2.Latencies[">=500ms"] = 1
	b2.Terms["report"] = 1
	b2.Terms["budget"] = 2

	// When: saving both
	require.NoError(t, store.SaveQueries(ctx, b1))
	require.NoError(t, store.SaveQueries(ctx, b2))

	// Then: the summary adds them up
	sum, err := store.Summary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(17), sum.Searches)
	assert.Equal(t, int64(15), sum.Modes["all"])
	assert.Equal(t, int64(2), sum.Modes["filename"])
	assert.Equal(t, int64(16), sum.Latencies["<10ms"])
	assert.Equal(t, int64(1), sum.Latencies[">=500ms"])
	assert.Equal(t, []TermUse{{Term: "report", Uses: 4}, {Term: "budget", Uses: 2}}, sum.TopTerms)
}

func TestSQLiteStore_Summary_LimitsTerms(t *testing.T) {
	store := setupTestStore(t)

	b := batch("2026-01-06")
	for i := range 20 {
		b.Terms[fmt.Sprintf("term%02d", i)] = int64(i + 1)
	}
	require.NoError(t, store.SaveQueries(context.Background(), b))

	sum, err := store.Summary(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sum.TopTerms, 5)
	assert.Equal(t, "term19", sum.TopTerms[0].Term)
}

func TestSQLiteStore_Summary_Empty(t *testing.T) {
	store := setupTestStore(t)

	sum, err := store.Summary(context.Background(), 10)

	require.NoError(t, err)
	assert.Zero(t, sum.Searches)
	assert.Empty(t, sum.TopTerms)
	assert.Empty(t, sum.Failing)
}

func TestSQLiteStore_FailingQueries_DistinctNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Given: the same failing query twice, with different spacing, and another one
	b := batch("2026-01-06")
	b.ZeroResults = []QueryEvent{
		{Query: "Missing  File", Mode: "all", At: now},
		{Query: "other", Mode: "content", At: now.Add(time.Second)},
		{Query: "missing file", Mode: "filename", At: now.Add(2 * time.Second)},
	}
	require.NoError(t, store.SaveQueries(ctx, b))

	// Then: queries are deduplicated by their normalized form
	sum, err := store.Summary(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []FailingQuery{
		{Query: "missing file", Mode: "filename", Times: 2},
		{Query: "other", Mode: "content", Times: 1},
	}, sum.Failing)
}

func TestSQLiteStore_FailingQueries_Bounded(t *testing.T) {
	store := setupTestStore(t)
	now := time.Now()

	// Given: more distinct failing queries than the table keeps
	b := batch("2026-01-06")
	for i := range maxFailingQueries + 20 {
		b.ZeroResults = append(b.ZeroResults, QueryEvent{
			Query: fmt.Sprintf("q%03d", i),
			Mode:  "all",
			At:    now.Add(time.Duration(i) * time.Millisecond),
		})
	}
	require.NoError(t, store.SaveQueries(context.Background(), b))

	// Then: only the newest are kept
	sum, err := store.Summary(context.Background(), 1000)
	require.NoError(t, err)
	assert.Len(t, sum.Failing, maxFailingQueries)
	assert.Equal(t, fmt.Sprintf("q%03d", maxFailingQueries+19), sum.Failing[0].Query)
}

func TestSQLiteStore_RecordRun_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.UnixMilli(time.Now().UnixMilli())

	run := Run{
		Kind:         RunKindRebuild,
		Folders:      []string{"/home/a/docs", "/home/a/notes"},
		StartedAt:    started,
		Duration:     1500 * time.Millisecond,
		Total:        10,
		Processed:    10,
		Indexed:      8,
		FilenameOnly: 2,
		Errored:      1,
		Cancelled:    true,
		Error:        "",
	}
	require.NoError(t, store.RecordRun(ctx, run))

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.NotZero(t, got.ID)
	assert.Equal(t, run.Kind, got.Kind)
	assert.Equal(t, run.Folders, got.Folders)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, run.Duration, got.Duration)
	assert.Equal(t, run.Indexed, got.Indexed)
	assert.Equal(t, run.FilenameOnly, got.FilenameOnly)
	assert.Equal(t, run.Errored, got.Errored)
	assert.True(t, got.Cancelled)
}

func TestSQLiteStore_RecentRuns_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, kind := range []string{RunKindRebuild, RunKindUpdate, RunKindRemove} {
		require.NoError(t, store.RecordRun(ctx, Run{
			Kind:      kind,
			Folders:   []string{"/data"},
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := store.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunKindRemove, runs[0].Kind)
	assert.Equal(t, RunKindUpdate, runs[1].Kind)
}

func TestSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultDBName)

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(context.Background(), Run{Kind: RunKindCompact, StartedAt: time.Now()}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Folders)
}

func TestNewSQLiteStore_NilDB(t *testing.T) {
	_, err := NewSQLiteStore(nil)
	assert.Error(t, err)
}

// The schema is plain SQL, so it also runs on the CGO driver.
func TestInitSchema_CGODriver(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "cgo.db")+"?_journal_mode=WAL")
	require.NoError(t, err)
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}

	require.NoError(t, InitSchema(db))

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	b := batch("2026-01-06")
	b.Modes["content"] = 2
	require.NoError(t, store.SaveQueries(context.Background(), b))

	sum, err := store.Summary(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Modes["content"])

	// Close does not close a borrowed connection
	require.NoError(t, store.Close())
	assert.NoError(t, db.Ping())
}
