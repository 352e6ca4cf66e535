package ui

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/telemetry"
)

func fixedStatusRenderer(buf *bytes.Buffer, now time.Time) *StatusRenderer {
	r := NewStatusRenderer(buf, true)
	r.now = func() time.Time { return now }
	return r
}

func TestStatusRenderer_Render(t *testing.T) {
	// Given: an index with history
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	info := StatusInfo{
		IndexDir:   "/data/index",
		Generation: 7,
		Documents:  12345,
		Deleted:    10,
		Segments:   3,
		SizeOnDisk: 5_000_000,
		LastCommit: now.Add(-2 * time.Hour),
		Folders:    []string{"/srv/docs"},
		Runs: []telemetry.Run{
			{Kind: telemetry.RunKindUpdate, StartedAt: now, Indexed: 3, Total: 4, Errored: 1, Duration: 2 * time.Second},
			{Kind: telemetry.RunKindRemove, StartedAt: now, Removed: 12},
			{Kind: telemetry.RunKindRebuild, StartedAt: now, Cancelled: true},
		},
	}
	buf := &bytes.Buffer{}

	// When: rendering
	require.NoError(t, fixedStatusRenderer(buf, now).Render(info))

	// Then: the human-readable fields are present
	out := buf.String()
	assert.Contains(t, out, "Index: /data/index")
	assert.Contains(t, out, "12,345")
	assert.Contains(t, out, "Deleted:     10")
	assert.Contains(t, out, "Segments:    3")
	assert.Contains(t, out, "5.0 MB")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "/srv/docs")
	assert.Contains(t, out, "3/4 indexed, 1 errored in 2s")
	assert.Contains(t, out, "12 removed")
	assert.Contains(t, out, "(cancelled)")
}

func TestStatusRenderer_Render_SearchHistory(t *testing.T) {
	// Given: a search history
	info := StatusInfo{
		IndexDir: "/x",
		Searches: &telemetry.SearchSummary{
			Searches: 1204,
			Modes:    map[string]int64{"content": 4, "all": 1200},
			TopTerms: []telemetry.TermUse{{Term: "report", Uses: 40}, {Term: "budget", Uses: 9}},
			Failing:  []telemetry.FailingQuery{{Query: "qwerty", Mode: "all", Times: 3}},
		},
	}
	buf := &bytes.Buffer{}

	// When: rendering
	require.NoError(t, NewStatusRenderer(buf, true).Render(info))

	// Then: totals, modes, top terms and failing queries are listed
	out := buf.String()
	assert.Contains(t, out, "Searches:    1,204 (all 1200, content 4)")
	assert.Contains(t, out, "Top terms:   report (40), budget (9)")
	assert.Contains(t, out, "qwerty")
	assert.Contains(t, out, "all, 3x")
}

func TestStatusRenderer_Render_NeverCommitted(t *testing.T) {
	buf := &bytes.Buffer{}

	require.NoError(t, NewStatusRenderer(buf, true).Render(StatusInfo{IndexDir: "/x"}))

	assert.Contains(t, buf.String(), "Last commit: never")
	assert.NotContains(t, buf.String(), "Deleted")
	assert.NotContains(t, buf.String(), "Searches")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	// Given: status info
	buf := &bytes.Buffer{}
	info := StatusInfo{IndexDir: "/x", Documents: 2, Runs: []telemetry.Run{{Kind: telemetry.RunKindCompact}}}

	// When: rendering JSON
	require.NoError(t, NewStatusRenderer(buf, false).RenderJSON(info))

	// Then: snake_case keys are used
	out := buf.String()
	assert.Contains(t, out, `"index_dir": "/x"`)
	assert.Contains(t, out, `"documents": 2`)
	assert.Contains(t, out, `"kind": "compact"`)
}

func TestStatusRenderer_FailedRun(t *testing.T) {
	buf := &bytes.Buffer{}
	info := StatusInfo{
		IndexDir: "/x",
		Runs:     []telemetry.Run{{Kind: telemetry.RunKindRebuild, Error: "disk full"}},
	}

	require.NoError(t, NewStatusRenderer(buf, true).Render(info))

	assert.Contains(t, buf.String(), "(failed: disk full)")
}
