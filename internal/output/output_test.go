package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/search"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Searching...")

	// Then: output contains icon and message
	assert.Equal(t, "🔍 Searching...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Icons(t *testing.T) {
	// Given: a writer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing each kind
	w.Successf("Indexed %d files", 3)
	w.Warningf("Folder not found: %s", "/x")
	w.Errorf("failed: %v", "boom")

	// Then: icons and messages appear in order
	out := buf.String()
	assert.Contains(t, out, "✅ Indexed 3 files")
	assert.Contains(t, out, "⚠️  Folder not found: /x")
	assert.Contains(t, out, "❌ failed: boom")
}

func TestWriter_Code_IndentsLines(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("a\nb")

	assert.Equal(t, "\n  a\n  b\n\n", buf.String())
}

func fixedWriter(buf *bytes.Buffer, now time.Time) *Writer {
	w := New(buf)
	w.now = func() time.Time { return now }
	return w
}

func TestWriter_Results(t *testing.T) {
	// Given: two ranked results
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	results := []search.Result{
		{Path: "/docs/report.pdf", Filename: "report.pdf", FileType: "pdf", Score: 4.2, MaxScore: 4.2, Size: 12_000, ModTime: now.Add(-72 * time.Hour)},
		{Path: "/docs/notes.txt", Filename: "notes.txt", FileType: "text", Score: 2.1, MaxScore: 4.2, Size: 10},
	}
	buf := &bytes.Buffer{}

	// When: printing with more matches than shown
	fixedWriter(buf, now).Results(results, 40)

	// Then: ranks, paths, details and the truncation note are shown
	out := buf.String()
	assert.Contains(t, out, "1. ██████████ report.pdf")
	assert.Contains(t, out, "2. █████░░░░░ notes.txt")
	assert.Contains(t, out, "/docs/report.pdf")
	assert.Contains(t, out, "12 kB · pdf · modified 3 days ago · score 4.200")
	assert.Contains(t, out, "10 B · text · score 2.100")
	assert.Contains(t, out, "Showing 2 of 40 matches.")
}

func TestWriter_Results_Empty(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Results(nil, 0)

	assert.Equal(t, "No matches.\n", buf.String())
}

func TestWriter_Paths(t *testing.T) {
	buf := &bytes.Buffer{}

	New(buf).Paths([]search.Result{{Path: "/a"}, {Path: "/b"}})

	assert.Equal(t, "/a\n/b\n", buf.String())
}

func TestWriter_JSON(t *testing.T) {
	// Given: results
	buf := &bytes.Buffer{}
	results := []search.Result{{Path: "/a/b.txt", Filename: "b.txt", Score: 1.5}}

	// When: encoding
	require.NoError(t, New(buf).JSON(results))

	// Then: JSON uses the result tags
	out := buf.String()
	assert.Contains(t, out, `"path": "/a/b.txt"`)
	assert.Contains(t, out, `"score": 1.5`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestRenderScoreBar(t *testing.T) {
	assert.Equal(t, "░░░░", renderScoreBar(0, 4))
	assert.Equal(t, "██░░", renderScoreBar(0.5, 4))
	assert.Equal(t, "████", renderScoreBar(1.7, 4))
	assert.Equal(t, "░░░░", renderScoreBar(-1, 4))
}
