package cmd

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

func indexDocs(t *testing.T) (docs, indexDir string) {
	t.Helper()
	docs, indexDir = setupDocs(t)
	_, err := execute(t, "--index-dir", indexDir, "index", docs)
	require.NoError(t, err)
	return docs, indexDir
}

func TestSearchCmd_TextOutput(t *testing.T) {
	docs, indexDir := indexDocs(t)

	// When: searching for a content word
	out, err := execute(t, "--index-dir", indexDir, "search", "quarterly")

	// Then: the matching file is listed with its path
	require.NoError(t, err)
	assert.Contains(t, out, "report.txt")
	assert.Contains(t, out, filepath.Join(docs, "report.txt"))
	assert.NotContains(t, out, "notes.md")
}

func TestSearchCmd_JoinsArgs(t *testing.T) {
	docs, indexDir := indexDocs(t)

	// When: passing the query as several arguments
	out, err := execute(t, "--index-dir", indexDir, "search", "--format", "paths", "meeting", "budget")

	// Then: all words must match
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(docs, "notes.md"), strings.TrimSpace(out))
}

func TestSearchCmd_FilenameMode(t *testing.T) {
	docs, indexDir := indexDocs(t)

	// When: searching filenames for "report"
	out, err := execute(t, "--index-dir", indexDir, "search", "--mode", "filename", "--format", "paths", "report")

	// Then: both report files match by name
	require.NoError(t, err)
	paths := strings.Fields(out)
	assert.ElementsMatch(t, []string{
		filepath.Join(docs, "report.txt"),
		filepath.Join(docs, "archive", "old-report.txt"),
	}, paths)
}

func TestSearchCmd_ContentMode_IgnoresNames(t *testing.T) {
	_, indexDir := indexDocs(t)

	// When: searching content for a word that only appears in filenames
	out, err := execute(t, "--index-dir", indexDir, "search", "--mode", "content", "--format", "paths", "notes")

	// Then: the content of notes.md matches, not its name alone
	require.NoError(t, err)
	assert.Contains(t, out, "notes.md")

	out, err = execute(t, "--index-dir", indexDir, "search", "--mode", "content", "--format", "paths", "archive")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestSearchCmd_JSONOutput(t *testing.T) {
	_, indexDir := indexDocs(t)

	// When: searching with JSON output and a limit of one
	out, err := execute(t, "--index-dir", indexDir, "search", "--format", "json", "--mode", "filename", "--limit", "1", "report")

	// Then: the response carries the total and one result
	require.NoError(t, err)
	var resp searchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "report", resp.Query)
	assert.Equal(t, "filename", resp.Mode)
	assert.Equal(t, 2, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Greater(t, resp.Results[0].Score, 0.0)
}

func TestSearchCmd_NoMatches(t *testing.T) {
	_, indexDir := indexDocs(t)

	// When: searching for a word that is not indexed
	out, err := execute(t, "--index-dir", indexDir, "search", "zeppelin")

	// Then: a friendly message is printed
	require.NoError(t, err)
	assert.Contains(t, out, "No matches.")
}

func TestSearchCmd_EmptyIndex(t *testing.T) {
	home := isolate(t)

	// When: searching before anything was indexed
	out, err := execute(t, "--index-dir", filepath.Join(home, "index"), "search", "anything")

	// Then: there are simply no matches
	require.NoError(t, err)
	assert.Contains(t, out, "No matches.")
}

func TestSearchCmd_MalformedQuery_FallsBack(t *testing.T) {
	_, indexDir := indexDocs(t)

	// When: the query has unbalanced syntax
	_, err := execute(t, "--index-dir", indexDir, "search", `"quarterly (`)

	// Then: it is not an error
	assert.NoError(t, err)
}

func TestSearchCmd_InvalidFlags(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown mode", []string{"search", "--mode", "everything", "x"}},
		{"unknown format", []string{"search", "--format", "xml", "x"}},
		{"negative limit", []string{"search", "--limit", "-1", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: running search with a bad flag value
			_, err := execute(t, tt.args...)

			// Then: it fails as an invalid query
			require.Error(t, err)
			assert.Equal(t, amerrors.ErrCodeInvalidQuery, amerrors.GetCode(err))
		})
	}
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	isolate(t)

	// When: running search without a query
	_, err := execute(t, "search")

	// Then: argument validation fails
	assert.Error(t, err)
}

func TestSearchCmd_RecordsHistory(t *testing.T) {
	_, indexDir := indexDocs(t)

	// Given: one search with results and one without
	_, err := execute(t, "--index-dir", indexDir, "search", "quarterly")
	require.NoError(t, err)
	_, err = execute(t, "--index-dir", indexDir, "search", "--mode", "content", "xylophone")
	require.NoError(t, err)

	// Then: status reports both from the search history
	info := statusOf(t, indexDir)
	require.NotNil(t, info.Searches)
	assert.Equal(t, int64(2), info.Searches.Searches)
	assert.Equal(t, int64(1), info.Searches.Modes["content"])
	require.Len(t, info.Searches.Failing, 1)
	assert.Equal(t, "xylophone", info.Searches.Failing[0].Query)
}
