package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		path     string
		isDir    bool
		ignored  bool
		matched  bool
	}{
		{"extension at root", []string{"*.log"}, "error.log", false, true, true},
		{"extension nested", []string{"*.log"}, "logs/debug/error.log", false, true, true},
		{"no match", []string{"*.log"}, "notes.txt", false, false, false},
		{"star does not cross slash", []string{"docs/*.md"}, "docs/api/ref.md", false, false, false},
		{"inner slash anchors", []string{"docs/*.md"}, "docs/readme.md", false, true, true},
		{"inner slash not at depth", []string{"docs/*.md"}, "a/docs/readme.md", false, false, false},
		{"rooted", []string{"/build"}, "build", true, true, true},
		{"rooted not nested", []string{"/build"}, "src/build", true, false, false},
		{"unrooted name at depth", []string{"build"}, "src/build", true, true, true},
		{"dir only matches dir", []string{"tmp/"}, "a/tmp", true, true, true},
		{"dir only skips file", []string{"tmp/"}, "a/tmp", false, false, false},
		{"leading double star", []string{"**/cache"}, "x/y/cache", true, true, true},
		{"leading double star at root", []string{"**/cache"}, "cache", true, true, true},
		{"trailing double star", []string{"out/**"}, "out/a/b.bin", false, true, true},
		{"middle double star", []string{"a/**/b"}, "a/x/y/b", false, true, true},
		{"middle double star zero dirs", []string{"a/**/b"}, "a/b", false, true, true},
		{"question mark", []string{"file?.txt"}, "file1.txt", false, true, true},
		{"question mark needs one", []string{"file?.txt"}, "file.txt", false, false, false},
		{"class", []string{"[ab].txt"}, "b.txt", false, true, true},
		{"negated class", []string{"[!ab].txt"}, "a.txt", false, false, false},
		{"negated class matches", []string{"[!ab].txt"}, "c.txt", false, true, true},
		{"negation wins when last", []string{"*.log", "!keep.log"}, "keep.log", false, false, true},
		{"later rule overrides negation", []string{"!keep.log", "*.log"}, "keep.log", false, true, true},
		{"escaped hash", []string{`\#notes`}, "#notes", false, true, true},
		{"escaped bang", []string{`\!important`}, "!important", false, true, true},
		{"dots are literal", []string{"a.b"}, "axb", false, false, false},
		{"windows separators", []string{"docs/*.md"}, filepath.Join("docs", "a.md"), false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ignored, matched := New(tt.patterns...).Match(tt.path, tt.isDir)
			assert.Equal(t, tt.ignored, ignored, "ignored")
			assert.Equal(t, tt.matched, matched, "matched")
		})
	}
}

func TestNew_SkipsCommentsAndBlanks(t *testing.T) {
	// Given: comments, blank lines and one real pattern
	m := New("# comment", "", "   ", "*.tmp", "/")

	// Then: only the pattern is compiled
	assert.Equal(t, 1, m.Len())
}

func TestNew_SkipsInvalidPatterns(t *testing.T) {
	// Given: a pattern whose class cannot compile
	m := New("[z-a].txt", "*.bak")

	// Then: the valid pattern still works
	assert.Equal(t, 1, m.Len())
	ignored, _ := m.Match("x.bak", false)
	assert.True(t, ignored)
}

func TestNew_EscapedTrailingSpace(t *testing.T) {
	m := New(`name\ `)

	ignored, _ := m.Match("name ", false)
	assert.True(t, ignored)
	ignored, _ = m.Match("name", false)
	assert.False(t, ignored)
}

func TestParse(t *testing.T) {
	// Given: ignore file content
	content := "# drafts\ndrafts/\n*.swp\n!keep.swp\n"

	// When: parsing
	m, err := Parse(strings.NewReader(content))

	// Then: every rule is active
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	ignored, _ := m.Match("drafts", true)
	assert.True(t, ignored)
	ignored, matched := m.Match("keep.swp", false)
	assert.False(t, ignored)
	assert.True(t, matched)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".amanfindignore")
	require.NoError(t, os.WriteFile(path, []byte("*.log\n"), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
