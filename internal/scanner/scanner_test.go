package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
}

func walkAll(t *testing.T, w *Walker, root string) []string {
	t.Helper()
	var got []string
	err := w.Walk(context.Background(), root, func(path string) error {
		rel, err := filepath.Rel(root, path)
		require.NoError(t, err)
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(got)
	return got
}

func TestWalk_PrunesSkipNamesAtAnyDepth(t *testing.T) {
	// Given: a tree with skip-named folders at several depths
	root := t.TempDir()
	writeTree(t, root,
		"a.txt",
		"docs/b.md",
		"node_modules/pkg/index.js",
		"docs/node_modules/c.js",
		"Build/out.bin",
		"builder/keep.txt",
	)
	w := New(Options{SkipNames: []string{"node_modules", "build"}})

	// Then: whole subtrees are pruned by name, case-insensitively, not by prefix
	assert.Equal(t, []string{"a.txt", "builder/keep.txt", "docs/b.md"}, walkAll(t, w, root))
}

func TestWalk_SkipsHiddenDirectoriesByDefault(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, ".cache/x.txt", "visible/.hidden.txt")

	assert.Equal(t, []string{"visible/.hidden.txt"}, walkAll(t, New(Options{}), root))
	assert.Equal(t, []string{".cache/x.txt", "visible/.hidden.txt"}, walkAll(t, New(Options{IncludeHidden: true}), root))
}

func TestWalk_DoesNotFollowSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeTree(t, root, "real.txt")
	writeTree(t, outside, "secret.txt")
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	assert.Equal(t, []string{"real.txt"}, walkAll(t, New(Options{}), root))
}

func TestWalk_MissingRoot(t *testing.T) {
	w := New(Options{})

	err := w.Walk(context.Background(), filepath.Join(t.TempDir(), "missing"), func(string) error { return nil })

	assert.ErrorIs(t, err, ErrRootNotFound)
}

func TestWalk_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/1.txt", "a/2.txt", "b/3.txt", "c/4.txt")
	ctx, cancel := context.WithCancel(context.Background())

	// When: cancelling after the first file
	seen := 0
	err := New(Options{}).Walk(ctx, root, func(string) error {
		seen++
		cancel()
		return nil
	})

	// Then: the walk returns the context error promptly
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, seen)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt")
	stop := errors.New("stop")

	err := New(Options{}).Walk(context.Background(), root, func(string) error { return stop })

	assert.ErrorIs(t, err, stop)
}

func TestCount_SumsRootsAndIgnoresMissing(t *testing.T) {
	r1 := t.TempDir()
	r2 := t.TempDir()
	writeTree(t, r1, "a.txt", "b/c.txt", ".git/objects/x")
	writeTree(t, r2, "d.txt")
	w := New(Options{SkipNames: DefaultSkipNames})

	total, err := w.Count(context.Background(), []string{r1, r2, filepath.Join(r2, "nope")})

	require.NoError(t, err)
	assert.Equal(t, uint64(3), total)
}

func TestWalk_ExcludeDirsByPath(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "index/seg_1.fsi", "docs/index/keep.txt")
	w := New(Options{ExcludeDirs: []string{filepath.Join(root, "index")}})

	// Then: only the exact directory is pruned, not others with the same name
	assert.Equal(t, []string{"a.txt", "docs/index/keep.txt"}, walkAll(t, w, root))
}

func writeIgnore(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".amanfindignore"), []byte(content), 0o644))
}

func TestWalk_IgnoreFiles(t *testing.T) {
	// Given: a root ignore file and a nested one that re-includes a file
	root := t.TempDir()
	writeTree(t, root,
		"a.txt",
		"debug.log",
		"drafts/d.txt",
		"src/keep.log",
		"src/other.log",
		"src/build/out.txt",
	)
	writeIgnore(t, root, "*.log\ndrafts/\n/build\n")
	writeIgnore(t, filepath.Join(root, "src"), "!keep.log\nbuild/\n")
	w := New(Options{IgnoreFiles: []string{".amanfindignore"}})

	// Then: the deeper file wins for src and the ignore files are not yielded
	assert.Equal(t, []string{"a.txt", "src/keep.log"}, walkAll(t, w, root))
}

func TestWalk_IgnoreFilesDisabled(t *testing.T) {
	// Given: an ignore file that is not configured
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.log")
	writeIgnore(t, root, "*.log\n")

	// Then: every file is yielded
	assert.Equal(t, []string{".amanfindignore", "a.txt", "b.log"}, walkAll(t, New(Options{}), root))
}

func TestWalk_RootedPatternInSubdirectory(t *testing.T) {
	// Given: a rooted pattern in a nested ignore file
	root := t.TempDir()
	writeTree(t, root, "tmp/a.txt", "docs/tmp/b.txt", "docs/x/tmp/c.txt")
	writeIgnore(t, filepath.Join(root, "docs"), "/tmp/\n")
	w := New(Options{IgnoreFiles: []string{".amanfindignore"}})

	// Then: only the tmp directly under docs is pruned
	assert.Equal(t, []string{"docs/x/tmp/c.txt", "tmp/a.txt"}, walkAll(t, w, root))
}
