package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blevesearch/vellum/levenshtein"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

func testDoc(path, content string) Document {
	return Document{
		Path:       path,
		Filename:   filepath.Base(path),
		Size:       int64(len(content)),
		ModTime:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		FileType:   filepath.Ext(path)[1:],
		Content:    content,
		HasContent: content != "",
	}
}

func openTestIndex(t *testing.T, dir string, opts ...Option) *Index {
	t.Helper()
	idx, err := Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func writeDocs(t *testing.T, idx *Index, mode Mode, docs ...Document) {
	t.Helper()
	w, err := idx.BeginWrite(context.Background(), mode)
	require.NoError(t, err)
	for _, d := range docs {
		require.NoError(t, w.Update(d.Path, d))
	}
	require.NoError(t, w.Close())
}

func openTestReader(t *testing.T, idx *Index) *Reader {
	t.Helper()
	r, err := idx.OpenReader()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func pathsFor(t *testing.T, r *Reader, field, term string) []string {
	t.Helper()
	postings, err := r.Postings(field, term)
	require.NoError(t, err)
	var out []string
	for _, p := range postings {
		doc, err := r.Document(p.Doc)
		require.NoError(t, err)
		out = append(out, doc.Path)
	}
	return out
}

func TestOpen_EmptyDirectory(t *testing.T) {
	// Given: a fresh directory
	idx := openTestIndex(t, t.TempDir())

	// Then: the index is empty
	r := openTestReader(t, idx)
	assert.Equal(t, uint64(0), r.NumDocs())
	assert.Equal(t, uint64(0), r.Generation())
	postings, err := r.Postings(analysis.FieldContent, "anything")
	require.NoError(t, err)
	assert.Empty(t, postings)
}

func TestWriter_AddCommitRead(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())

	// Given: two documents committed
	writeDocs(t, idx, ModeCreate,
		testDoc("/docs/report_final.docx", "quarterly report"),
		testDoc("/docs/notes.txt", "meeting notes"))

	// When: reading the index
	r := openTestReader(t, idx)

	// Then: both are visible with their stored fields
	assert.Equal(t, uint64(2), r.NumDocs())
	assert.Equal(t, []string{"/docs/report_final.docx"}, pathsFor(t, r, analysis.FieldContent, "quarterly"))
	assert.Equal(t, []string{"/docs/notes.txt"}, pathsFor(t, r, analysis.FieldFilenameNgram, "ote"))
	assert.Equal(t, []string{"/docs/report_final.docx"}, pathsFor(t, r, analysis.FieldFiletype, "docx"))

	postings, err := r.Postings(analysis.FieldFilename, "report")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	doc, err := r.Document(postings[0].Doc)
	require.NoError(t, err)
	assert.Equal(t, "report_final.docx", doc.Filename)
	assert.Equal(t, int64(len("quarterly report")), doc.Size)
	assert.True(t, doc.HasContent)
	assert.Empty(t, doc.Content, "content is indexed, not stored")
	assert.Equal(t, []uint32{1}, postings[0].Positions)
}

func TestReader_IsSnapshot(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	writeDocs(t, idx, ModeCreate, testDoc("/a/one.txt", "alpha"))

	// Given: a reader opened before a second commit
	before := openTestReader(t, idx)
	writeDocs(t, idx, ModeAppend, testDoc("/a/two.txt", "alpha"))

	// Then: the old reader still sees one doc; a new reader sees two
	assert.Len(t, pathsFor(t, before, analysis.FieldContent, "alpha"), 1)
	after := openTestReader(t, idx)
	assert.Len(t, pathsFor(t, after, analysis.FieldContent, "alpha"), 2)
	assert.Greater(t, after.Generation(), before.Generation())
}

func TestWriter_UncommittedChangesInvisible(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), WithFlushDocs(1))
	writeDocs(t, idx, ModeCreate, testDoc("/a/old.txt", "legacy"))

	// Given: a rebuild in progress that has flushed segments
	w, err := idx.BeginWrite(context.Background(), ModeCreate)
	require.NoError(t, err)
	require.NoError(t, w.Add(testDoc("/a/new.txt", "fresh")))
	require.NoError(t, w.Add(testDoc("/a/newer.txt", "fresh")))

	// Then: readers still see the old index only
	r := openTestReader(t, idx)
	assert.Equal(t, []string{"/a/old.txt"}, pathsFor(t, r, analysis.FieldContent, "legacy"))
	assert.Empty(t, pathsFor(t, r, analysis.FieldContent, "fresh"))

	// When: the rebuild commits
	require.NoError(t, w.Close())

	// Then: the old index is gone
	r2 := openTestReader(t, idx)
	assert.Empty(t, pathsFor(t, r2, analysis.FieldContent, "legacy"))
	assert.Len(t, pathsFor(t, r2, analysis.FieldContent, "fresh"), 2)
}

func TestWriter_UpdateReplaces(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	writeDocs(t, idx, ModeCreate, testDoc("/a/file.txt", "first version"))

	// When: updating the same path twice, once within one writer
	writeDocs(t, idx, ModeAppend,
		testDoc("/a/file.txt", "second version"),
		testDoc("/a/file.txt", "third version"))

	// Then: exactly one live document remains
	r := openTestReader(t, idx)
	assert.Equal(t, uint64(1), r.NumDocs())
	assert.Empty(t, pathsFor(t, r, analysis.FieldContent, "first"))
	assert.Empty(t, pathsFor(t, r, analysis.FieldContent, "second"))
	assert.Equal(t, []string{"/a/file.txt"}, pathsFor(t, r, analysis.FieldContent, "third"))
	// And: the fully deleted segment is dropped on commit
	st := idx.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, uint64(0), st.Deleted)
}

func TestWriter_DeleteAndPrefixLookup(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	writeDocs(t, idx, ModeCreate,
		testDoc("/root/keep/a.txt", "shared"),
		testDoc("/root/drop/b.txt", "shared"),
		testDoc("/root/drop/sub/c.txt", "shared"),
		testDoc("/root/dropper/d.txt", "shared"))

	r := openTestReader(t, idx)
	keys, err := r.LookupByPathPrefix("/root/drop/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/root/drop/b.txt", "/root/drop/sub/c.txt"}, keys)

	// When: deleting the keys
	w, err := idx.BeginWrite(context.Background(), ModeAppend)
	require.NoError(t, err)
	for _, k := range keys {
		require.NoError(t, w.Delete(k))
	}
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())

	// Then: only documents outside the folder remain
	r2 := openTestReader(t, idx)
	assert.ElementsMatch(t, []string{"/root/keep/a.txt", "/root/dropper/d.txt"}, pathsFor(t, r2, analysis.FieldContent, "shared"))
	left, err := r2.LookupByPathPrefix("/root/drop/")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestBeginWrite_SecondWriterIsBusy(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())

	w, err := idx.BeginWrite(context.Background(), ModeAppend)
	require.NoError(t, err)

	// When: a second writer is requested
	_, err = idx.BeginWrite(context.Background(), ModeAppend)

	// Then: it fails immediately with ErrWriterBusy
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriterBusy))

	// And: once the first writer closes, writing is possible again
	require.NoError(t, w.Close())
	w2, err := idx.BeginWrite(context.Background(), ModeAppend)
	require.NoError(t, err)
	require.NoError(t, w2.Rollback())
}

func TestBeginWrite_BusyAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	first := openTestIndex(t, dir)
	second := openTestIndex(t, dir)

	w, err := first.BeginWrite(context.Background(), ModeAppend)
	require.NoError(t, err)
	defer func() { _ = w.Rollback() }()

	_, err = second.BeginWrite(context.Background(), ModeAppend)
	assert.ErrorIs(t, err, ErrWriterBusy)
}

func TestWriter_RollbackDiscards(t *testing.T) {
	dir := t.TempDir()
	idx := openTestIndex(t, dir, WithFlushDocs(1))

	w, err := idx.BeginWrite(context.Background(), ModeCreate)
	require.NoError(t, err)
	require.NoError(t, w.Add(testDoc("/a/x.txt", "ghost")))
	require.NoError(t, w.Rollback())

	r := openTestReader(t, idx)
	assert.Equal(t, uint64(0), r.NumDocs())

	// Then: the flushed but uncommitted segment file is removed
	matches, err := filepath.Glob(filepath.Join(dir, "seg_*.fsi"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWriter_ConcurrentUpdates(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), WithFlushDocs(7))
	w, err := idx.BeginWrite(context.Background(), ModeCreate)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				d := testDoc(fmt.Sprintf("/c/%d/%d.txt", g, i), "concurrent words")
				assert.NoError(t, w.Update(d.Path, d))
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	r := openTestReader(t, idx)
	assert.Equal(t, uint64(100), r.NumDocs())
	assert.Len(t, pathsFor(t, r, analysis.FieldContent, "concurrent"), 100)
}

func TestWriter_CompactMergesSegments(t *testing.T) {
	idx := openTestIndex(t, t.TempDir(), WithFlushDocs(2))

	// Given: several segments and a deletion
	var docs []Document
	for i := 0; i < 7; i++ {
		docs = append(docs, testDoc(fmt.Sprintf("/m/file%d.txt", i), fmt.Sprintf("common word%d", i)))
	}
	writeDocs(t, idx, ModeCreate, docs...)
	require.Greater(t, idx.Stats().Segments, 1)

	w, err := idx.BeginWrite(context.Background(), ModeAppend)
	require.NoError(t, err)
	require.NoError(t, w.Delete("/m/file3.txt"))

	// When: compacting
	require.NoError(t, w.Compact(context.Background()))
	require.NoError(t, w.Close())

	// Then: one segment, deleted doc dropped, postings intact
	st := idx.Stats()
	assert.Equal(t, 1, st.Segments)
	assert.Equal(t, uint64(6), st.Documents)
	assert.Equal(t, uint64(0), st.Deleted)

	r := openTestReader(t, idx)
	assert.Len(t, pathsFor(t, r, analysis.FieldContent, "common"), 6)
	assert.Empty(t, pathsFor(t, r, analysis.FieldContent, "word3"))
	assert.Equal(t, []string{"/m/file5.txt"}, pathsFor(t, r, analysis.FieldContent, "word5"))

	postings, err := r.Postings(analysis.FieldContent, "word5")
	require.NoError(t, err)
	require.Len(t, postings, 1)
	assert.Equal(t, []uint32{2}, postings[0].Positions)
	assert.Equal(t, uint32(2), r.FieldLength(analysis.FieldContent, postings[0].Doc))
}

func TestIndex_ReopenPersists(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	require.NoError(t, err)
	writeDocs(t, idx, ModeCreate, testDoc("/p/persist.txt", "durable"))
	require.NoError(t, idx.Close())

	// When: reopening
	idx2 := openTestIndex(t, dir)

	// Then: the committed document is still there
	r := openTestReader(t, idx2)
	assert.Equal(t, []string{"/p/persist.txt"}, pathsFor(t, r, analysis.FieldContent, "durable"))
}

func TestOpen_CorruptSegment(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	require.NoError(t, err)
	writeDocs(t, idx, ModeCreate, testDoc("/p/file.txt", "bits"))
	require.NoError(t, idx.Close())

	// Given: a flipped byte in the segment body
	matches, err := filepath.Glob(filepath.Join(dir, "seg_*.fsi"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	data[headerSize+2] ^= 0xff
	require.NoError(t, os.WriteFile(matches[0], data, 0o644))

	// Then: Open fails with ErrIndexOpen
	_, err = Open(dir)
	assert.ErrorIs(t, err, ErrIndexOpen)
}

func TestOpen_CorruptManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestName), []byte("{not json"), 0o644))

	_, err := Open(dir)
	assert.ErrorIs(t, err, ErrIndexOpen)
}

func TestOpen_RemovesObsoleteFiles(t *testing.T) {
	dir := t.TempDir()
	stray := filepath.Join(dir, segmentFileName(99))
	require.NoError(t, os.WriteFile(stray, []byte("partial"), 0o644))

	_ = openTestIndex(t, dir)

	_, err := os.Stat(stray)
	assert.True(t, os.IsNotExist(err))
}

func TestReader_FieldStatsIgnoreDeleted(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	writeDocs(t, idx, ModeCreate,
		testDoc("/s/a.txt", "one two three"),
		testDoc("/s/b.txt", "one"))
	writeDocs(t, idx, ModeAppend, testDoc("/s/a.txt", "one two"))

	r := openTestReader(t, idx)
	st := r.FieldStats(analysis.FieldContent)
	assert.Equal(t, uint64(2), st.DocCount)
	assert.Equal(t, uint64(3), st.SumLength)
	assert.InDelta(t, 1.5, st.AvgLength(), 1e-9)
}

func TestReader_TermsWithAutomaton(t *testing.T) {
	idx := openTestIndex(t, t.TempDir())
	writeDocs(t, idx, ModeCreate,
		testDoc("/t/config.yaml", "configuration"),
		testDoc("/t/confirm.txt", "confirm"))

	lb, err := levenshtein.NewLevenshteinAutomatonBuilder(1, false)
	require.NoError(t, err)
	dfa, err := lb.BuildDfa("confog", 1)
	require.NoError(t, err)

	r := openTestReader(t, idx)
	terms, err := r.Terms(analysis.FieldFilename, dfa)
	require.NoError(t, err)
	assert.Equal(t, []string{"config"}, terms)

	all, err := r.Terms(analysis.FieldFiletype, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"txt", "yaml"}, all)
}

func TestIndex_StatsAndClosed(t *testing.T) {
	idx, err := Open(t.TempDir())
	require.NoError(t, err)
	writeDocs(t, idx, ModeCreate, testDoc("/x/a.txt", "a"), testDoc("/x/b.txt", "b"))

	st := idx.Stats()
	assert.Equal(t, uint64(2), st.Documents)
	assert.Equal(t, uint64(1), st.Generation)
	assert.Positive(t, st.SizeOnDisk)
	assert.False(t, st.LastCommit.IsZero())

	require.NoError(t, idx.Close())
	_, err = idx.OpenReader()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = idx.BeginWrite(context.Background(), ModeAppend)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("/a0"), prefixEnd([]byte("/a/")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a\xff")))
	assert.Nil(t, prefixEnd([]byte("\xff\xff")))
}
