package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Aman-CERP/amanfind/internal/analysis"
	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

// Sentinel errors. ErrIndexOpen and ErrWriterBusy match by error code, so the
// detailed errors returned by Open and BeginWrite satisfy errors.Is against them.
var (
	ErrIndexOpen  = amerrors.New(amerrors.ErrCodeCorruptIndex, "index open failed", nil)
	ErrWriterBusy = amerrors.New(amerrors.ErrCodeWriterBusy, "writer busy", nil)
	ErrClosed     = errors.New("store: closed")
)

// DefaultFlushDocs is the number of buffered documents that triggers a segment flush.
const DefaultFlushDocs = 5000

// Option configures an Index.
type Option func(*Index)

// WithAnalyzer sets the analyzer used for documents. Defaults to
// analysis.DefaultFieldConfig.
func WithAnalyzer(a *analysis.Analyzer) Option {
	return func(idx *Index) {
		idx.analyzer = a
	}
}

// WithFlushDocs sets the writer buffer size in documents.
func WithFlushDocs(n int) Option {
	return func(idx *Index) {
		if n > 0 {
			idx.flushDocs = n
		}
	}
}

// liveSegment is a committed segment with its frozen deletion bitmap.
type liveSegment struct {
	seg     *segment
	deleted *roaring.Bitmap
	delGen  uint64
}

func (ls liveSegment) isDeleted(doc uint32) bool {
	return ls.deleted != nil && ls.deleted.Contains(doc)
}

func (ls liveSegment) liveDocs() uint64 {
	if ls.deleted == nil {
		return uint64(ls.seg.numDocs)
	}
	return uint64(ls.seg.numDocs) - ls.deleted.GetCardinality()
}

// snapshot is one committed generation. The index holds a reference to the
// current snapshot and every open Reader holds one to its own.
type snapshot struct {
	idx        *Index
	generation uint64
	committed  time.Time
	segs       []liveSegment
	refs       atomic.Int32
}

func (s *snapshot) release() {
	if s.refs.Add(-1) != 0 {
		return
	}
	for _, ls := range s.segs {
		s.idx.releaseSegment(ls.seg)
	}
}

// Index is an open index directory.
type Index struct {
	dir       string
	analyzer  *analysis.Analyzer
	flushDocs int

	mu          sync.Mutex
	current     *snapshot
	open        map[uint64]*segment
	live        map[uint64]bool
	nextSegment uint64
	closed      bool

	writeMu sync.Mutex
	lock    *writeLock
}

// Open opens the index in dir, creating an empty one if none exists.
// Unreadable manifests and corrupt segments fail with ErrIndexOpen.
func Open(dir string, opts ...Option) (*Index, error) {
	idx := &Index{
		dir:       dir,
		flushDocs: DefaultFlushDocs,
		open:      make(map[uint64]*segment),
		live:      make(map[uint64]bool),
		lock:      newWriteLock(dir),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.analyzer == nil {
		a, err := analysis.New(analysis.DefaultFieldConfig())
		if err != nil {
			return nil, err
		}
		idx.analyzer = a
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, amerrors.CorruptIndex(dir, fmt.Errorf("failed to create index directory: %w", err))
	}

	m, err := readManifest(dir)
	if err != nil {
		return nil, amerrors.CorruptIndex(dir, err)
	}

	idx.mu.Lock()
	snap, err := idx.loadSnapshotLocked(m)
	if err == nil {
		idx.installLocked(snap, m)
	}
	idx.mu.Unlock()
	if err != nil {
		return nil, amerrors.CorruptIndex(dir, err)
	}

	// Only clean up when no other process is writing into the directory.
	if ok, err := idx.lock.tryLock(); err == nil && ok {
		idx.removeObsolete()
		_ = idx.lock.unlock()
	}

	slog.Debug("index_opened",
		slog.String("dir", dir),
		slog.Uint64("generation", m.Generation),
		slog.Int("segments", len(m.Segments)))
	return idx, nil
}

// Dir returns the index directory.
func (idx *Index) Dir() string {
	return idx.dir
}

// Analyzer returns the analyzer documents are indexed with.
func (idx *Index) Analyzer() *analysis.Analyzer {
	return idx.analyzer
}

// loadSnapshotLocked builds a snapshot for m, reusing segments that are already open.
func (idx *Index) loadSnapshotLocked(m *manifest) (*snapshot, error) {
	snap := &snapshot{idx: idx, generation: m.Generation, committed: m.CommittedAt}
	acquired := make([]*segment, 0, len(m.Segments))
	fail := func(err error) (*snapshot, error) {
		for _, seg := range acquired {
			idx.releaseSegmentLocked(seg)
		}
		return nil, err
	}

	for _, ms := range m.Segments {
		seg := idx.open[ms.ID]
		if seg == nil {
			var err error
			seg, err = openSegment(filepath.Join(idx.dir, segmentFileName(ms.ID)), ms.ID)
			if err != nil {
				return fail(err)
			}
			if seg.numDocs != ms.Docs {
				_ = seg.close()
				return fail(fmt.Errorf("segment %d: manifest lists %d docs, file has %d", ms.ID, ms.Docs, seg.numDocs))
			}
			idx.open[ms.ID] = seg
		}
		seg.refs++
		acquired = append(acquired, seg)

		ls := liveSegment{seg: seg, delGen: ms.DelGen}
		if ms.DelGen > 0 {
			bm, err := readDeletions(filepath.Join(idx.dir, deletionFileName(ms.ID, ms.DelGen)))
			if err != nil {
				return fail(err)
			}
			ls.deleted = bm
		}
		snap.segs = append(snap.segs, ls)
	}
	snap.refs.Store(1)
	return snap, nil
}

// installLocked makes snap current and returns the snapshot it replaced.
func (idx *Index) installLocked(snap *snapshot, m *manifest) *snapshot {
	old := idx.current
	idx.current = snap
	idx.live = make(map[uint64]bool, len(m.Segments))
	for _, ms := range m.Segments {
		idx.live[ms.ID] = true
	}
	if m.NextSegment > idx.nextSegment {
		idx.nextSegment = m.NextSegment
	}
	return old
}

// reload picks up a manifest committed by another process.
func (idx *Index) reload() error {
	m, err := readManifest(idx.dir)
	if err != nil {
		return amerrors.CorruptIndex(idx.dir, err)
	}

	idx.mu.Lock()
	if idx.current != nil && idx.current.generation == m.Generation {
		idx.mu.Unlock()
		return nil
	}
	snap, err := idx.loadSnapshotLocked(m)
	var old *snapshot
	if err == nil {
		old = idx.installLocked(snap, m)
	}
	idx.mu.Unlock()

	if err != nil {
		return amerrors.CorruptIndex(idx.dir, err)
	}
	if old != nil {
		old.release()
	}
	slog.Debug("index_reloaded", slog.Uint64("generation", m.Generation))
	return nil
}

// Refresh reloads the manifest if another process committed since it was read.
func (idx *Index) Refresh() error {
	idx.mu.Lock()
	closed := idx.closed
	idx.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return idx.reload()
}

func (idx *Index) acquireSegmentLocked(seg *segment) {
	seg.refs++
}

func (idx *Index) releaseSegment(seg *segment) {
	idx.mu.Lock()
	idx.releaseSegmentLocked(seg)
	idx.mu.Unlock()
}

// releaseSegmentLocked drops one reference. The last holder closes the segment
// and, when no committed manifest lists it, removes the file.
func (idx *Index) releaseSegmentLocked(seg *segment) {
	seg.refs--
	if seg.refs > 0 {
		return
	}
	delete(idx.open, seg.id)
	live := idx.live[seg.id]
	if err := seg.close(); err != nil {
		slog.Warn("segment_close_failed", slog.Uint64("segment", seg.id), slog.String("error", err.Error()))
	}
	if live {
		return
	}
	if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("segment_remove_failed", slog.String("path", seg.path), slog.String("error", err.Error()))
	}
}

// registerSegment opens a freshly written segment, owned by the caller.
func (idx *Index) registerSegment(path string, id uint64) (*segment, error) {
	seg, err := openSegment(path, id)
	if err != nil {
		return nil, err
	}
	idx.mu.Lock()
	seg.refs = 1
	idx.open[id] = seg
	idx.mu.Unlock()
	return seg, nil
}

func (idx *Index) allocSegmentID() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for {
		id := idx.nextSegment
		idx.nextSegment++
		if _, err := os.Stat(filepath.Join(idx.dir, segmentFileName(id))); errors.Is(err, os.ErrNotExist) {
			return id
		}
	}
}

// removeObsolete deletes segment and deletion files that no manifest or open
// handle references, plus temp files left behind by interrupted writes.
// Callers must hold the write lock.
func (idx *Index) removeObsolete() {
	entries, err := os.ReadDir(idx.dir)
	if err != nil {
		return
	}

	idx.mu.Lock()
	keepDel := make(map[string]bool)
	if idx.current != nil {
		for _, ls := range idx.current.segs {
			if ls.delGen > 0 {
				keepDel[deletionFileName(ls.seg.id, ls.delGen)] = true
			}
		}
	}
	keepSeg := make(map[uint64]bool, len(idx.open)+len(idx.live))
	for id := range idx.open {
		keepSeg[id] = true
	}
	for id := range idx.live {
		keepSeg[id] = true
	}
	idx.mu.Unlock()

	for _, e := range entries {
		name := e.Name()
		var remove bool
		switch {
		case strings.HasPrefix(name, ".seg_") || strings.HasPrefix(name, "."+manifestName):
			remove = true
		default:
			id, gen, ok := parseIndexFile(name)
			if !ok {
				continue
			}
			if gen > 0 {
				remove = !keepDel[name]
			} else {
				remove = !keepSeg[id]
			}
		}
		if !remove {
			continue
		}
		if err := os.Remove(filepath.Join(idx.dir, name)); err != nil {
			slog.Warn("obsolete_file_remove_failed", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		slog.Debug("obsolete_file_removed", slog.String("file", name))
	}
}

// BeginWrite opens the single writer of the index. It never blocks: when another
// writer exists in this or another process it fails with ErrWriterBusy.
func (idx *Index) BeginWrite(ctx context.Context, mode Mode) (*Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx.mu.Lock()
	closed := idx.closed
	idx.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if !idx.writeMu.TryLock() {
		return nil, amerrors.WriterBusy(idx.dir)
	}
	ok, err := idx.lock.tryLock()
	if err != nil {
		idx.writeMu.Unlock()
		return nil, err
	}
	if !ok {
		idx.writeMu.Unlock()
		return nil, amerrors.WriterBusy(idx.dir)
	}

	if err := idx.reload(); err != nil {
		idx.unlockWriter()
		return nil, err
	}

	w := &Writer{
		idx:     idx,
		mode:    mode,
		bufKeys: make(map[string][]int),
	}
	if mode == ModeCreate {
		// An empty commit still replaces the old index.
		w.changed = true
	} else {
		idx.mu.Lock()
		for _, ls := range idx.current.segs {
			idx.acquireSegmentLocked(ls.seg)
			ws := &writerSegment{seg: ls.seg, delGen: ls.delGen}
			if ls.deleted != nil {
				ws.deleted = ls.deleted.Clone()
			}
			w.segs = append(w.segs, ws)
		}
		idx.mu.Unlock()
	}

	slog.Debug("writer_opened", slog.String("mode", mode.String()))
	return w, nil
}

func (idx *Index) unlockWriter() {
	if err := idx.lock.unlock(); err != nil {
		slog.Warn("write_lock_release_failed", slog.String("error", err.Error()))
	}
	idx.writeMu.Unlock()
}

// OpenReader returns a snapshot of the last committed generation. It is
// unaffected by later commits; open a new reader to see them.
func (idx *Index) OpenReader() (*Reader, error) {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil, ErrClosed
	}
	snap := idx.current
	snap.refs.Add(1)
	idx.mu.Unlock()

	return newReader(snap), nil
}

// Stats describes the committed index.
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	snap := idx.current
	idx.mu.Unlock()

	st := Stats{
		Segments:   len(snap.segs),
		Generation: snap.generation,
		LastCommit: snap.committed,
	}
	for _, ls := range snap.segs {
		st.Documents += ls.liveDocs()
		st.Deleted += uint64(ls.seg.numDocs) - ls.liveDocs()
		st.SizeOnDisk += ls.seg.size
	}
	return st
}

// Close releases the index. Open readers and writers keep their segments until
// they are closed.
func (idx *Index) Close() error {
	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		return nil
	}
	idx.closed = true
	snap := idx.current
	idx.mu.Unlock()

	snap.release()
	return nil
}
