package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

// writerSegment is a segment as the writer sees it: its own deletion bitmap,
// which only becomes visible to readers on commit.
type writerSegment struct {
	seg     *segment
	deleted *roaring.Bitmap
	delGen  uint64
	dirty   bool
}

func (ws *writerSegment) delete(doc uint32) bool {
	if ws.deleted == nil {
		ws.deleted = roaring.New()
	}
	if ws.deleted.CheckedAdd(doc) {
		ws.dirty = true
		return true
	}
	return false
}

func (ws *writerSegment) liveDocs() uint64 {
	if ws.deleted == nil {
		return uint64(ws.seg.numDocs)
	}
	return uint64(ws.seg.numDocs) - ws.deleted.GetCardinality()
}

// fieldTerms is one analyzed field of one document.
type fieldTerms struct {
	length uint32
	terms  map[string][]uint32
}

// analyzedDoc is a document ready to be written into a segment.
type analyzedDoc struct {
	path   string
	stored []byte
	fields map[string]*fieldTerms
}

// Writer mutates the index. Add, Update and Delete are safe for concurrent use;
// analysis runs outside the writer mutex. Nothing is visible to readers until
// Commit.
type Writer struct {
	idx  *Index
	mode Mode

	mu      sync.Mutex
	segs    []*writerSegment
	buf     []*analyzedDoc
	bufKeys map[string][]int
	bufLive int
	changed bool
	closed  bool
}

// Mode returns the mode the writer was opened with.
func (w *Writer) Mode() Mode {
	return w.mode
}

func (w *Writer) analyze(doc Document) (*analyzedDoc, error) {
	stored, err := encodeStored(&doc)
	if err != nil {
		return nil, err
	}
	ad := &analyzedDoc{
		path:   doc.Path,
		stored: stored,
		fields: make(map[string]*fieldTerms),
	}

	a := w.idx.analyzer
	for _, field := range a.Fields() {
		text := fieldText(&doc, field)
		if text == "" {
			continue
		}
		ft := &fieldTerms{terms: make(map[string][]uint32)}
		lastPos := -1
		for tok := range a.Analyze(field, text) {
			if tok.Position != lastPos {
				ft.length++
				lastPos = tok.Position
			}
			ft.terms[tok.Term] = append(ft.terms[tok.Term], uint32(tok.Position))
		}
		if ft.length > 0 {
			ad.fields[field] = ft
		}
	}
	return ad, nil
}

// Add inserts doc. The caller guarantees no live document has the same path.
func (w *Writer) Add(doc Document) error {
	ad, err := w.analyze(doc)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.addLocked(ad)
	return w.maybeFlushLocked()
}

// Update replaces every document whose path is key with doc.
func (w *Writer) Update(key string, doc Document) error {
	ad, err := w.analyze(doc)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.deleteLocked(key); err != nil {
		return err
	}
	w.addLocked(ad)
	return w.maybeFlushLocked()
}

// Delete removes every document whose path is key.
func (w *Writer) Delete(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.deleteLocked(key)
}

func (w *Writer) addLocked(ad *analyzedDoc) {
	w.bufKeys[ad.path] = append(w.bufKeys[ad.path], len(w.buf))
	w.buf = append(w.buf, ad)
	w.bufLive++
	w.changed = true
}

func (w *Writer) deleteLocked(key string) error {
	for _, i := range w.bufKeys[key] {
		if w.buf[i] != nil {
			w.buf[i] = nil
			w.bufLive--
			w.changed = true
		}
	}
	delete(w.bufKeys, key)

	for _, ws := range w.segs {
		postings, err := ws.seg.lookup(analysis.FieldID, key)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", key, err)
		}
		for _, p := range postings {
			if ws.delete(uint32(p.Doc)) {
				w.changed = true
			}
		}
	}
	return nil
}

func (w *Writer) maybeFlushLocked() error {
	if len(w.buf) < w.idx.flushDocs {
		return nil
	}
	return w.flushLocked()
}

// flushLocked writes buffered documents to a new, uncommitted segment.
func (w *Writer) flushLocked() error {
	docs := make([]*analyzedDoc, 0, w.bufLive)
	for _, ad := range w.buf {
		if ad != nil {
			docs = append(docs, ad)
		}
	}
	w.buf = w.buf[:0]
	clear(w.bufKeys)
	w.bufLive = 0
	if len(docs) == 0 {
		return nil
	}

	start := time.Now()
	id := w.idx.allocSegmentID()
	path := filepath.Join(w.idx.dir, segmentFileName(id))
	if err := w.writeSegment(path, docs); err != nil {
		return fmt.Errorf("failed to flush segment %d: %w", id, err)
	}
	seg, err := w.idx.registerSegment(path, id)
	if err != nil {
		return err
	}
	w.segs = append(w.segs, &writerSegment{seg: seg})

	slog.Debug("segment_flushed",
		slog.Uint64("segment", id),
		slog.Int("docs", len(docs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (w *Writer) writeSegment(path string, docs []*analyzedDoc) error {
	b, err := newSegmentBuilder(path)
	if err != nil {
		return err
	}
	for _, ad := range docs {
		if err := b.addStored(ad.stored); err != nil {
			b.abort()
			return err
		}
	}

	a := w.idx.analyzer
	for _, field := range a.Fields() {
		fc, _ := a.FieldConfig(field)
		norms := make([]uint32, len(docs))
		postings := make(map[string][]Posting)
		for docNum, ad := range docs {
			ft := ad.fields[field]
			if ft == nil {
				continue
			}
			norms[docNum] = ft.length
			for term, positions := range ft.terms {
				p := Posting{Doc: DocID(docNum), Freq: uint32(len(positions))}
				if fc.Positions {
					p.Positions = positions
				}
				postings[term] = append(postings[term], p)
			}
		}

		terms := make([]string, 0, len(postings))
		for term := range postings {
			terms = append(terms, term)
		}
		slices.Sort(terms)

		if err := b.beginField(field, fc.Positions, norms); err != nil {
			b.abort()
			return err
		}
		for _, term := range terms {
			if err := b.addTerm([]byte(term), postings[term]); err != nil {
				b.abort()
				return err
			}
		}
		if err := b.endField(); err != nil {
			b.abort()
			return err
		}
	}
	return b.finish()
}

// Compact merges every live document into a single segment, dropping deleted
// ones. The result becomes visible on the next Commit.
func (w *Writer) Compact(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}

	var sources []*writerSegment
	needed := false
	for _, ws := range w.segs {
		if ws.liveDocs() == 0 {
			needed = true
			continue
		}
		if ws.deleted != nil && !ws.deleted.IsEmpty() {
			needed = true
		}
		sources = append(sources, ws)
	}
	if len(sources) > 1 {
		needed = true
	}
	if !needed {
		return nil
	}

	start := time.Now()
	old := w.segs
	w.segs = nil
	if len(sources) > 0 {
		id := w.idx.allocSegmentID()
		path := filepath.Join(w.idx.dir, segmentFileName(id))
		if err := mergeSegments(ctx, path, sources); err != nil {
			w.segs = old
			return fmt.Errorf("failed to compact: %w", err)
		}
		seg, err := w.idx.registerSegment(path, id)
		if err != nil {
			w.segs = old
			return err
		}
		w.segs = []*writerSegment{{seg: seg}}
	}
	for _, ws := range old {
		w.idx.releaseSegment(ws.seg)
	}
	w.changed = true

	slog.Info("index_compacted",
		slog.Int("segments_in", len(old)),
		slog.Int("segments_out", len(w.segs)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Commit flushes buffered documents and publishes a new generation.
// Readers opened afterwards see every change made so far.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.commitLocked()
}

func (w *Writer) commitLocked() error {
	if err := w.flushLocked(); err != nil {
		return err
	}
	if !w.changed {
		return nil
	}

	idx := w.idx
	idx.mu.Lock()
	gen := idx.current.generation + 1
	next := idx.nextSegment
	idx.mu.Unlock()

	m := &manifest{
		Version:     manifestVersion,
		Generation:  gen,
		NextSegment: next,
		CommittedAt: time.Now().UTC(),
	}

	var kept, dropped []*writerSegment
	for _, ws := range w.segs {
		if ws.liveDocs() == 0 {
			dropped = append(dropped, ws)
			continue
		}
		if ws.dirty {
			path := filepath.Join(idx.dir, deletionFileName(ws.seg.id, gen))
			if err := writeDeletions(path, ws.deleted); err != nil {
				return err
			}
			ws.delGen = gen
		}
		kept = append(kept, ws)
		ms := manifestSegment{ID: ws.seg.id, Docs: ws.seg.numDocs, DelGen: ws.delGen}
		if ws.deleted != nil {
			ms.Deleted = ws.deleted.GetCardinality()
		}
		m.Segments = append(m.Segments, ms)
	}

	if err := writeManifest(idx.dir, m); err != nil {
		return err
	}

	snap := &snapshot{idx: idx, generation: gen, committed: m.CommittedAt}
	idx.mu.Lock()
	for _, ws := range kept {
		idx.acquireSegmentLocked(ws.seg)
		ls := liveSegment{seg: ws.seg, delGen: ws.delGen}
		if ws.deleted != nil {
			ls.deleted = ws.deleted.Clone()
		}
		snap.segs = append(snap.segs, ls)
	}
	snap.refs.Store(1)
	old := idx.installLocked(snap, m)
	idx.mu.Unlock()

	if old != nil {
		old.release()
	}
	for _, ws := range dropped {
		idx.releaseSegment(ws.seg)
	}
	for _, ws := range kept {
		ws.dirty = false
	}
	w.segs = kept
	w.changed = false
	idx.removeObsolete()

	var docs uint64
	for _, ws := range kept {
		docs += ws.liveDocs()
	}
	slog.Info("index_committed",
		slog.Uint64("generation", gen),
		slog.Int("segments", len(kept)),
		slog.Uint64("documents", docs))
	return nil
}

// Rollback discards uncommitted changes and releases the writer.
func (w *Writer) Rollback() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.releaseLocked()
	slog.Debug("writer_rolled_back")
	return nil
}

// Close commits pending changes and releases the writer. The writer is released
// even if the commit fails.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.commitLocked()
	w.releaseLocked()
	return err
}

func (w *Writer) releaseLocked() {
	w.closed = true
	for _, ws := range w.segs {
		w.idx.releaseSegment(ws.seg)
	}
	w.segs = nil
	w.buf = nil
	w.bufKeys = nil
	w.idx.unlockWriter()
}
