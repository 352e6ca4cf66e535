package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/vellum"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

// FieldStats are the live-document statistics of one field, used for length
// normalization.
type FieldStats struct {
	DocCount  uint64
	SumLength uint64
}

// AvgLength returns the mean field length over documents that have the field.
func (fs FieldStats) AvgLength() float64 {
	if fs.DocCount == 0 {
		return 0
	}
	return float64(fs.SumLength) / float64(fs.DocCount)
}

// Reader is an immutable point-in-time view of the index. It is safe for
// concurrent use and must be closed.
type Reader struct {
	snap   *snapshot
	bases  []DocID
	maxDoc DocID
	live   uint64
	closed atomic.Bool

	statsMu sync.Mutex
	stats   map[string]FieldStats
}

func newReader(snap *snapshot) *Reader {
	r := &Reader{
		snap:  snap,
		bases: make([]DocID, len(snap.segs)),
		stats: make(map[string]FieldStats),
	}
	for i, ls := range snap.segs {
		r.bases[i] = r.maxDoc
		r.maxDoc += DocID(ls.seg.numDocs)
		r.live += ls.liveDocs()
	}
	return r
}

// Generation returns the committed generation the reader sees.
func (r *Reader) Generation() uint64 {
	return r.snap.generation
}

// NumDocs returns the number of live documents.
func (r *Reader) NumDocs() uint64 {
	return r.live
}

// locate maps a reader-wide id to its segment and local doc number.
func (r *Reader) locate(id DocID) (int, uint32, bool) {
	if id >= r.maxDoc {
		return 0, 0, false
	}
	i := sort.Search(len(r.bases), func(i int) bool { return r.bases[i] > id }) - 1
	return i, uint32(id - r.bases[i]), true
}

// Document returns the stored fields of a document.
func (r *Reader) Document(id DocID) (Document, error) {
	if r.closed.Load() {
		return Document{}, ErrClosed
	}
	i, doc, ok := r.locate(id)
	if !ok || r.snap.segs[i].isDeleted(doc) {
		return Document{}, fmt.Errorf("document %d not found", id)
	}
	return r.snap.segs[i].seg.document(doc)
}

// FieldLength returns the analyzed length of a document's field.
func (r *Reader) FieldLength(field string, id DocID) uint32 {
	i, doc, ok := r.locate(id)
	if !ok {
		return 0
	}
	seg := r.snap.segs[i].seg
	sf := seg.field(field)
	if sf == nil {
		return 0
	}
	return seg.norm(sf, doc)
}

// FieldStats returns statistics over live documents, computed once per reader.
func (r *Reader) FieldStats(field string) FieldStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	if st, ok := r.stats[field]; ok {
		return st
	}

	var st FieldStats
	for _, ls := range r.snap.segs {
		sf := ls.seg.field(field)
		if sf == nil {
			continue
		}
		if ls.deleted == nil || ls.deleted.IsEmpty() {
			st.DocCount += sf.docCount
			st.SumLength += sf.sumLength
			continue
		}
		for doc := uint32(0); doc < ls.seg.numDocs; doc++ {
			if ls.deleted.Contains(doc) {
				continue
			}
			if n := ls.seg.norm(sf, doc); n > 0 {
				st.DocCount++
				st.SumLength += uint64(n)
			}
		}
	}
	r.stats[field] = st
	return st
}

// DocCount returns the number of live documents that have field.
func (r *Reader) DocCount(field string) uint64 {
	return r.FieldStats(field).DocCount
}

// SumFieldLength returns the total analyzed length of field over live documents.
func (r *Reader) SumFieldLength(field string) uint64 {
	return r.FieldStats(field).SumLength
}

// Postings returns the live postings of an exact term, ordered by DocID.
func (r *Reader) Postings(field, term string) ([]Posting, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	var out []Posting
	for i, ls := range r.snap.segs {
		postings, err := ls.seg.lookup(field, term)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", ls.seg.id, err)
		}
		for _, p := range postings {
			if ls.isDeleted(uint32(p.Doc)) {
				continue
			}
			p.Doc += r.bases[i]
			out = append(out, p)
		}
	}
	return out, nil
}

// Terms returns the distinct terms of field accepted by aut, in byte order.
// A nil automaton matches every term.
func (r *Reader) Terms(field string, aut vellum.Automaton) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	seen := make(map[string]struct{})
	for _, ls := range r.snap.segs {
		sf := ls.seg.field(field)
		if sf == nil {
			continue
		}
		var itr *vellum.FSTIterator
		var err error
		if aut == nil {
			itr, err = sf.fst.Iterator(nil, nil)
		} else {
			itr, err = sf.fst.Search(aut, nil, nil)
		}
		for err == nil {
			key, _ := itr.Current()
			seen[string(key)] = struct{}{}
			err = itr.Next()
		}
		if !errors.Is(err, vellum.ErrIteratorDone) {
			return nil, fmt.Errorf("segment %d: failed to scan terms: %w", ls.seg.id, err)
		}
	}

	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	return terms, nil
}

// LookupByPathPrefix returns the paths of live documents starting with prefix.
func (r *Reader) LookupByPathPrefix(prefix string) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	start := []byte(prefix)
	end := prefixEnd(start)

	var paths []string
	for _, ls := range r.snap.segs {
		sf := ls.seg.field(analysis.FieldID)
		if sf == nil {
			continue
		}
		itr, err := sf.fst.Iterator(start, end)
		for err == nil {
			key, offset := itr.Current()
			postings, perr := ls.seg.postingsAt(sf, offset)
			if perr != nil {
				return nil, perr
			}
			for _, p := range postings {
				if !ls.isDeleted(uint32(p.Doc)) {
					paths = append(paths, string(key))
					break
				}
			}
			err = itr.Next()
		}
		if !errors.Is(err, vellum.ErrIteratorDone) {
			return nil, fmt.Errorf("segment %d: failed to scan paths: %w", ls.seg.id, err)
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths), nil
}

// prefixEnd returns the smallest key greater than every key starting with p,
// or nil when there is none.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Close releases the snapshot. Closing twice is a no-op.
func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.snap.release()
	return nil
}
