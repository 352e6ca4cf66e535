package store

import (
	"bytes"
	"context"
	"errors"
	"slices"

	"github.com/blevesearch/vellum"
)

// mergeSegments writes the live documents of sources into one segment at path.
// Documents keep their relative order; postings are merged term by term with a
// k-way walk over the source term dictionaries.
func mergeSegments(ctx context.Context, path string, sources []*writerSegment) (err error) {
	b, err := newSegmentBuilder(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			b.abort()
		}
	}()

	// docMaps[i][old] is the new doc number, or -1 for a deleted document.
	docMaps := make([][]int64, len(sources))
	var next int64
	for i, ws := range sources {
		m := make([]int64, ws.seg.numDocs)
		for doc := uint32(0); doc < ws.seg.numDocs; doc++ {
			if ws.deleted != nil && ws.deleted.Contains(doc) {
				m[doc] = -1
				continue
			}
			raw, err := ws.seg.storedRaw(doc)
			if err != nil {
				return err
			}
			if err := b.addStored(raw); err != nil {
				return err
			}
			m[doc] = next
			next++
		}
		docMaps[i] = m
	}

	var fields []string
	positions := make(map[string]bool)
	for _, ws := range sources {
		for name, sf := range ws.seg.fields {
			if _, ok := positions[name]; !ok {
				fields = append(fields, name)
			}
			positions[name] = positions[name] || sf.positions
		}
	}
	slices.Sort(fields)

	for _, field := range fields {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := mergeField(ctx, b, field, positions[field], sources, docMaps, int(next)); err != nil {
			return err
		}
	}
	return b.finish()
}

type mergeCursor struct {
	src int
	sf  *segmentField
	itr *vellum.FSTIterator
	key []byte
	val uint64
}

func (c *mergeCursor) advance() (bool, error) {
	err := c.itr.Next()
	if errors.Is(err, vellum.ErrIteratorDone) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	key, val := c.itr.Current()
	c.key = append(c.key[:0], key...)
	c.val = val
	return true, nil
}

func mergeField(ctx context.Context, b *segmentBuilder, field string, withPositions bool,
	sources []*writerSegment, docMaps [][]int64, numDocs int) error {
	norms := make([]uint32, numDocs)
	var cursors []*mergeCursor
	defer func() {
		for _, c := range cursors {
			_ = c.itr.Close()
		}
	}()

	for i, ws := range sources {
		sf := ws.seg.field(field)
		if sf == nil {
			continue
		}
		for doc, nd := range docMaps[i] {
			if nd >= 0 {
				norms[nd] = ws.seg.norm(sf, uint32(doc))
			}
		}
		itr, err := sf.fst.Iterator(nil, nil)
		if errors.Is(err, vellum.ErrIteratorDone) {
			continue
		}
		if err != nil {
			return err
		}
		key, val := itr.Current()
		cursors = append(cursors, &mergeCursor{src: i, sf: sf, itr: itr, key: append([]byte(nil), key...), val: val})
	}

	if err := b.beginField(field, withPositions, norms); err != nil {
		return err
	}

	active := cursors
	var merged []Posting
	for n := 0; len(active) > 0; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		lowest := active[0].key
		for _, c := range active[1:] {
			if bytes.Compare(c.key, lowest) < 0 {
				lowest = c.key
			}
		}
		term := append([]byte(nil), lowest...)

		merged = merged[:0]
		remaining := active[:0]
		for _, c := range active {
			if !bytes.Equal(c.key, term) {
				remaining = append(remaining, c)
				continue
			}
			postings, err := sources[c.src].seg.postingsAt(c.sf, c.val)
			if err != nil {
				return err
			}
			for _, p := range postings {
				nd := docMaps[c.src][p.Doc]
				if nd < 0 {
					continue
				}
				p.Doc = DocID(nd)
				if !withPositions {
					p.Positions = nil
				}
				merged = append(merged, p)
			}
			ok, err := c.advance()
			if err != nil {
				return err
			}
			if ok {
				remaining = append(remaining, c)
			}
		}
		active = remaining

		if len(merged) > 0 {
			if err := b.addTerm(term, merged); err != nil {
				return err
			}
		}
	}
	return b.endField()
}
