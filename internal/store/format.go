package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"

	"github.com/blevesearch/vellum"
	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
)

// Segment file layout:
//
//	header   magic[8] version u32
//	stored   per doc: uvarint len, snappy(json(doc))
//	         offsets table: numDocs x u64
//	fields   per field: norms (numDocs x u32), postings lists, FST bytes
//	index    per field: uvarint name len, name, flags u8, 5 x u64
//	footer   storedIndex u64, fieldsIndex u64, numDocs u32, numFields u32,
//	         crc32(header..index) u32, version u32, magic[8]
//
// Postings list: uvarint count, then per doc uvarint docDelta, uvarint freq
// and, when the field records positions, freq x uvarint positionDelta.
const (
	segmentMagic   = "AMFSEG01"
	segmentVersion = uint32(1)
	headerSize     = 12
	footerSize     = 40

	flagPositions = byte(1)
)

// FormatVersion is the segment format this build reads and writes.
const FormatVersion = segmentVersion

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encodeStored(doc *Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", doc.Path, err)
	}
	return snappy.Encode(nil, data), nil
}

func decodeStored(raw []byte) (Document, error) {
	var doc Document
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return doc, fmt.Errorf("failed to decompress stored document: %w", err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to decode stored document: %w", err)
	}
	return doc, nil
}

// fieldMeta is the per-field entry of the segment index.
type fieldMeta struct {
	name        string
	positions   bool
	normsOffset uint64
	fstOffset   uint64
	fstLen      uint64
	docCount    uint64
	sumLength   uint64
}

type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// segmentBuilder streams a segment file: stored documents first, then fields in
// any order, each with its terms in ascending byte order.
type segmentBuilder struct {
	path string
	f    *os.File
	bw   *bufio.Writer
	crc  hash.Hash32
	out  *countingWriter

	numDocs       int
	storedOffsets []uint64
	storedIndex   uint64
	storedDone    bool

	fields []fieldMeta
	cur    *fieldMeta
	fstBuf bytes.Buffer
	fst    *vellum.Builder
	buf    []byte
}

func newSegmentBuilder(path string) (*segmentBuilder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment: %w", err)
	}
	b := &segmentBuilder{
		path: path,
		f:    f,
		bw:   bufio.NewWriterSize(f, 256*1024),
		crc:  crc32.NewIEEE(),
	}
	b.out = &countingWriter{w: io.MultiWriter(b.bw, b.crc)}

	header := append([]byte(segmentMagic), 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(header[8:], segmentVersion)
	if _, err := b.out.Write(header); err != nil {
		b.abort()
		return nil, err
	}
	return b, nil
}

func (b *segmentBuilder) addStored(raw []byte) error {
	if b.storedDone {
		return fmt.Errorf("stored documents already finished")
	}
	b.storedOffsets = append(b.storedOffsets, b.out.n)
	b.buf = binary.AppendUvarint(b.buf[:0], uint64(len(raw)))
	if _, err := b.out.Write(b.buf); err != nil {
		return err
	}
	_, err := b.out.Write(raw)
	b.numDocs++
	return err
}

func (b *segmentBuilder) finishStored() error {
	if b.storedDone {
		return nil
	}
	b.storedDone = true
	b.storedIndex = b.out.n
	for _, off := range b.storedOffsets {
		b.buf = binary.LittleEndian.AppendUint64(b.buf[:0], off)
		if _, err := b.out.Write(b.buf); err != nil {
			return err
		}
	}
	return nil
}

// beginField writes the field norms; norms[doc] is the field length of doc.
func (b *segmentBuilder) beginField(name string, positions bool, norms []uint32) error {
	if err := b.finishStored(); err != nil {
		return err
	}
	if b.cur != nil {
		return fmt.Errorf("field %s still open", b.cur.name)
	}
	if len(norms) != b.numDocs {
		return fmt.Errorf("field %s: %d norms for %d documents", name, len(norms), b.numDocs)
	}

	meta := &fieldMeta{name: name, positions: positions, normsOffset: b.out.n}
	b.buf = b.buf[:0]
	for _, n := range norms {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, n)
		if n > 0 {
			meta.docCount++
			meta.sumLength += uint64(n)
		}
	}
	if _, err := b.out.Write(b.buf); err != nil {
		return err
	}

	b.fstBuf.Reset()
	fst, err := vellum.New(&b.fstBuf, nil)
	if err != nil {
		return fmt.Errorf("failed to create term dictionary: %w", err)
	}
	b.fst = fst
	b.cur = meta
	return nil
}

// addTerm writes a postings list sorted by doc and registers the term.
func (b *segmentBuilder) addTerm(term []byte, postings []Posting) error {
	offset := b.out.n
	b.buf = appendPostings(b.buf[:0], postings, b.cur.positions)
	if _, err := b.out.Write(b.buf); err != nil {
		return err
	}
	if err := b.fst.Insert(term, offset); err != nil {
		return fmt.Errorf("field %s: failed to insert term %q: %w", b.cur.name, term, err)
	}
	return nil
}

func (b *segmentBuilder) endField() error {
	if err := b.fst.Close(); err != nil {
		return fmt.Errorf("field %s: failed to finish term dictionary: %w", b.cur.name, err)
	}
	b.cur.fstOffset = b.out.n
	b.cur.fstLen = uint64(b.fstBuf.Len())
	if _, err := b.out.Write(b.fstBuf.Bytes()); err != nil {
		return err
	}
	b.fields = append(b.fields, *b.cur)
	b.cur = nil
	b.fst = nil
	return nil
}

// finish writes the field index and footer, then syncs the file.
func (b *segmentBuilder) finish() (err error) {
	defer func() {
		if err != nil {
			b.abort()
		}
	}()

	if err := b.finishStored(); err != nil {
		return err
	}

	fieldsIndex := b.out.n
	for _, fm := range b.fields {
		b.buf = binary.AppendUvarint(b.buf[:0], uint64(len(fm.name)))
		b.buf = append(b.buf, fm.name...)
		var flags byte
		if fm.positions {
			flags |= flagPositions
		}
		b.buf = append(b.buf, flags)
		for _, v := range []uint64{fm.normsOffset, fm.fstOffset, fm.fstLen, fm.docCount, fm.sumLength} {
			b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
		}
		if _, err := b.out.Write(b.buf); err != nil {
			return err
		}
	}

	footer := make([]byte, 0, footerSize)
	footer = binary.LittleEndian.AppendUint64(footer, b.storedIndex)
	footer = binary.LittleEndian.AppendUint64(footer, fieldsIndex)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(b.numDocs))
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(b.fields)))
	footer = binary.LittleEndian.AppendUint32(footer, b.crc.Sum32())
	footer = binary.LittleEndian.AppendUint32(footer, segmentVersion)
	footer = append(footer, segmentMagic...)
	if _, err := b.bw.Write(footer); err != nil {
		return err
	}

	if err := b.bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush segment: %w", err)
	}
	if err := b.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment: %w", err)
	}
	if err := b.f.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	b.f = nil
	return nil
}

func (b *segmentBuilder) abort() {
	if b.f == nil {
		return
	}
	_ = b.f.Close()
	_ = os.Remove(b.path)
	b.f = nil
}

func appendPostings(buf []byte, postings []Posting, positions bool) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(postings)))
	var prevDoc DocID
	for i, p := range postings {
		delta := p.Doc
		if i > 0 {
			delta = p.Doc - prevDoc
		}
		prevDoc = p.Doc
		buf = binary.AppendUvarint(buf, uint64(delta))
		buf = binary.AppendUvarint(buf, uint64(p.Freq))
		if !positions {
			continue
		}
		var prevPos uint32
		for _, pos := range p.Positions {
			buf = binary.AppendUvarint(buf, uint64(pos-prevPos))
			prevPos = pos
		}
	}
	return buf
}

func decodePostings(data []byte, positions bool) ([]Posting, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("corrupt postings header")
	}
	data = data[n:]
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("corrupt postings count %d", count)
	}

	out := make([]Posting, 0, count)
	var doc uint64
	next := func() (uint64, error) {
		v, n := binary.Uvarint(data)
		if n <= 0 {
			return 0, fmt.Errorf("corrupt postings entry")
		}
		data = data[n:]
		return v, nil
	}
	for i := uint64(0); i < count; i++ {
		delta, err := next()
		if err != nil {
			return nil, err
		}
		doc += delta
		freq, err := next()
		if err != nil {
			return nil, err
		}
		p := Posting{Doc: DocID(doc), Freq: uint32(freq)}
		if positions {
			p.Positions = make([]uint32, 0, freq)
			var pos uint64
			for j := uint64(0); j < freq; j++ {
				d, err := next()
				if err != nil {
					return nil, err
				}
				pos += d
				p.Positions = append(p.Positions, uint32(pos))
			}
		}
		out = append(out, p)
	}
	return out, nil
}
