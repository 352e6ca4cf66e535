package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/blevesearch/mmap-go"
	"github.com/blevesearch/vellum"
)

// segment is an open, memory-mapped, immutable segment file. It is shared by
// every snapshot and writer that references it; refs counts those holders and
// is guarded by Index.mu.
type segment struct {
	id      uint64
	path    string
	size    int64
	f       *os.File
	data    mmap.MMap
	numDocs uint32

	storedIndex uint64
	fields      map[string]*segmentField

	refs int
}

type segmentField struct {
	fieldMeta
	fst *vellum.FST
}

// openSegment maps a segment file and verifies magic, version and checksum.
func openSegment(path string, id uint64) (seg *segment, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment: %w", err)
	}
	if info.Size() < headerSize+footerSize {
		return nil, fmt.Errorf("segment %s truncated (%d bytes)", path, info.Size())
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to map segment: %w", err)
	}
	seg = &segment{id: id, path: path, size: info.Size(), f: f, data: data}
	if err := seg.parse(); err != nil {
		_ = data.Unmap()
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	return seg, nil
}

func (s *segment) parse() error {
	data := s.data
	if string(data[:8]) != segmentMagic {
		return errors.New("bad header magic")
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != segmentVersion {
		return fmt.Errorf("unsupported version %d", v)
	}

	footer := data[len(data)-footerSize:]
	if string(footer[32:40]) != segmentMagic {
		return errors.New("bad footer magic")
	}
	body := data[:len(data)-footerSize]
	if crc := binary.LittleEndian.Uint32(footer[24:28]); crc != crc32.ChecksumIEEE(body) {
		return errors.New("checksum mismatch")
	}

	s.storedIndex = binary.LittleEndian.Uint64(footer[0:8])
	fieldsIndex := binary.LittleEndian.Uint64(footer[8:16])
	s.numDocs = binary.LittleEndian.Uint32(footer[16:20])
	numFields := binary.LittleEndian.Uint32(footer[20:24])
	if s.storedIndex+uint64(s.numDocs)*8 > uint64(len(body)) || fieldsIndex > uint64(len(body)) {
		return errors.New("section offsets out of range")
	}

	s.fields = make(map[string]*segmentField, numFields)
	idx := body[fieldsIndex:]
	for i := uint32(0); i < numFields; i++ {
		nameLen, n := binary.Uvarint(idx)
		if n <= 0 || uint64(len(idx)-n) < nameLen+1+40 {
			return errors.New("corrupt field index")
		}
		idx = idx[n:]
		sf := &segmentField{}
		sf.name = string(idx[:nameLen])
		sf.positions = idx[nameLen]&flagPositions != 0
		idx = idx[nameLen+1:]
		vals := make([]uint64, 5)
		for j := range vals {
			vals[j] = binary.LittleEndian.Uint64(idx[j*8:])
		}
		idx = idx[40:]
		sf.normsOffset, sf.fstOffset, sf.fstLen, sf.docCount, sf.sumLength = vals[0], vals[1], vals[2], vals[3], vals[4]

		if sf.fstOffset+sf.fstLen > uint64(len(body)) || sf.normsOffset+uint64(s.numDocs)*4 > uint64(len(body)) {
			return fmt.Errorf("field %s: offsets out of range", sf.name)
		}
		fst, err := vellum.Load(body[sf.fstOffset : sf.fstOffset+sf.fstLen])
		if err != nil {
			return fmt.Errorf("field %s: failed to load term dictionary: %w", sf.name, err)
		}
		s.fields[sf.name] = sf
		sf.fst = fst
	}
	return nil
}

func (s *segment) field(name string) *segmentField {
	return s.fields[name]
}

// storedRaw returns the compressed stored document.
func (s *segment) storedRaw(doc uint32) ([]byte, error) {
	if doc >= s.numDocs {
		return nil, fmt.Errorf("document %d out of range", doc)
	}
	off := binary.LittleEndian.Uint64(s.data[s.storedIndex+uint64(doc)*8:])
	length, n := binary.Uvarint(s.data[off:])
	if n <= 0 || off+uint64(n)+length > s.storedIndex {
		return nil, fmt.Errorf("corrupt stored document %d", doc)
	}
	start := off + uint64(n)
	return s.data[start : start+length], nil
}

func (s *segment) document(doc uint32) (Document, error) {
	raw, err := s.storedRaw(doc)
	if err != nil {
		return Document{}, err
	}
	return decodeStored(raw)
}

// norm returns the field length of doc.
func (s *segment) norm(sf *segmentField, doc uint32) uint32 {
	return binary.LittleEndian.Uint32(s.data[sf.normsOffset+uint64(doc)*4:])
}

// postingsAt decodes the postings list stored at offset.
func (s *segment) postingsAt(sf *segmentField, offset uint64) ([]Posting, error) {
	if offset >= uint64(len(s.data)) {
		return nil, fmt.Errorf("postings offset %d out of range", offset)
	}
	return decodePostings(s.data[offset:], sf.positions)
}

// lookup returns the postings of an exact term; nil when absent.
func (s *segment) lookup(field, term string) ([]Posting, error) {
	sf := s.fields[field]
	if sf == nil {
		return nil, nil
	}
	offset, ok, err := sf.fst.Get([]byte(term))
	if err != nil || !ok {
		return nil, err
	}
	return s.postingsAt(sf, offset)
}

func (s *segment) close() error {
	for _, sf := range s.fields {
		_ = sf.fst.Close()
	}
	var errs []error
	if s.data != nil {
		errs = append(errs, s.data.Unmap())
		s.data = nil
	}
	if s.f != nil {
		errs = append(errs, s.f.Close())
		s.f = nil
	}
	return errors.Join(errs...)
}
