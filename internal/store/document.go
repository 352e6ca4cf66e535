// Package store is the persistent inverted index: immutable segment files with
// per-field term dictionaries, roaring deletion bitmaps, a manifest naming the
// committed generation, and a single writer guarded by a process mutex and a
// file lock. Readers are point-in-time snapshots of a committed manifest.
package store

import (
	"time"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

// Document is one indexed file. Path is the identity key.
type Document struct {
	Path       string    `json:"path"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	FileType   string    `json:"filetype"`
	Content    string    `json:"-"`
	HasContent bool      `json:"has_content"`
}

// fieldText projects a document onto an index field. The content is analyzed
// but never stored.
func fieldText(doc *Document, field string) string {
	switch field {
	case analysis.FieldID:
		return doc.Path
	case analysis.FieldFilename, analysis.FieldFilenameNgram:
		return doc.Filename
	case analysis.FieldContent:
		return doc.Content
	case analysis.FieldFiletype:
		return doc.FileType
	default:
		return ""
	}
}

// DocID addresses a document inside one Reader. IDs are not stable across readers.
type DocID uint32

// Posting is one document's occurrence of a term in a field.
type Posting struct {
	Doc       DocID
	Freq      uint32
	Positions []uint32
}

// Mode selects how a writer treats the existing index.
type Mode int

const (
	// ModeAppend mutates the committed index.
	ModeAppend Mode = iota
	// ModeCreate starts from an empty index; the old one stays visible until commit.
	ModeCreate
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeCreate {
		return "create"
	}
	return "append"
}

// Stats describes the committed state of an index.
type Stats struct {
	Generation uint64
	Documents  uint64
	Deleted    uint64
	Segments   int
	SizeOnDisk int64
	LastCommit time.Time
}
