// Package search answers queries against an index snapshot.
//
// Query text is parsed into a small boolean tree (terms, phrases, wildcards,
// fuzzy terms, field prefixes), expanded into per-field lookups with the
// query-time analyzer, and ranked with BM25 summed over the boosted fields of
// the selected Mode.
package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/Aman-CERP/amanfind/internal/analysis"
)

// Mode selects the field set a query runs against.
type Mode int

const (
	// ModeAll searches filenames, filename substrings, content and file types.
	ModeAll Mode = iota
	// ModeFilename searches filenames and filename substrings only.
	ModeFilename
	// ModeContent searches document content only.
	ModeContent
)

// FieldBoost weights the score contribution of one field.
type FieldBoost struct {
	Field string
	Boost float64
}

var modeFields = map[Mode][]FieldBoost{
	ModeAll: {
		{analysis.FieldFilename, 4.0},
		{analysis.FieldFilenameNgram, 2.0},
		{analysis.FieldContent, 1.0},
		{analysis.FieldFiletype, 0.5},
	},
	ModeFilename: {
		{analysis.FieldFilename, 4.0},
		{analysis.FieldFilenameNgram, 2.0},
	},
	ModeContent: {
		{analysis.FieldContent, 1.0},
	},
}

// Fields returns the boosted fields of the mode.
func (m Mode) Fields() []FieldBoost {
	return modeFields[m]
}

// String returns the CLI name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeFilename:
		return "filename"
	case ModeContent:
		return "content"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a CLI mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ModeAll, nil
	case "filename", "name":
		return ModeFilename, nil
	case "content":
		return ModeContent, nil
	default:
		return ModeAll, fmt.Errorf("unknown search mode %q (expected all, filename or content)", s)
	}
}

// Result is one ranked document.
type Result struct {
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
	FileType string    `json:"file_type"`
	Score    float64   `json:"score"`
	MaxScore float64   `json:"max_score"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
}

// Relative returns the score as a fraction of the best score in its result set.
func (r Result) Relative() float64 {
	if r.MaxScore <= 0 {
		return 0
	}
	return r.Score / r.MaxScore
}
