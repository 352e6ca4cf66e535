// Package analysis turns filenames and document text into searchable tokens.
//
// Every field carries its own pipeline, built from a FieldAnalyzerConfig value:
// UTF-8 repair, NFC normalization, tokenization, Unicode lowercasing, dual-token
// diacritic folding, stop-word removal and, for the n-gram field only, substring
// expansion. Query text goes through the word-level stages only.
package analysis

import (
	"fmt"
)

// Field names.
const (
	FieldID            = "_id"
	FieldFilename      = "filename"
	FieldFilenameNgram = "filename_ngram"
	FieldContent       = "content"
	FieldFiletype      = "filetype"
)

// Kind selects the tokenization strategy of a field.
type Kind int

const (
	// KindWord splits text into words.
	KindWord Kind = iota
	// KindNgram splits into words, then expands every word into its substrings.
	KindNgram
	// KindKeyword keeps the whole input as one exact token.
	KindKeyword
)

// String returns the config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindNgram:
		return "ngram"
	case KindKeyword:
		return "keyword"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FieldConfig configures one field pipeline.
type FieldConfig struct {
	Kind Kind

	// Stop removes stop words (word fields only).
	Stop bool

	// Fold emits a diacritic-free copy next to every token that has diacritics.
	Fold bool

	// NgramMin and NgramMax bound the substring lengths of KindNgram, in runes.
	NgramMin int
	NgramMax int

	// MaxTokens caps the number of word positions analyzed. Zero means no cap.
	MaxTokens int

	// Positions records token positions in postings for phrase matching.
	Positions bool
}

// FieldAnalyzerConfig holds the per-field configuration and the stop-word set.
type FieldAnalyzerConfig struct {
	Fields    map[string]FieldConfig
	StopWords []string
}

// DefaultNgramMin and DefaultNgramMax are the substring bounds of filename_ngram.
const (
	DefaultNgramMin = 1
	DefaultNgramMax = 20
)

// DefaultMaxContentTokens caps content analysis for very large documents.
const DefaultMaxContentTokens = 100000

// DefaultFieldConfig returns the field set used by the index.
func DefaultFieldConfig() FieldAnalyzerConfig {
	return FieldAnalyzerConfig{
		Fields: map[string]FieldConfig{
			FieldID: {Kind: KindKeyword},
			FieldFilename: {
				Kind:      KindWord,
				Stop:      true,
				Fold:      true,
				Positions: true,
			},
			FieldFilenameNgram: {
				Kind:     KindNgram,
				Fold:     true,
				NgramMin: DefaultNgramMin,
				NgramMax: DefaultNgramMax,
			},
			FieldContent: {
				Kind:      KindWord,
				Stop:      true,
				Fold:      true,
				MaxTokens: DefaultMaxContentTokens,
				Positions: true,
			},
			FieldFiletype: {Kind: KindWord},
		},
		StopWords: DefaultStopWords,
	}
}

// Validate checks field settings.
func (c FieldAnalyzerConfig) Validate() error {
	if len(c.Fields) == 0 {
		return fmt.Errorf("no fields configured")
	}
	for name, fc := range c.Fields {
		if name == "" {
			return fmt.Errorf("empty field name")
		}
		if fc.MaxTokens < 0 {
			return fmt.Errorf("field %s: max tokens must be >= 0, got %d", name, fc.MaxTokens)
		}
		if fc.Kind != KindNgram {
			continue
		}
		if fc.NgramMin < 1 {
			return fmt.Errorf("field %s: ngram min must be >= 1, got %d", name, fc.NgramMin)
		}
		if fc.NgramMax < fc.NgramMin {
			return fmt.Errorf("field %s: ngram max %d below min %d", name, fc.NgramMax, fc.NgramMin)
		}
		if fc.Stop {
			return fmt.Errorf("field %s: stop words are not supported on ngram fields", name)
		}
	}
	return nil
}
