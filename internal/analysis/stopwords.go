package analysis

import (
	"github.com/blevesearch/bleve/v2/analysis"
)

// DefaultStopWords is the fixed English stop-word set for filename and content.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it",
	"no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these",
	"they", "this", "to", "was", "will", "with",
}

// BuildStopWordMap converts a stop-word list into a bleve token map.
func BuildStopWordMap(words []string) analysis.TokenMap {
	m := analysis.NewTokenMap()
	for _, w := range words {
		m.AddToken(w)
	}
	return m
}
