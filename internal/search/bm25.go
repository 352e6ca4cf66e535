package search

import "math"

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// IDF is the BM25 inverse document frequency of a term found in df of n
// documents.
func IDF(df, n float64) float64 {
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

// BM25 scores one term in one field of one document. tf is the term frequency
// in the document, df the number of documents containing the term, n the number
// of documents with the field, docLen the field length of the document and
// avgDocLen the mean field length.
func BM25(tf, df, n, docLen, avgDocLen, k1, b float64) float64 {
	if tf <= 0 || n <= 0 {
		return 0
	}
	norm := 1.0
	if avgDocLen > 0 {
		norm = 1 - b + b*docLen/avgDocLen
	}
	return IDF(df, n) * tf * (k1 + 1) / (tf + k1*norm)
}
