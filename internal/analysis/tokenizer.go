package analysis

import (
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
)

// wordTokenizer splits on anything that is not a letter, digit or combining mark.
// Underscores, dots and dashes therefore separate words, which is what filenames
// like "report_final.docx" need. Ideographs become one token each.
type wordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (wordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input)/5+1)
	pos := 1
	start := -1
	numeric := true

	emit := func(end int) {
		if start < 0 {
			return
		}
		typ := analysis.AlphaNumeric
		if numeric {
			typ = analysis.Numeric
		}
		result = append(result, &analysis.Token{
			Term:     append([]byte(nil), input[start:end]...),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     typ,
		})
		pos++
		start = -1
		numeric = true
	}

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		switch {
		case isIdeograph(r):
			emit(i)
			result = append(result, &analysis.Token{
				Term:     append([]byte(nil), input[i:i+size]...),
				Start:    i,
				End:      i + size,
				Position: pos,
				Type:     analysis.Ideographic,
			})
			pos++
		case isWordRune(r):
			if start < 0 {
				start = i
			}
			if !unicode.IsDigit(r) {
				numeric = false
			}
		default:
			emit(i)
		}
		i += size
	}
	emit(len(input))

	return result
}

func isWordRune(r rune) bool {
	// U+FFFD stands in for bytes that were not valid UTF-8 and stays in the word.
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == utf8.RuneError
}

func isIdeograph(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
}

// keywordTokenizer emits the whole input as one token.
type keywordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (keywordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	if len(input) == 0 {
		return nil
	}
	return analysis.TokenStream{{
		Term:     append([]byte(nil), input...),
		Start:    0,
		End:      len(input),
		Position: 1,
		Type:     analysis.AlphaNumeric,
	}}
}

var (
	_ analysis.Tokenizer = wordTokenizer{}
	_ analysis.Tokenizer = keywordTokenizer{}
)
