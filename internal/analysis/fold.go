package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTable covers letters whose diacritic is not a combining mark, so NFD
// decomposition leaves them intact.
var foldTable = map[rune]string{
	'đ': "d", 'Đ': "D",
	'ø': "o", 'Ø': "O",
	'ł': "l", 'Ł': "L",
	'ħ': "h", 'Ħ': "H",
	'ı': "i",
	'ß': "ss",
	'æ': "ae", 'Æ': "AE",
	'œ': "oe", 'Œ': "OE",
	'þ': "th", 'Þ': "TH",
}

// Normalize repairs invalid UTF-8 and applies canonical composition (NFC), so a
// decomposed macOS filename and its composed form produce the same bytes.
func Normalize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, string(utf8.RuneError))
	}
	return norm.NFC.String(s)
}

// Fold strips diacritics from s. The result is NFC.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}

	if !strings.ContainsFunc(folded, inFoldTable) {
		return folded
	}
	var sb strings.Builder
	sb.Grow(len(folded))
	for _, r := range folded {
		if repl, ok := foldTable[r]; ok {
			sb.WriteString(repl)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func inFoldTable(r rune) bool {
	_, ok := foldTable[r]
	return ok
}

// HasDiacritics reports whether folding would change s.
func HasDiacritics(s string) bool {
	return Fold(s) != s
}

// dualTokenFilter emits a folded copy after every token with diacritics.
// Both tokens share the position, so phrase matching works with either spelling.
type dualTokenFilter struct{}

// Filter implements analysis.TokenFilter.
func (dualTokenFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		result = append(result, token)

		term := string(token.Term)
		folded := Fold(term)
		if folded == term || folded == "" {
			continue
		}
		result = append(result, &analysis.Token{
			Term:     []byte(folded),
			Start:    token.Start,
			End:      token.End,
			Position: token.Position,
			Type:     token.Type,
		})
	}
	return result
}

// uniqueFilter drops repeated terms at the same position. N-gram expansion of a
// token and its folded copy share most substrings.
type uniqueFilter struct{}

// Filter implements analysis.TokenFilter.
func (uniqueFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	seen := make(map[string]struct{})
	lastPos := -1
	for _, token := range input {
		if token.Position != lastPos {
			clear(seen)
			lastPos = token.Position
		}
		if _, dup := seen[string(token.Term)]; dup {
			continue
		}
		seen[string(token.Term)] = struct{}{}
		result = append(result, token)
	}
	return result
}

var (
	_ analysis.TokenFilter = dualTokenFilter{}
	_ analysis.TokenFilter = uniqueFilter{}
)
