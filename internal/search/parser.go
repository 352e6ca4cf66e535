package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Aman-CERP/amanfind/internal/analysis"
	amerrors "github.com/Aman-CERP/amanfind/internal/errors"
)

// ErrInvalidQuery is wrapped by every parse error.
var ErrInvalidQuery = amerrors.New(amerrors.ErrCodeInvalidQuery, "invalid query", nil)

// DefaultFuzziness is the edit distance of a bare "term~".
const DefaultFuzziness = 2

// MaxFuzziness caps explicit edit distances.
const MaxFuzziness = 2

// queryFields maps the field prefixes accepted in query text to index fields.
var queryFields = map[string][]string{
	analysis.FieldFilename: {analysis.FieldFilename, analysis.FieldFilenameNgram},
	analysis.FieldContent:  {analysis.FieldContent},
	analysis.FieldFiletype: {analysis.FieldFiletype},
}

// Operator joins the clauses of a BooleanNode.
type Operator int

const (
	OpAnd Operator = iota
	OpOr
)

// Node is a parsed query tree.
type Node interface {
	String() string
}

// BooleanNode combines clauses with AND or OR. NotNode clauses exclude.
type BooleanNode struct {
	Op      Operator
	Clauses []Node
}

func (n *BooleanNode) String() string {
	op := "AND"
	if n.Op == OpOr {
		op = "OR"
	}
	parts := make([]string, 0, len(n.Clauses)+1)
	parts = append(parts, op)
	for _, c := range n.Clauses {
		parts = append(parts, c.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// NotNode excludes documents matching Clause.
type NotNode struct {
	Clause Node
}

func (n *NotNode) String() string {
	return "(NOT " + n.Clause.String() + ")"
}

// TermNode is a single word, optionally fuzzy or wildcarded.
type TermNode struct {
	// Field restricts the term to one query field; empty means the mode's fields.
	Field string
	// Text is the unescaped term text.
	Text string
	// Fuzzy marks a term~N query with edit distance Fuzziness.
	Fuzzy     bool
	Fuzziness int
	// Pattern is the anchored regular expression of a wildcard term.
	Pattern string
}

// Wildcard reports whether the term contains unescaped * or ?.
func (n *TermNode) Wildcard() bool {
	return n.Pattern != ""
}

func (n *TermNode) String() string {
	var b strings.Builder
	if n.Field != "" {
		b.WriteString(n.Field)
		b.WriteByte(':')
	}
	b.WriteString(n.Text)
	if n.Fuzzy {
		b.WriteByte('~')
		b.WriteString(strconv.Itoa(n.Fuzziness))
	}
	return b.String()
}

// PhraseNode matches words at consecutive positions.
type PhraseNode struct {
	Field string
	Text  string
}

func (n *PhraseNode) String() string {
	if n.Field != "" {
		return n.Field + `:"` + n.Text + `"`
	}
	return `"` + n.Text + `"`
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokWord
	tokPhrase
	tokField
	tokAnd
	tokOr
	tokNot
	tokPlus
	tokMinus
	tokLParen
	tokRParen
)

type token struct {
	kind      tokenKind
	text      string
	pattern   string
	fuzzy     bool
	fuzziness int
	pos       int
}

// specialChars are escaped by Escape.
const specialChars = `\+-!():^[]"{}~*?|&/`

// Escape makes every character and operator word of text literal.
func Escape(text string) string {
	var b strings.Builder
	for i, word := range strings.Split(text, " ") {
		if i > 0 {
			b.WriteByte(' ')
		}
		if word == "AND" || word == "OR" || word == "NOT" {
			b.WriteByte('\\')
		}
		for _, r := range word {
			if strings.ContainsRune(specialChars, r) {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

type lexer struct {
	src    string
	pos    int
	tokens []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.tokens = append(l.tokens, tok)
		if tok.kind == tokEOF {
			return l.tokens, nil
		}
	}
}

func (l *lexer) peek() (rune, int) {
	if l.pos >= len(l.src) {
		return utf8.RuneError, 0
	}
	return utf8.DecodeRuneInString(l.src[l.pos:])
}

func (l *lexer) next() (token, error) {
	for {
		r, w := l.peek()
		if w == 0 {
			return token{kind: tokEOF, pos: l.pos}, nil
		}
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += w
	}

	start := l.pos
	rest := l.src[l.pos:]
	switch {
	case strings.HasPrefix(rest, "&&"):
		l.pos += 2
		return token{kind: tokAnd, pos: start}, nil
	case strings.HasPrefix(rest, "||"):
		l.pos += 2
		return token{kind: tokOr, pos: start}, nil
	}

	r, w := l.peek()
	switch r {
	case '(':
		l.pos += w
		return token{kind: tokLParen, pos: start}, nil
	case ')':
		l.pos += w
		return token{kind: tokRParen, pos: start}, nil
	case '!':
		l.pos += w
		return token{kind: tokNot, pos: start}, nil
	case '+':
		l.pos += w
		return token{kind: tokPlus, pos: start}, nil
	case '-':
		l.pos += w
		return token{kind: tokMinus, pos: start}, nil
	case '"':
		return l.phrase()
	}
	return l.word()
}

func (l *lexer) phrase() (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for {
		r, w := l.peek()
		if w == 0 {
			return token{}, fmt.Errorf("%w: unterminated phrase at offset %d", ErrInvalidQuery, start)
		}
		l.pos += w
		if r == '\\' {
			esc, ew := l.peek()
			if ew == 0 {
				return token{}, fmt.Errorf("%w: dangling escape at offset %d", ErrInvalidQuery, l.pos-1)
			}
			l.pos += ew
			b.WriteRune(esc)
			continue
		}
		if r == '"' {
			break
		}
		b.WriteRune(r)
	}
	// Proximity slop is accepted and ignored; phrases match exactly.
	if r, _ := l.peek(); r == '~' {
		l.pos++
		l.number()
	}
	return token{kind: tokPhrase, text: b.String(), pos: start}, nil
}

func (l *lexer) word() (token, error) {
	start := l.pos
	var text, pattern strings.Builder
	escaped, wildcard := false, false
	tok := token{kind: tokWord, pos: start}

loop:
	for {
		r, w := l.peek()
		if w == 0 {
			break
		}
		switch {
		case unicode.IsSpace(r), r == '(', r == ')', r == '"':
			break loop
		case r == '\\':
			l.pos += w
			esc, ew := l.peek()
			if ew == 0 {
				return token{}, fmt.Errorf("%w: dangling escape at offset %d", ErrInvalidQuery, l.pos-1)
			}
			l.pos += ew
			escaped = true
			text.WriteRune(esc)
			pattern.WriteString(regexp.QuoteMeta(string(esc)))
			continue
		case r == ':':
			if _, ok := queryFields[text.String()]; ok && !escaped && !wildcard {
				l.pos += w
				return token{kind: tokField, text: text.String(), pos: start}, nil
			}
		case r == '~':
			l.pos += w
			tok.fuzzy = true
			tok.fuzziness = l.number()
			break loop
		case r == '*':
			wildcard = true
			text.WriteRune(r)
			pattern.WriteString(".*")
			l.pos += w
			continue
		case r == '?':
			wildcard = true
			text.WriteRune(r)
			pattern.WriteString(".")
			l.pos += w
			continue
		}
		text.WriteRune(r)
		pattern.WriteString(regexp.QuoteMeta(string(r)))
		l.pos += w
	}

	tok.text = text.String()
	if !escaped && !tok.fuzzy && !wildcard {
		switch tok.text {
		case "AND":
			return token{kind: tokAnd, pos: start}, nil
		case "OR":
			return token{kind: tokOr, pos: start}, nil
		case "NOT":
			return token{kind: tokNot, pos: start}, nil
		}
	}
	if tok.text == "" {
		return token{}, fmt.Errorf("%w: empty term at offset %d", ErrInvalidQuery, start)
	}
	if wildcard && tok.fuzzy {
		return token{}, fmt.Errorf("%w: fuzzy wildcard %q at offset %d", ErrInvalidQuery, tok.text, start)
	}
	if wildcard {
		tok.pattern = pattern.String()
	}
	return tok, nil
}

// number reads an optional edit distance after '~'.
func (l *lexer) number() int {
	start := l.pos
	for {
		r, w := l.peek()
		if w == 0 || !(r >= '0' && r <= '9' || r == '.') {
			break
		}
		l.pos += w
	}
	if l.pos == start {
		return DefaultFuzziness
	}
	f, err := strconv.ParseFloat(l.src[start:l.pos], 64)
	if err != nil {
		return DefaultFuzziness
	}
	return max(0, min(MaxFuzziness, int(f)))
}

// Parse parses query text. The default operator between clauses is AND and
// OR binds looser than AND.
func Parse(text string) (Node, error) {
	tokens, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokEOF {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidQuery)
	}
	node, err := p.parseOr("")
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrInvalidQuery, describe(tok), tok.pos)
	}
	return node, nil
}

type parser struct {
	tokens []token
	i      int
}

func (p *parser) peek() token {
	return p.tokens[p.i]
}

func (p *parser) advance() token {
	tok := p.tokens[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

func (p *parser) parseOr(field string) (Node, error) {
	first, err := p.parseAnd(field)
	if err != nil {
		return nil, err
	}
	clauses := []Node{first}
	for p.peek().kind == tokOr {
		p.advance()
		next, err := p.parseAnd(field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, next)
	}
	if len(clauses) == 1 {
		return first, nil
	}
	return &BooleanNode{Op: OpOr, Clauses: clauses}, nil
}

func (p *parser) parseAnd(field string) (Node, error) {
	first, err := p.parseUnary(field)
	if err != nil {
		return nil, err
	}
	clauses := []Node{first}
	for {
		switch p.peek().kind {
		case tokAnd:
			p.advance()
		case tokEOF, tokOr, tokRParen:
			if len(clauses) == 1 {
				return first, nil
			}
			return &BooleanNode{Op: OpAnd, Clauses: clauses}, nil
		}
		next, err := p.parseUnary(field)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, next)
	}
}

func (p *parser) parseUnary(field string) (Node, error) {
	switch tok := p.peek(); tok.kind {
	case tokNot, tokMinus:
		p.advance()
		clause, err := p.parseUnary(field)
		if err != nil {
			return nil, err
		}
		return &NotNode{Clause: clause}, nil
	case tokPlus:
		p.advance()
		return p.parseUnary(field)
	}
	return p.parsePrimary(field)
}

func (p *parser) parsePrimary(field string) (Node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokLParen:
		if p.peek().kind == tokRParen {
			return nil, fmt.Errorf("%w: empty group at offset %d", ErrInvalidQuery, tok.pos)
		}
		node, err := p.parseOr(field)
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: unbalanced parenthesis at offset %d", ErrInvalidQuery, tok.pos)
		}
		return node, nil
	case tokField:
		switch p.peek().kind {
		case tokWord, tokPhrase, tokLParen:
		default:
			return nil, fmt.Errorf("%w: empty field %q at offset %d", ErrInvalidQuery, tok.text, tok.pos)
		}
		return p.parsePrimary(tok.text)
	case tokWord:
		return &TermNode{
			Field:     field,
			Text:      tok.text,
			Fuzzy:     tok.fuzzy,
			Fuzziness: tok.fuzziness,
			Pattern:   tok.pattern,
		}, nil
	case tokPhrase:
		return &PhraseNode{Field: field, Text: tok.text}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %s at offset %d", ErrInvalidQuery, describe(tok), tok.pos)
	}
}

func describe(tok token) string {
	switch tok.kind {
	case tokEOF:
		return "end of query"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokNot:
		return "NOT"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokField:
		return "field " + tok.text
	case tokPhrase:
		return "phrase"
	default:
		return fmt.Sprintf("%q", tok.text)
	}
}
