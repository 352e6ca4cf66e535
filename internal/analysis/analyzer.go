package analysis

import (
	"fmt"
	"iter"
	"slices"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
)

// Token is one analyzed term. Variants of the same word (original and folded)
// share Position.
type Token struct {
	Term     string
	Field    string
	Position int
	Start    int
	End      int
}

// fieldAnalyzer runs a complete pipeline over already normalized text.
type fieldAnalyzer func(text string) analysis.TokenStream

// Analyzer dispatches analysis by field name. It is immutable after New and safe
// for concurrent use.
type Analyzer struct {
	config FieldAnalyzerConfig
	index  map[string]fieldAnalyzer
	query  map[string]fieldAnalyzer
}

// New builds the per-field pipelines described by cfg.
func New(cfg FieldAnalyzerConfig) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analyzer config: %w", err)
	}

	stopWords := BuildStopWordMap(cfg.StopWords)
	a := &Analyzer{
		config: cfg,
		index:  make(map[string]fieldAnalyzer, len(cfg.Fields)),
		query:  make(map[string]fieldAnalyzer, len(cfg.Fields)),
	}
	for name, fc := range cfg.Fields {
		a.index[name] = buildPipeline(fc, stopWords, false)
		a.query[name] = buildPipeline(fc, stopWords, true)
	}
	return a, nil
}

// buildPipeline chains the stages for one field. Query pipelines never expand
// n-grams: a query term is looked up verbatim against the expanded postings.
func buildPipeline(fc FieldConfig, stopWords analysis.TokenMap, query bool) fieldAnalyzer {
	if fc.Kind == KindKeyword {
		tok := keywordTokenizer{}
		return func(text string) analysis.TokenStream {
			return tok.Tokenize([]byte(text))
		}
	}

	tok := wordTokenizer{}
	filters := []analysis.TokenFilter{lowercase.NewLowerCaseFilter()}
	if fc.Fold {
		filters = append(filters, dualTokenFilter{})
	}
	if fc.Stop {
		filters = append(filters, stop.NewStopTokensFilter(stopWords))
	}
	if fc.Kind == KindNgram && !query {
		filters = append(filters, ngram.NewNgramFilter(fc.NgramMin, fc.NgramMax), uniqueFilter{})
	}
	maxTokens := fc.MaxTokens

	return func(text string) analysis.TokenStream {
		stream := tok.Tokenize([]byte(text))
		if maxTokens > 0 && len(stream) > maxTokens {
			stream = stream[:maxTokens]
		}
		for _, f := range filters {
			stream = f.Filter(stream)
		}
		return stream
	}
}

// Config returns the configuration the analyzer was built from.
func (a *Analyzer) Config() FieldAnalyzerConfig {
	return a.config
}

// Fields returns the configured field names, sorted.
func (a *Analyzer) Fields() []string {
	names := make([]string, 0, len(a.index))
	for name := range a.index {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FieldConfig returns the configuration of one field.
func (a *Analyzer) FieldConfig(field string) (FieldConfig, bool) {
	fc, ok := a.config.Fields[field]
	return fc, ok
}

// Analyze returns the index-time token sequence of text for field. The pipeline
// runs when the sequence is iterated. Unknown fields yield nothing.
func (a *Analyzer) Analyze(field, text string) iter.Seq[Token] {
	return a.run(a.index, field, text)
}

// AnalyzeQuery returns the query-time token sequence of text for field: the same
// word-level stages as Analyze, without n-gram expansion.
func (a *Analyzer) AnalyzeQuery(field, text string) iter.Seq[Token] {
	return a.run(a.query, field, text)
}

func (a *Analyzer) run(pipelines map[string]fieldAnalyzer, field, text string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		fn, ok := pipelines[field]
		if !ok || text == "" {
			return
		}
		if fc := a.config.Fields[field]; fc.Kind != KindKeyword {
			text = Normalize(text)
		}
		for _, t := range fn(text) {
			if len(t.Term) == 0 {
				continue
			}
			tok := Token{
				Term:     string(t.Term),
				Field:    field,
				Position: t.Position,
				Start:    t.Start,
				End:      t.End,
			}
			if !yield(tok) {
				return
			}
		}
	}
}

// Terms collects the distinct terms of a token sequence in first-seen order.
func Terms(seq iter.Seq[Token]) []string {
	var terms []string
	seen := make(map[string]struct{})
	for t := range seq {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		terms = append(terms, t.Term)
	}
	return terms
}

// Groups collects the terms of a token sequence by position, in position order.
// Each group holds the variants of one word.
func Groups(seq iter.Seq[Token]) [][]string {
	var groups [][]string
	lastPos := -1
	for t := range seq {
		if t.Position != lastPos || len(groups) == 0 {
			groups = append(groups, nil)
			lastPos = t.Position
		}
		g := &groups[len(groups)-1]
		if !slices.Contains(*g, t.Term) {
			*g = append(*g, t.Term)
		}
	}
	return groups
}
