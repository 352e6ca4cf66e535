package search

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"
	"github.com/blevesearch/vellum/regexp"

	"github.com/Aman-CERP/amanfind/internal/analysis"
	"github.com/Aman-CERP/amanfind/internal/store"
)

// MaxExpansions caps the dictionary terms a wildcard or fuzzy term expands to.
const MaxExpansions = 1024

// allFieldBoosts holds the boost of every searchable field, used for explicit
// field prefixes.
var allFieldBoosts = func() map[string]float64 {
	m := make(map[string]float64)
	for _, fb := range modeFields[ModeAll] {
		m[fb.Field] = fb.Boost
	}
	return m
}()

// levenshteinBuilders holds one builder per edit distance. BuildDfa ignores
// its distance argument; the builder's own distance is the one applied.
var levenshteinBuilders = [MaxFuzziness + 1]func() (*levenshtein.LevenshteinAutomatonBuilder, error){
	1: sync.OnceValues(func() (*levenshtein.LevenshteinAutomatonBuilder, error) {
		return levenshtein.NewLevenshteinAutomatonBuilder(1, false)
	}),
	2: sync.OnceValues(func() (*levenshtein.LevenshteinAutomatonBuilder, error) {
		return levenshtein.NewLevenshteinAutomatonBuilder(2, false)
	}),
}

// hits maps matching documents to their accumulated score. A nil hits value
// means the clause analyzed to nothing and does not constrain the result.
type hits map[store.DocID]float64

// evaluator runs a query tree against one reader.
type evaluator struct {
	ctx      context.Context
	reader   *store.Reader
	analyzer *analysis.Analyzer
	fields   []FieldBoost
	k1, b    float64
}

func (e *evaluator) eval(node Node) (hits, error) {
	if err := e.ctx.Err(); err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *BooleanNode:
		return e.evalBoolean(n)
	case *NotNode:
		// A purely negative query matches nothing.
		return hits{}, nil
	case *TermNode:
		return e.evalTerm(n)
	case *PhraseNode:
		return e.evalPhrase(n)
	default:
		return nil, fmt.Errorf("unsupported query node %T", node)
	}
}

func (e *evaluator) evalBoolean(n *BooleanNode) (hits, error) {
	var result, excluded hits
	positive := false
	for _, clause := range n.Clauses {
		if not, ok := clause.(*NotNode); ok {
			h, err := e.eval(not.Clause)
			if err != nil {
				return nil, err
			}
			excluded = union(excluded, h)
			continue
		}
		h, err := e.eval(clause)
		if err != nil {
			return nil, err
		}
		if h == nil {
			continue
		}
		switch {
		case !positive:
			result = h
		case n.Op == OpAnd:
			result = intersect(result, h)
		default:
			result = union(result, h)
		}
		positive = true
	}
	if !positive {
		if excluded != nil {
			return hits{}, nil
		}
		return nil, nil
	}
	for doc := range excluded {
		delete(result, doc)
	}
	return result, nil
}

// targets returns the fields a leaf searches.
func (e *evaluator) targets(field string) []FieldBoost {
	if field == "" {
		return e.fields
	}
	var out []FieldBoost
	for _, f := range queryFields[field] {
		out = append(out, FieldBoost{Field: f, Boost: allFieldBoosts[f]})
	}
	return out
}

func (e *evaluator) evalTerm(n *TermNode) (hits, error) {
	if n.Field == "" && !n.Wildcard() && !n.Fuzzy && e.stopWordOnly(n.Text) {
		return nil, nil
	}

	var result hits
	for _, fb := range e.targets(n.Field) {
		fc, ok := e.analyzer.FieldConfig(fb.Field)
		if !ok {
			continue
		}

		var groups [][]string
		switch {
		case n.Wildcard() || n.Fuzzy:
			// Expansion runs against word dictionaries only.
			if fc.Kind != analysis.KindWord {
				continue
			}
			terms, err := e.expand(fb.Field, n)
			if err != nil {
				return nil, err
			}
			groups = [][]string{terms}
		default:
			groups = analysis.Groups(e.analyzer.AnalyzeQuery(fb.Field, n.Text))
			if len(groups) == 0 {
				continue
			}
		}

		h, err := e.scoreGroups(fb.Field, groups)
		if err != nil {
			return nil, err
		}
		result = union(result, scale(h, fb.Boost))
	}
	return result, nil
}

// stopWordOnly reports whether every stop-filtering word field of the mode
// drops text entirely. Such a term constrains none of the mode's fields.
func (e *evaluator) stopWordOnly(text string) bool {
	filtered := false
	for _, fb := range e.fields {
		fc, ok := e.analyzer.FieldConfig(fb.Field)
		if !ok || fc.Kind != analysis.KindWord || !fc.Stop {
			continue
		}
		if len(analysis.Groups(e.analyzer.AnalyzeQuery(fb.Field, text))) > 0 {
			return false
		}
		filtered = true
	}
	return filtered
}

// scoreGroups requires every group and scores each by its best variant.
func (e *evaluator) scoreGroups(field string, groups [][]string) (hits, error) {
	var result hits
	for i, variants := range groups {
		h := make(hits)
		for _, term := range variants {
			postings, err := e.reader.Postings(field, term)
			if err != nil {
				return nil, err
			}
			df := float64(len(postings))
			for _, p := range postings {
				s := e.score(field, p.Doc, float64(p.Freq), df)
				if s > h[p.Doc] {
					h[p.Doc] = s
				}
			}
		}
		if i == 0 {
			result = h
		} else {
			result = intersect(result, h)
		}
		if len(result) == 0 {
			return hits{}, nil
		}
	}
	return result, nil
}

func (e *evaluator) score(field string, doc store.DocID, tf, df float64) float64 {
	st := e.reader.FieldStats(field)
	docLen := float64(e.reader.FieldLength(field, doc))
	return BM25(tf, df, float64(st.DocCount), docLen, st.AvgLength(), e.k1, e.b)
}

// expand lists the dictionary terms of field matched by a wildcard or fuzzy term.
func (e *evaluator) expand(field string, n *TermNode) ([]string, error) {
	var auts []vellum.Automaton
	var exact []string
	switch {
	case n.Wildcard():
		for _, p := range variants(n.Pattern) {
			re, err := regexp.New(p)
			if err != nil {
				slog.Debug("wildcard_term_skipped", slog.String("term", n.Text), slog.String("error", err.Error()))
				continue
			}
			auts = append(auts, re)
		}
	case n.Fuzziness == 0:
		exact = variants(n.Text)
	default:
		builder, err := levenshteinBuilders[min(n.Fuzziness, MaxFuzziness)]()
		if err != nil {
			return nil, fmt.Errorf("failed to build fuzzy automaton: %w", err)
		}
		for _, v := range variants(n.Text) {
			dfa, err := builder.BuildDfa(v, uint8(n.Fuzziness))
			if err != nil {
				slog.Debug("fuzzy_term_skipped", slog.String("term", v), slog.String("error", err.Error()))
				continue
			}
			auts = append(auts, dfa)
		}
	}

	seen := make(map[string]struct{})
	for _, t := range exact {
		seen[t] = struct{}{}
	}
	for _, aut := range auts {
		terms, err := e.reader.Terms(field, aut)
		if err != nil {
			return nil, err
		}
		for _, t := range terms {
			seen[t] = struct{}{}
		}
	}
	terms := slices.Sorted(maps.Keys(seen))
	if len(terms) > MaxExpansions {
		slog.Debug("query_expansion_truncated",
			slog.String("field", field),
			slog.String("term", n.Text),
			slog.Int("matched", len(terms)),
			slog.Int("kept", MaxExpansions))
		terms = terms[:MaxExpansions]
	}
	return terms, nil
}

// variants returns the lowercased and diacritic-folded spellings of s.
func variants(s string) []string {
	lower := strings.ToLower(analysis.Normalize(s))
	folded := analysis.Fold(lower)
	if folded == lower {
		return []string{lower}
	}
	return []string{lower, folded}
}

type positionedGroup struct {
	offset int
	terms  []string
}

func positionedGroups(seq iter.Seq[analysis.Token]) []positionedGroup {
	var groups []positionedGroup
	first := -1
	for t := range seq {
		if first < 0 {
			first = t.Position
		}
		off := t.Position - first
		if len(groups) == 0 || groups[len(groups)-1].offset != off {
			groups = append(groups, positionedGroup{offset: off})
		}
		g := &groups[len(groups)-1]
		if !slices.Contains(g.terms, t.Term) {
			g.terms = append(g.terms, t.Term)
		}
	}
	return groups
}

func (e *evaluator) evalPhrase(n *PhraseNode) (hits, error) {
	var result hits
	for _, fb := range e.targets(n.Field) {
		fc, ok := e.analyzer.FieldConfig(fb.Field)
		if !ok || !fc.Positions {
			continue
		}
		groups := positionedGroups(e.analyzer.AnalyzeQuery(fb.Field, n.Text))
		if len(groups) == 0 {
			continue
		}
		h, err := e.scorePhrase(fb.Field, groups)
		if err != nil {
			return nil, err
		}
		result = union(result, scale(h, fb.Boost))
	}
	if result == nil {
		return hits{}, nil
	}
	return result, nil
}

// scorePhrase matches groups at their relative offsets. The phrase frequency
// stands in for the term frequency of every group.
func (e *evaluator) scorePhrase(field string, groups []positionedGroup) (hits, error) {
	type groupPositions struct {
		offset int
		docs   map[store.DocID][]uint32
	}

	all := make([]groupPositions, 0, len(groups))
	for _, g := range groups {
		gp := groupPositions{offset: g.offset, docs: make(map[store.DocID][]uint32)}
		for _, term := range g.terms {
			postings, err := e.reader.Postings(field, term)
			if err != nil {
				return nil, err
			}
			for _, p := range postings {
				gp.docs[p.Doc] = append(gp.docs[p.Doc], p.Positions...)
			}
		}
		if len(gp.docs) == 0 {
			return hits{}, nil
		}
		for doc, pos := range gp.docs {
			slices.Sort(pos)
			gp.docs[doc] = slices.Compact(pos)
		}
		all = append(all, gp)
	}

	result := make(hits)
	for doc, starts := range all[0].docs {
		freq := 0
		for _, start := range starts {
			matched := true
			for _, g := range all[1:] {
				want := start + uint32(g.offset)
				if _, found := slices.BinarySearch(g.docs[doc], want); !found {
					matched = false
					break
				}
			}
			if matched {
				freq++
			}
		}
		if freq == 0 {
			continue
		}
		var s float64
		for _, g := range all {
			s += e.score(field, doc, float64(freq), float64(len(g.docs)))
		}
		result[doc] = s
	}
	return result, nil
}

func union(a, b hits) hits {
	if a == nil {
		return b
	}
	for doc, s := range b {
		a[doc] += s
	}
	return a
}

func intersect(a, b hits) hits {
	out := make(hits)
	for doc, s := range a {
		if t, ok := b[doc]; ok {
			out[doc] = s + t
		}
	}
	return out
}

func scale(h hits, boost float64) hits {
	for doc := range h {
		h[doc] *= boost
	}
	return h
}
