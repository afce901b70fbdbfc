package usecase

import (
	"strings"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

type synonymRule struct {
	canonical string
	phrases   [][]string
}

// SynonymExpander appends canonical game terms to a normalized query when one
// of their surface synonyms occurs in it. The expanded form feeds BM25 only.
type SynonymExpander struct {
	rules []synonymRule
}

func NewSynonymExpander(entries []domain.SynonymEntry) *SynonymExpander {
	rules := make([]synonymRule, 0, len(entries))
	for _, entry := range entries {
		canonical := Normalize(entry.Canonical)
		if canonical == "" {
			continue
		}
		rule := synonymRule{canonical: canonical}
		for _, synonym := range entry.Synonyms {
			if words := strings.Fields(Normalize(synonym)); len(words) > 0 {
				rule.phrases = append(rule.phrases, words)
			}
		}
		if len(rule.phrases) > 0 {
			rules = append(rules, rule)
		}
	}
	return &SynonymExpander{rules: rules}
}

// Expand returns the normalized query followed by every matched canonical
// term, each at most once, in table order.
func (e *SynonymExpander) Expand(query string) string {
	normalized := Normalize(query)
	if e == nil || len(e.rules) == 0 || normalized == "" {
		return normalized
	}
	tokens := strings.Fields(normalized)

	added := make(map[string]struct{})
	var b strings.Builder
	b.WriteString(normalized)
	for _, rule := range e.rules {
		if _, done := added[rule.canonical]; done {
			continue
		}
		if !rule.matches(tokens) {
			continue
		}
		if containsPhrase(tokens, strings.Fields(rule.canonical)) {
			continue
		}
		added[rule.canonical] = struct{}{}
		b.WriteByte(' ')
		b.WriteString(rule.canonical)
	}
	return b.String()
}

func (r synonymRule) matches(tokens []string) bool {
	for _, phrase := range r.phrases {
		if containsPhrase(tokens, phrase) {
			return true
		}
	}
	return false
}

// containsPhrase reports whether phrase occurs as a contiguous token run.
// A single-token phrase therefore has word-boundary semantics.
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	for start := 0; start+len(phrase) <= len(tokens); start++ {
		matched := true
		for i, word := range phrase {
			if tokens[start+i] != word {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
