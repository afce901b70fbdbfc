package usecase

import (
	"maps"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

const (
	fuzzyTeamThreshold   = 80.0
	fuzzyMinWordLength   = 4
	distinctiveMinLength = 6
)

var entityStopWords = toSet(
	"a", "an", "the", "of", "and", "or", "to", "in", "on", "at", "by", "for", "with", "from",
	"is", "are", "be", "it", "its", "my", "your", "their", "his", "her", "this", "that",
	"if", "can", "does", "do", "what", "when", "how", "who", "which", "same", "into",
	"team", "teams", "operative", "operatives", "rule", "rules", "action", "actions",
	"ploy", "ploys", "equipment", "model", "models", "unit",
)

var commonRoleWords = toSet(
	"gunner", "warrior", "medic", "scout", "sniper", "leader", "sergeant", "trooper",
	"fighter", "breacher", "comms", "veteran", "champion", "captain", "marksman",
	"striker", "commander", "boss", "nob", "heavy", "grenadier", "operator",
)

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

// queryView is a query prepared once for all matchers.
type queryView struct {
	normalized string
	words      []string
	wordSet    map[string]struct{}
	// named holds teams the query names through an alias or team name.
	named map[string]struct{}
}

func newQueryView(query string) queryView {
	normalized := Normalize(query)
	words := entityWords(normalized)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return queryView{normalized: normalized, words: words, wordSet: set}
}

func (q queryView) has(word string) bool {
	_, ok := q.wordSet[word]
	return ok
}

func (q queryView) names(team string) bool {
	_, ok := q.named[team]
	return ok
}

// teamMatcher is one independent strategy of the entity filter.
type teamMatcher interface {
	match(q queryView) []string
}

type entityEntry struct {
	teams       []string
	words       []string
	meaningful  []string
	hasRoleWord bool
	// generic is set for names made of a single role word, e.g. "Gunner".
	generic bool
}

func buildEntityCache(names map[string][]string) []entityEntry {
	keys := make([]string, 0, len(names))
	for name := range names {
		keys = append(keys, name)
	}
	sort.Strings(keys)

	out := make([]entityEntry, 0, len(keys))
	for _, name := range keys {
		words := entityWords(name)
		if len(words) == 0 {
			continue
		}
		entry := entityEntry{teams: names[name], words: words}
		for _, w := range words {
			if _, role := commonRoleWords[w]; role {
				entry.hasRoleWord = true
			}
			if _, stop := entityStopWords[w]; !stop {
				entry.meaningful = append(entry.meaningful, w)
			}
		}
		if len(entry.meaningful) == 0 {
			continue
		}
		if len(entry.meaningful) == 1 {
			_, entry.generic = commonRoleWords[entry.meaningful[0]]
		}
		out = append(out, entry)
	}
	return out
}

func (e entityEntry) matchedWords(q queryView) (count int, distinctive bool) {
	for _, w := range e.meaningful {
		if !q.has(w) {
			continue
		}
		count++
		if _, role := commonRoleWords[w]; !role && utf8.RuneCountInString(w) >= distinctiveMinLength {
			distinctive = true
		}
	}
	return count, distinctive
}

// indexNames groups normalized entity names to the teams that own them.
func indexNames(catalog domain.TeamCatalog, names func(domain.Team) []string) map[string][]string {
	out := make(map[string][]string)
	for _, team := range catalog.Teams {
		for _, raw := range names(team) {
			name := Normalize(raw)
			if name == "" {
				continue
			}
			if !containsString(out[name], team.Name) {
				out[name] = append(out[name], team.Name)
			}
		}
	}
	return out
}

type operativeMatcher struct {
	entries []entityEntry
}

func newOperativeMatcher(catalog domain.TeamCatalog) operativeMatcher {
	names := indexNames(catalog, func(t domain.Team) []string { return t.Operatives })
	return operativeMatcher{entries: buildEntityCache(names)}
}

func (m operativeMatcher) match(q queryView) []string {
	var out []string
	for _, e := range m.entries {
		if !m.matches(e, q) {
			continue
		}
		out = append(out, e.owners(q)...)
	}
	return out
}

func (m operativeMatcher) matches(e entityEntry, q queryView) bool {
	if e.hasRoleWord && len(e.words) <= 2 {
		// "Heavy Gunner" must appear as a phrase, not as two loose words.
		return containsPhrase(q.words, e.words)
	}
	count, distinctive := e.matchedWords(q)
	switch len(e.meaningful) {
	case 1:
		return count == 1
	case 2:
		return count == 2 || distinctive
	default:
		return distinctive || count >= 2
	}
}

// owners resolves an operative name to teams. A name shared by several
// teams counts only for the teams the query names, or for all of them when
// it names none. A generic name counts only for a named team.
func (e entityEntry) owners(q queryView) []string {
	if !e.generic && len(e.teams) == 1 {
		return e.teams
	}
	var out []string
	for _, team := range e.teams {
		if q.names(team) {
			out = append(out, team)
		}
	}
	if len(out) == 0 && !e.generic {
		return e.teams
	}
	return out
}

type abilityMatcher struct {
	entries []entityEntry
}

func newAbilityMatcher(catalog domain.TeamCatalog) abilityMatcher {
	names := indexNames(catalog, domain.Team.Abilities)
	return abilityMatcher{entries: buildEntityCache(names)}
}

func (m abilityMatcher) match(q queryView) []string {
	var out []string
	for _, e := range m.entries {
		count, _ := e.matchedWords(q)
		need := 2
		switch len(e.meaningful) {
		case 1:
			need = 1
		case 2:
			need = 2
		}
		if count >= need {
			out = append(out, e.teams...)
		}
	}
	return out
}

type aliasRule struct {
	words []string
	teams []string
}

type aliasMatcher struct {
	rules []aliasRule
}

func newAliasMatcher(aliases []domain.AliasEntry) aliasMatcher {
	rules := make([]aliasRule, 0, len(aliases))
	for _, a := range aliases {
		words := entityWords(Normalize(a.Alias))
		if len(words) == 0 || len(a.Teams) == 0 {
			continue
		}
		rules = append(rules, aliasRule{words: words, teams: a.Teams})
	}
	return aliasMatcher{rules: rules}
}

func (m aliasMatcher) match(q queryView) []string {
	var out []string
	for _, r := range m.rules {
		if containsPhrase(q.words, r.words) || fuzzyPhraseScore(q, r.words) >= fuzzyTeamThreshold {
			out = append(out, r.teams...)
		}
	}
	return out
}

// fuzzyPhraseScore compares phrase with every query window of the same word
// count that starts on a word of at least four characters and returns the
// best ratio.
func fuzzyPhraseScore(q queryView, phrase []string) float64 {
	target := strings.Join(phrase, " ")
	if utf8.RuneCountInString(target) < fuzzyMinWordLength {
		return 0
	}
	best := 0.0
	for start, w := range q.words {
		end := start + len(phrase)
		if end > len(q.words) {
			break
		}
		if utf8.RuneCountInString(w) < fuzzyMinWordLength {
			continue
		}
		if _, stop := entityStopWords[w]; stop {
			continue
		}
		if score := fuzzyRatio(strings.Join(q.words[start:end], " "), target); score > best {
			best = score
		}
	}
	return best
}

type teamNameMatcher struct {
	names      []string
	normalized [][]string
}

func newTeamNameMatcher(catalog domain.TeamCatalog) teamNameMatcher {
	m := teamNameMatcher{}
	for _, team := range catalog.Teams {
		words := entityWords(Normalize(team.Name))
		if len(words) == 0 {
			continue
		}
		m.names = append(m.names, team.Name)
		m.normalized = append(m.normalized, words)
	}
	return m
}

// match keeps every team whose name is within the fuzzy threshold of a query
// phrase of the same length.
func (m teamNameMatcher) match(q queryView) []string {
	var out []string
	for i, teamWords := range m.normalized {
		if fuzzyPhraseScore(q, teamWords) >= fuzzyTeamThreshold {
			out = append(out, m.names[i])
		}
	}
	return out
}

// TeamFilter narrows the team catalogue to teams referenced by a query.
type TeamFilter struct {
	catalog domain.TeamCatalog
	// naming matchers run first; their teams settle shared operative names.
	naming   []teamMatcher
	matchers []teamMatcher
}

func NewTeamFilter(tables domain.Tables) *TeamFilter {
	return &TeamFilter{
		catalog: tables.Catalog,
		naming: []teamMatcher{
			newAliasMatcher(tables.Aliases),
			newTeamNameMatcher(tables.Catalog),
		},
		matchers: []teamMatcher{
			newOperativeMatcher(tables.Catalog),
			newAbilityMatcher(tables.Catalog),
		},
	}
}

// ExtractRelevantTeams returns the sorted union of teams found by every
// strategy. An empty result means the query names no team.
func (f *TeamFilter) ExtractRelevantTeams(query string) []string {
	if f == nil {
		return nil
	}
	q := newQueryView(query)
	if len(q.words) == 0 {
		return nil
	}
	set := make(map[string]struct{})
	for _, m := range f.naming {
		for _, team := range m.match(q) {
			set[team] = struct{}{}
		}
	}
	q.named = maps.Clone(set)
	for _, m := range f.matchers {
		for _, team := range m.match(q) {
			set[team] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for team := range set {
		out = append(out, team)
	}
	sort.Strings(out)
	return out
}

// CatalogFor returns the catalogue entries of the given teams, in order.
// Unknown names are skipped.
func (f *TeamFilter) CatalogFor(teams []string) []domain.Team {
	if f == nil || len(teams) == 0 {
		return nil
	}
	out := make([]domain.Team, 0, len(teams))
	for _, name := range teams {
		if team, ok := f.catalog.Lookup(name); ok {
			out = append(out, team)
		}
	}
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
