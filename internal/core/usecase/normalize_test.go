package usecase

import (
	"strings"
	"testing"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

func TestNormalizeFoldsCaseDiacriticsAndPunctuation(t *testing.T) {
	cases := map[string]string{
		"Can a model   SHOOT twice?": "can a model shoot twice",
		"Chronomancer’s Nanomine":    "chronomancer's nanomine",
		"Ｆｕｌｌ-width «Café» rules...": "full width cafe rules",
		"'quoted' words":             "quoted words",
		"don't stop":                 "don't stop",
		"  \t\n ":                    "",
		"APL 2/3 vs. range ⬤ (6\")":  "apl 2 3 vs range 6",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"Can a model perform two Shoot actions in the same activation?",
		"If my Angels of Death Heavy Gunner is hit by a Hierotek Circle Chronomancer's Countertemporal Nanomine",
		"ÉLITE – ‘Counteract’ … ＡＰＬ",
		"'' ' a'b' 'c ''",
		"ﬁre ﬁght ½ ²",
		"",
		"Ωmega ǅ İstanbul",
	}
	for _, s := range inputs {
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("Normalize not idempotent for %q: %q -> %q", s, once, twice)
		}
	}
}

func TestTokenizeSplitsNormalizedText(t *testing.T) {
	got := Tokenize("Overwatch, Shoot & Fight!")
	want := []string{"overwatch", "shoot", "fight"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("Tokenize() = %v, want %v", got, want)
	}
}

func testSynonyms() []domain.SynonymEntry {
	return []domain.SynonymEntry{
		{Canonical: "Shoot action", Synonyms: []string{"fire", "shooting", "open fire"}},
		{Canonical: "Engagement Range", Synonyms: []string{"melee range", "base contact"}},
		{Canonical: "APL", Synonyms: []string{"action point limit", "action points"}},
	}
}

func TestSynonymExpanderAppendsCanonicalTermsOnce(t *testing.T) {
	expander := NewSynonymExpander(testSynonyms())

	got := expander.Expand("Can I open fire while shooting from melee range?")
	want := "can i open fire while shooting from melee range shoot action engagement range"
	if got != want {
		t.Fatalf("Expand() = %q, want %q", got, want)
	}
}

func TestSynonymExpanderUsesWordBoundaries(t *testing.T) {
	expander := NewSynonymExpander(testSynonyms())

	if got := expander.Expand("Is a firefight ploy usable?"); got != "is a firefight ploy usable" {
		t.Fatalf("expected no expansion inside a word, got %q", got)
	}
	if got := expander.Expand("melee and range"); got != "melee and range" {
		t.Fatalf("expected multi-token synonym to require contiguity, got %q", got)
	}
}

func TestSynonymExpanderSkipsCanonicalAlreadyPresent(t *testing.T) {
	expander := NewSynonymExpander(testSynonyms())

	got := expander.Expand("Does APL change my action points?")
	if got != "does apl change my action points" {
		t.Fatalf("expected canonical already present to be skipped, got %q", got)
	}
}

func TestSynonymExpansionIsAdditive(t *testing.T) {
	expander := NewSynonymExpander(testSynonyms())
	queries := []string{
		"fire fire fire",
		"base contact and melee range while shooting",
		"What is the Action Point Limit?",
		"hello",
		"",
	}
	for _, q := range queries {
		base := Tokenize(q)
		expanded := strings.Fields(expander.Expand(q))
		if len(expanded) < len(base) {
			t.Fatalf("expansion dropped tokens for %q", q)
		}
		for i := range base {
			if expanded[i] != base[i] {
				t.Fatalf("expansion changed original tokens for %q: %v", q, expanded)
			}
		}
		tail := strings.Join(expanded[len(base):], " ")
		for _, entry := range testSynonyms() {
			canonical := Normalize(entry.Canonical)
			if strings.Count(" "+tail+" ", " "+canonical+" ") > 1 {
				t.Fatalf("canonical %q appended twice for %q", canonical, q)
			}
		}
	}
}
