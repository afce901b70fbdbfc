package usecase

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var apostropheReplacer = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'", "`", "'")

// Normalize lowercases, NFKC-folds and strips diacritics, replaces non-word
// punctuation with spaces (keeping intra-word apostrophes) and collapses
// whitespace. Queries and BM25 tokens go through the same function.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = stripDiacritics(s)
	s = apostropheReplacer.Replace(s)

	src := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for i, r := range src {
		keep := isWordRune(r)
		if r == '\'' {
			keep = i > 0 && i < len(src)-1 && isWordRune(src[i-1]) && isWordRune(src[i+1])
		}
		if !keep {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokenize returns the whitespace tokens of the normalized text.
func Tokenize(s string) []string {
	return strings.Fields(Normalize(s))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// entityWords splits normalized text into words for entity matching, dropping
// possessive suffixes so "chronomancer's" matches "chronomancer".
func entityWords(normalized string) []string {
	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(f, "'s")
		f = strings.ReplaceAll(f, "'", "")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
