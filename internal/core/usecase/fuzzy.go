package usecase

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// fuzzyRatio is the normalized Levenshtein similarity on a 0..100 scale.
func fuzzyRatio(a, b string) float64 {
	if a == b {
		return 100
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(dist)/float64(longest))
}

// coverageWindows bounds the Levenshtein comparisons per window size.
const coverageWindows = 8

// coverageSimilarity measures how well needle is covered by some contiguous
// stretch of haystack, in [0,1]. Both inputs are compared after Normalize.
// A verbatim substring scores 1. Otherwise the word windows of haystack whose
// length is within one word of needle are ranked by the words they share with
// needle, and the best few are compared with normalized Levenshtein
// similarity.
func coverageSimilarity(needle, haystack string) float64 {
	n := Normalize(needle)
	h := Normalize(haystack)
	if n == "" {
		return symbolCoverage(needle, haystack)
	}
	if strings.Contains(h, n) {
		return 1
	}

	nWords := strings.Fields(n)
	hWords := strings.Fields(h)
	if len(hWords) == 0 {
		return 0
	}
	want := make(map[string]int, len(nWords))
	for _, w := range nWords {
		want[w]++
	}

	best := 0.0
	for size := max(len(nWords)-1, 1); size <= len(nWords)+1; size++ {
		if size > len(hWords) {
			size = len(hWords)
		}
		for _, start := range sharedWordWindows(want, hWords, size, coverageWindows) {
			window := strings.Join(hWords[start:start+size], " ")
			if score := fuzzyRatio(n, window) / 100; score > best {
				best = score
			}
		}
		if size == len(hWords) {
			break
		}
	}
	return best
}

// symbolCoverage scores a needle that normalizes to nothing, e.g. "-/+" or
// "(*)": 1 when it occurs in haystack after whitespace is collapsed.
func symbolCoverage(needle, haystack string) float64 {
	raw := strings.Join(strings.Fields(needle), " ")
	if raw == "" {
		return 0
	}
	if strings.Contains(strings.Join(strings.Fields(haystack), " "), raw) {
		return 1
	}
	return 0
}

// sharedWordWindows returns the starts of at most limit windows of size words
// that share the most words with want, counted with multiplicity. Earlier
// windows win ties.
func sharedWordWindows(want map[string]int, words []string, size, limit int) []int {
	type window struct {
		start  int
		shared int
	}
	seen := make(map[string]int, len(want))
	shared := 0
	windows := make([]window, 0, len(words)-size+1)
	for i, w := range words {
		if seen[w] < want[w] {
			shared++
		}
		seen[w]++
		if i >= size {
			out := words[i-size]
			seen[out]--
			if seen[out] < want[out] {
				shared--
			}
		}
		if i >= size-1 {
			windows = append(windows, window{start: i - size + 1, shared: shared})
		}
	}
	sort.SliceStable(windows, func(a, b int) bool {
		return windows[a].shared > windows[b].shared
	})
	if len(windows) > limit {
		windows = windows[:limit]
	}
	starts := make([]int, len(windows))
	for i, w := range windows {
		starts[i] = w.start
	}
	return starts
}
