package lore

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/fateweaver/internal/worldpack"
)

// matchFuncFor builds the keyword rule for the given tunables.
//
// The default rule is [worldpack.KeywordMatch]: case-insensitive substring
// containment in either direction, which lets a query bigram hit a longer
// key and a short key hit a longer query phrase. With
// [Tunables.BidirectionalKeys] disabled only term-in-key containment counts.
// A positive [Tunables.FuzzyDistance] adds a Damerau-Levenshtein assist for
// small typos.
func matchFuncFor(tun Tunables) worldpack.MatchFunc {
	base := worldpack.KeywordMatch
	if !tun.BidirectionalKeys {
		base = containsMatch
	}
	if tun.FuzzyDistance <= 0 {
		return base
	}
	dist := tun.FuzzyDistance
	return func(term, key string) bool {
		return base(term, key) || fuzzyWordMatch(term, key, dist)
	}
}

// containsMatch is the one-directional rule: the term must appear inside the
// key, never the other way around.
func containsMatch(term, key string) bool {
	if term == "" || key == "" {
		return false
	}
	return strings.Contains(strings.ToLower(key), strings.ToLower(term))
}

// fuzzyWordMatch reports whether any whitespace-separated word of key is
// within dist Damerau-Levenshtein edits of term. Keys without spaces, such
// as chinese keys, are compared whole. Comparison is case-insensitive.
func fuzzyWordMatch(term, key string, dist int) bool {
	term = strings.ToLower(term)
	for _, word := range strings.Fields(strings.ToLower(key)) {
		if matchr.DamerauLevenshtein(term, word) <= dist {
			return true
		}
	}
	return false
}
