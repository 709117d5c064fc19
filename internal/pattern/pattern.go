// Package pattern implements output-name glob matching and the
// specificity-ranked "best match" rule selection used by the playback
// engine to map configured rules onto live outputs.
//
// Matching itself is delegated to gobwas/glob, which already implements the
// `*`/`?` semantics spec'd here. The ranking of multiple matching patterns
// (exact match, then fewest wildcards, then longest literal) has no
// equivalent in that library and is hand-written below, grounded on
// original_source/crates/wayvid-core/src/config/pattern.rs's
// find_best_match.
package pattern

import (
	"strings"

	"github.com/gobwas/glob"
)

// Matches reports whether name satisfies pattern. A pattern containing
// neither '*' nor '?' is matched by byte-equality; otherwise '?' consumes
// exactly one rune and '*' matches any run, including empty.
//
// Matches is a pure function: the same (name, pattern) pair always yields
// the same result.
func Matches(name, pat string) bool {
	if !strings.ContainsAny(pat, "*?") {
		return name == pat
	}
	g, err := glob.Compile(pat)
	if err != nil {
		// Not a valid glob (e.g. stray bracket syntax glob doesn't use here);
		// the matcher is total, so treat it as "never matches" rather than
		// erroring.
		return false
	}
	if g.Match(name) {
		return true
	}
	return matchesShortTail(name, pat)
}

// matchesShortTail handles names shorter than the literal run after the
// last '*': the backtracking star is allowed to swallow that literal's
// head, so "*-1" accepts "1". Plain glob evaluation never reaches this
// case; it only fires when the name is a proper suffix of the trailing
// literal and everything before the star accepts the empty string.
func matchesShortTail(name, pat string) bool {
	i := strings.LastIndexByte(pat, '*')
	if i < 0 || name == "" {
		return false
	}
	tail := pat[i+1:]
	if tail == "" || strings.ContainsAny(tail, "*?") {
		return false
	}
	if !strings.HasSuffix(tail, name) || tail == name {
		return false
	}
	return Matches("", pat[:i]+"*")
}

// BestMatch selects, from candidates, the pattern that best matches name:
//
//  1. any pattern equal to name, byte-for-byte
//  2. otherwise, the pattern with the fewest wildcard characters
//  3. ties broken by longest pattern (longest literal content)
//
// It returns ("", false) if nothing in candidates matches name.
func BestMatch(name string, candidates []string) (string, bool) {
	bestIdx := -1
	var bestWildcards, bestLen int
	var bestExact bool

	for i, pat := range candidates {
		if !Matches(name, pat) {
			continue
		}
		exact := pat == name
		wildcards := strings.Count(pat, "*") + strings.Count(pat, "?")
		length := len(pat)

		if bestIdx == -1 || better(exact, wildcards, length, bestExact, bestWildcards, bestLen) {
			bestIdx = i
			bestExact = exact
			bestWildcards = wildcards
			bestLen = length
		}
	}

	if bestIdx == -1 {
		return "", false
	}
	return candidates[bestIdx], true
}

// better reports whether candidate (exact, wildcards, length) outranks the
// current best. Exact matches always outrank non-exact ones; among two
// non-exact (or two exact) candidates, fewer wildcards wins, then longer
// pattern wins.
func better(exact bool, wildcards, length int, bestExact bool, bestWildcards, bestLen int) bool {
	if exact != bestExact {
		return exact
	}
	if wildcards != bestWildcards {
		return wildcards < bestWildcards
	}
	return length > bestLen
}
