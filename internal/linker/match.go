// Package linker maintains document-product associations and attaches
// extracted error-code occurrences to their best supporting evidence.
package linker

import "strings"

// levenshteinDistance calculates the minimum number of single-character edits
// (insertions, deletions, or substitutions) required to change one string into
// another. Pure function, rune-aware.
func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	runesA := []rune(a)
	runesB := []rune(b)
	lenA := len(runesA)
	lenB := len(runesB)

	// Two rows are enough for the edit-distance matrix.
	prev := make([]int, lenB+1)
	curr := make([]int, lenB+1)
	for j := 0; j <= lenB; j++ {
		prev[j] = j
	}
	for i := 1; i <= lenA; i++ {
		curr[0] = i
		for j := 1; j <= lenB; j++ {
			cost := 0
			if runesA[i-1] != runesB[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[lenB]
}

// textMatchDistance scores how closely text supports the given code: 0 when
// the text contains the code verbatim (case-insensitive), otherwise the
// smallest edit distance between the code and any same-length window of the
// text. Lower is better.
func textMatchDistance(text, code string) int {
	if code == "" {
		return 0
	}
	lowText := strings.ToLower(text)
	lowCode := strings.ToLower(code)
	if strings.Contains(lowText, lowCode) {
		return 0
	}

	runes := []rune(lowText)
	window := len([]rune(lowCode))
	if len(runes) < window {
		return levenshteinDistance(lowText, lowCode)
	}
	best := window // an all-substitutions window bounds the distance
	for i := 0; i+window <= len(runes); i++ {
		d := levenshteinDistance(string(runes[i:i+window]), lowCode)
		if d < best {
			best = d
			if best == 0 {
				break
			}
		}
	}
	return best
}
