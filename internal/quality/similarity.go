package quality

import "unicode/utf8"

// maxEditRunes bounds the texts compared with the exact edit distance; longer
// texts fall back to a length-based estimate.
const maxEditRunes = 2000

// levenshtein returns the edit distance between two strings (rune-aware).
// Uses a space-optimized two-row DP implementation.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			curr[j] = 1 + min(prev[j], prev[j-1], curr[j-1])
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// Similarity returns a similarity score in [0, 1] (1 = identical).
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if la > maxEditRunes || lb > maxEditRunes {
		diff := la - lb
		if diff < 0 {
			diff = -diff
		}
		// at least one rune changed
		return 1 - float64(max(diff, 1))/float64(longest)
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// ChangeRatio is the share of the text a pass rewrote.
func ChangeRatio(before, after string) float64 {
	return round2(1 - Similarity(before, after))
}
