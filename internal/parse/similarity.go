package parse

import "strings"

// Similarity scores two identifiers in [0,1]: exact match is 1.0, otherwise
// a matching-blocks ratio with containment bumped to at least 0.7.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1.0
	}
	r := ratio(a, b)
	if strings.Contains(a, b) || strings.Contains(b, a) {
		if r < 0.7 {
			r = 0.7
		}
	}
	return r
}

// ratio is 2*M/T where M is the total length of the matching blocks found by
// recursively taking the longest common substring, and T the combined length.
func ratio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 1.0
	}
	m := matchTotal(a, b)
	return 2 * float64(m) / float64(len(a)+len(b))
}

func matchTotal(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	ai, bi, size := longestMatch(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchTotal(a[:ai], b[:bi]) +
		matchTotal(a[ai+size:], b[bi+size:])
}

// longestMatch finds the longest common substring of a and b, preferring the
// earliest occurrence for determinism.
func longestMatch(a, b string) (ai, bi, size int) {
	// prev[j] is the match length ending at a[i-1], b[j-1].
	prev := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		curr := make([]int, len(b)+1)
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			}
		}
		prev = curr
	}
	return ai, bi, size
}
