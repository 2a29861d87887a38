package ocr

import "strings"

// Similarity returns 1 minus the Levenshtein distance of a and b divided
// by the length of the longer string. Comparison is case-insensitive.
func Similarity(a, b string) float64 {
	ra := []rune(strings.ToLower(strings.TrimSpace(a)))
	rb := []rune(strings.ToLower(strings.TrimSpace(b)))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	if len(ra) == 0 {
		return 0
	}
	d := levenshtein(ra, rb)
	return float64(len(rb)-d) / float64(len(rb))
}

// levenshtein computes the edit distance with two rolling rows.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Closest returns the index of the name most similar to text and its
// similarity. It returns -1 when names is empty.
func Closest(text string, names []string) (int, float64) {
	best, score := -1, -1.0
	for i, n := range names {
		if s := Similarity(text, n); s > score {
			best, score = i, s
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, score
}
