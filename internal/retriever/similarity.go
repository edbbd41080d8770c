package retriever

// Ratio computes a Ratcliff/Obershelp similarity between two strings:
// twice the number of matching characters divided by the total number
// of characters. Matching characters are found by locating the longest
// common substring and recursing on the pieces to its left and right.
func Ratio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)

	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}

	return 2.0 * float64(matchingChars(ra, rb)) / float64(total)
}

// matchingChars counts the characters covered by recursively matching
// the longest common substrings of a and b.
func matchingChars(a, b []rune) int {
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}

	matched := size
	matched += matchingChars(a[:ai], b[:bi])
	matched += matchingChars(a[ai+size:], b[bi+size:])
	return matched
}

// longestCommonSubstring returns the start offsets and length of the
// longest run of characters common to a and b. Ties resolve to the
// earliest occurrence in a, then in b.
func longestCommonSubstring(a, b []rune) (int, int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0, 0
	}

	bestA, bestB, bestSize := 0, 0, 0

	// prev[j] is the length of the common suffix ending at a[i-1], b[j-1]
	// from the previous row; curr is the row being filled for a[i]
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 0; i < len(a); i++ {
		for j := 0; j < len(b); j++ {
			if a[i] == b[j] {
				curr[j+1] = prev[j] + 1
				if curr[j+1] > bestSize {
					bestSize = curr[j+1]
					bestA = i - bestSize + 1
					bestB = j - bestSize + 1
				}
			} else {
				curr[j+1] = 0
			}
		}
		prev, curr = curr, prev
	}

	return bestA, bestB, bestSize
}
