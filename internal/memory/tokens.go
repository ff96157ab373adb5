package memory

import "unicode/utf8"

// EstimateTokens approximates a token count as ceil(characters/4). It is only
// used for threshold comparisons.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
