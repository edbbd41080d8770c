package pruner

import "strings"

// stopwords is the fixed English filter applied before picking w3w
// tokens. Localization is a future extension.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true,
	"with": true, "this": true, "from": true, "have": true,
	"are": true, "was": true, "were": true, "will": true,
	"been": true, "has": true, "had": true, "would": true,
}

// placeholderToken pads the w3w triple when the content yields fewer
// than three significant words.
const placeholderToken = "placeholder"

// TokenizeW3W derives exactly three lowercase tokens from a text.
//
// Words are lowercased and split on whitespace; tokens shorter than
// three characters and stopwords are dropped. The first three remaining
// tokens are taken in source order, padded with "placeholder" when
// fewer than three remain.
func TokenizeW3W(content string) []string {
	var significant []string
	for _, word := range strings.Fields(strings.ToLower(content)) {
		if len(word) < 3 || stopwords[word] {
			continue
		}
		significant = append(significant, word)
		if len(significant) == 3 {
			break
		}
	}

	for len(significant) < 3 {
		significant = append(significant, placeholderToken)
	}
	return significant
}
