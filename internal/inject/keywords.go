package inject

import "regexp"

// Keyword extraction bounds.
const maxKeywords = 20

var wordRe = regexp.MustCompile(`[a-zA-Z]{3,}`)

// ExtractKeywords lowercases the text, pulls alphabetic tokens of three or
// more characters, drops stopwords, and de-duplicates preserving first
// occurrence, capped at 20.
func ExtractKeywords(text string) []string {
	words := wordRe.FindAllString(lower(text), -1)
	seen := make(map[string]bool, len(words))
	var out []string
	for _, w := range words {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) >= maxKeywords {
			break
		}
	}
	return out
}

var stopwords = map[string]bool{
	"the": true, "and": true, "was": true, "were": true, "been": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "for": true, "with": true, "from": true,
	"into": true, "through": true, "during": true, "before": true,
	"after": true, "above": true, "below": true, "between": true,
	"under": true, "again": true, "then": true, "once": true, "here": true,
	"there": true, "when": true, "where": true, "why": true, "how": true,
	"all": true, "each": true, "few": true, "more": true, "most": true,
	"other": true, "some": true, "such": true, "nor": true, "not": true,
	"only": true, "own": true, "same": true, "than": true, "too": true,
	"very": true, "just": true, "but": true, "because": true, "until": true,
	"while": true, "this": true, "that": true, "these": true, "those": true,
	"you": true, "your": true, "his": true, "her": true, "its": true,
	"they": true, "them": true, "their": true, "what": true, "which": true,
	"who": true, "can": true, "want": true, "need": true, "like": true,
	"know": true, "think": true, "about": true, "get": true, "got": true,
	"tell": true, "said": true, "say": true, "going": true, "really": true,
	"also": true, "well": true, "back": true, "now": true, "way": true,
	"even": true, "new": true, "come": true, "over": true, "take": true,
	"year": true, "good": true, "see": true, "look": true, "use": true,
	"two": true, "our": true, "work": true, "first": true, "any": true,
	"give": true, "day": true, "are": true, "out": true,
}
