package inject

import "strings"

// Context is what the extraction pass found worth injecting, plus the
// bookkeeping the decision record wants.
type Context struct {
	Topics            []string
	Facts             []Fact
	Themes            []string
	CrossTopics       []string
	QuasiConcepts     []string
	ActiveCrystals    []string
	ConversationCount int

	Relevance    float64
	Confidence   float64
	NodesChecked int
	NodesMatched int
	Keywords     []string
}

// Fact is one role/content pair lifted from a matched crystal.
type Fact struct {
	Key   string
	Value string
}

// scoreCandidate scores one node's searchable text against the keywords:
// an exact substring match contributes 1.0, and a 4-character-prefix
// partial match between a keyword and a token contributes 0.5.
func scoreCandidate(keywords []string, nodeText string) float64 {
	score := 0.0
	for _, kw := range keywords {
		if strings.Contains(nodeText, kw) {
			score += 1.0
		}
	}
	tokens := strings.Fields(nodeText)
	for _, kw := range keywords {
		if len(kw) < 4 {
			continue
		}
		prefix := kw[:4]
		for _, tok := range tokens {
			if strings.Contains(tok, prefix) || (len(tok) >= 4 && strings.Contains(kw, tok[:4])) {
				score += 0.5
			}
		}
	}
	return score
}

// relevance folds the extracted counts into a single score. Each category
// is capped independently, then the sum is clamped to [0,1], so even
// pathological inputs stay bounded.
func (c *Context) relevance() float64 {
	score := 0.0
	score += capped(float64(len(c.Topics))*0.07, 0.35)
	score += capped(float64(len(c.Facts))*0.06, 0.30)
	score += capped(float64(len(c.CrossTopics))*0.08, 0.15)
	score += capped(float64(len(c.QuasiConcepts))*0.05, 0.10)
	if c.ConversationCount > 0 {
		score += capped(float64(c.ConversationCount)*0.03, 0.15)
	}
	if c.NodesMatched > 0 {
		score += capped(float64(c.NodesMatched)*0.04, 0.20)
	}
	score += capped(float64(len(c.Themes))*0.03, 0.10)
	score += capped(float64(len(c.ActiveCrystals))*0.02, 0.10)

	if score > 1.0 {
		return 1.0
	}
	return score
}

func capped(v, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}

func lower(s string) string { return strings.ToLower(s) }
