package ledger

import "strings"

// Interest list bound: only the most recent interests are kept.
const maxInterests = 20

// Topic words shorter than this never become interests.
const minTopicLen = 5

// Profile is the inferred picture of the user, mutated only on
// assistant-output ingestion.
type Profile struct {
	Interests          []string `json:"topics_of_interest"`
	CommunicationStyle string   `json:"communication_style"`
	ExpertiseAreas     []string `json:"expertise_areas"`
}

// NewProfile returns an empty profile with a neutral style.
func NewProfile() *Profile {
	return &Profile{CommunicationStyle: "neutral"}
}

// absorb extracts up to three candidate topic words from assistant output
// into the bounded interest list.
func (p *Profile) absorb(text string) {
	added := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if added >= 3 {
			break
		}
		w = strings.Trim(w, ".,!?:;\"'()")
		if len(w) < minTopicLen || profileStopwords[w] {
			continue
		}
		if p.hasInterest(w) {
			continue
		}
		p.Interests = append(p.Interests, w)
		added++
	}
	if len(p.Interests) > maxInterests {
		p.Interests = p.Interests[len(p.Interests)-maxInterests:]
	}
}

func (p *Profile) hasInterest(w string) bool {
	for _, i := range p.Interests {
		if i == w {
			return true
		}
	}
	return false
}

// contextLine renders the profile fragment: top interests and expertise.
func (p *Profile) contextLine() string {
	var parts []string
	if len(p.Interests) > 0 {
		top := p.Interests
		if len(top) > 3 {
			top = top[:3]
		}
		parts = append(parts, "Interests: "+strings.Join(top, ", "))
	}
	if len(p.ExpertiseAreas) > 0 {
		top := p.ExpertiseAreas
		if len(top) > 2 {
			top = top[:2]
		}
		parts = append(parts, "Expertise: "+strings.Join(top, ", "))
	}
	return strings.Join(parts, " | ")
}

var profileStopwords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "although": true,
	"because": true, "been": true, "before": true, "being": true, "below": true,
	"between": true, "both": true, "could": true, "dare": true, "does": true,
	"during": true, "each": true, "every": true, "further": true, "might": true,
	"must": true, "need": true, "once": true, "only": true, "other": true,
	"ought": true, "same": true, "shall": true, "should": true, "since": true,
	"some": true, "such": true, "than": true, "that": true, "their": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"those": true, "through": true, "under": true, "until": true, "used": true,
	"very": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "would": true, "your": true,
}
