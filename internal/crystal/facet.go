package crystal

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FacetState tracks the non-destructive decay lifecycle of a facet.
// A facet moves ACTIVE -> DECAYING -> RELIC as confidence drops; use
// reclaims it to ACTIVE at any point before RELIC. Relics are frozen
// forever: never deleted, never strengthened, never decayed again.
type FacetState string

const (
	StateActive   FacetState = "ACTIVE"
	StateDecaying FacetState = "DECAYING"
	StateRelic    FacetState = "RELIC"
)

// Confidence thresholds for state transitions.
const (
	decayingThreshold = 0.3
	relicThreshold    = 0.1
)

// ContentKind discriminates the facet content union.
type ContentKind string

const (
	ContentText       ContentKind = "text"
	ContentNumber     ContentKind = "number"
	ContentStructured ContentKind = "structured"
)

// Content is the payload carried by a facet. It is a closed union:
// exactly one of Text, Number, or Fields is meaningful, selected by Kind.
type Content struct {
	Kind   ContentKind
	Text   string
	Number float64
	Fields map[string]string
}

// TextContent wraps a plain string payload, the common case.
func TextContent(s string) Content {
	return Content{Kind: ContentText, Text: s}
}

// String renders the payload for matching and display.
func (c Content) String() string {
	switch c.Kind {
	case ContentNumber:
		return formatFloat(c.Number)
	case ContentStructured:
		return joinFields(c.Fields)
	default:
		return c.Text
	}
}

// Equal reports whether two payloads are the same value.
func (c Content) Equal(o Content) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case ContentNumber:
		return c.Number == o.Number
	case ContentStructured:
		if len(c.Fields) != len(o.Fields) {
			return false
		}
		for k, v := range c.Fields {
			if o.Fields[k] != v {
				return false
			}
		}
		return true
	default:
		return c.Text == o.Text
	}
}

// Facet is a single piece of evidence attached to a crystal. Besides its
// confidence it carries eight coupled influence scalars in [0,1] that
// drift as the facet is strengthened and decayed.
type Facet struct {
	ID           string
	CrystalID    string
	Role         string
	Content      Content
	Confidence   float64
	AccessCount  int
	LastAccessed time.Time
	State        FacetState

	Resonance    float64
	Sensitivity  float64
	Abstractness float64
	Potential    float64
	Stability    float64
	Coherence    float64
	Complexity   float64
	Frequency    float64
}

// newFacet creates a facet with influence scalars drawn uniformly from [0,1].
func newFacet(id, crystalID, role string, content Content, confidence float64, rng *rand.Rand) *Facet {
	return &Facet{
		ID:           id,
		CrystalID:    crystalID,
		Role:         role,
		Content:      content,
		Confidence:   confidence,
		LastAccessed: time.Now(),
		State:        StateActive,

		Resonance:    rng.Float64(),
		Sensitivity:  rng.Float64(),
		Abstractness: rng.Float64(),
		Potential:    rng.Float64(),
		Stability:    rng.Float64(),
		Coherence:    rng.Float64(),
		Complexity:   rng.Float64(),
		Frequency:    rng.Float64(),
	}
}

// Strengthen records a use of this facet: confidence rises (clamped to 1.0),
// the access clock resets, and a decaying facet is reclaimed to ACTIVE.
// Relics are immutable; strengthening one is a no-op.
func (f *Facet) Strengthen(amount float64) {
	if f.State == StateRelic {
		return
	}
	f.Confidence = clamp01(f.Confidence + amount)
	f.AccessCount++
	f.LastAccessed = time.Now()
	f.State = StateActive
	f.coupleScalars(true)
}

// Decay lowers confidence in proportion to time since last access.
// Below 0.3 the facet is DECAYING; below 0.1 it becomes a RELIC and its
// role and content are preserved permanently.
func (f *Facet) Decay(rate float64) {
	if f.State == StateRelic {
		return
	}
	elapsedMinutes := time.Since(f.LastAccessed).Minutes()
	if elapsedMinutes < 0 {
		elapsedMinutes = 0
	}
	f.Confidence = clamp01(f.Confidence - rate*elapsedMinutes)
	f.coupleScalars(false)

	if f.Confidence < decayingThreshold {
		f.State = StateDecaying
	}
	if f.Confidence < relicThreshold {
		f.State = StateRelic
	}
}

// coupleScalars applies the influence interdependence rules. Strengthening
// feeds back positively (coherence props up stability, potential feeds
// resonance, complexity grounds abstractness); decay feeds back negatively
// (low stability erodes coherence, high complexity dampens frequency).
func (f *Facet) coupleScalars(boost bool) {
	if boost {
		if f.Coherence > 0.7 {
			f.Stability = clamp01(f.Stability + 0.05)
		}
		if f.Potential > 0.7 {
			f.Resonance = clamp01(f.Resonance + 0.05)
		}
		if f.Complexity > 0.8 {
			f.Abstractness = clamp01(f.Abstractness - 0.03)
		}
		return
	}
	if f.Stability < 0.3 {
		f.Coherence = clamp01(f.Coherence - 0.03)
	}
	if f.Complexity > 0.7 {
		f.Frequency = clamp01(f.Frequency - 0.02)
	}
}

// flicker nudges resonance and stability by a small random amount on use.
func (f *Facet) flicker(rng *rand.Rand) {
	f.Resonance = clamp01(f.Resonance + (rng.Float64()-0.5)*0.1)
	f.Stability = clamp01(f.Stability + (rng.Float64()-0.5)*0.1)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
