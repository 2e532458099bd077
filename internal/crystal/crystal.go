package crystal

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Level is a crystal's evolution stage. Levels only ever advance.
type Level int

const (
	Base Level = iota + 1
	Composite
	FullConcept
	Quasi
)

func (l Level) String() string {
	switch l {
	case Base:
		return "BASE"
	case Composite:
		return "COMPOSITE"
	case FullConcept:
		return "FULL_CONCEPT"
	case Quasi:
		return "QUASI"
	}
	return fmt.Sprintf("LEVEL_%d", int(l))
}

// internalLawPrefix marks the eight law facets a QUASI crystal generates.
// Law facets are excluded from external-facet counts.
const internalLawPrefix = "INTERNAL_LAW_"

// Signals carries the contextual flags that accompany an action against a
// crystal. The zero value means "routine, no context".
type Signals struct {
	ThreatLevel   float64
	StressCount   int
	NewPattern    bool
	FalsePositive bool
	Abstraction   bool
}

// impactMultiplier scales effective usage for evolution checks. Only the
// single highest-precedence modifier applies: threat, then stress, then
// novelty. The modifiers are not additive.
func (s Signals) impactMultiplier() float64 {
	switch {
	case s.ThreatLevel > 0.8:
		return 1.5
	case s.StressCount > 3:
		return 1.3
	case s.NewPattern:
		return 1.2
	}
	return 1.0
}

// Crystal is a named unit of accumulated meaning. It collects facets as
// evidence, weights connections to other crystals, and evolves through
// discrete levels as it is used. At QUASI it internalizes the eight
// governance laws and governs itself.
type Crystal struct {
	ID          string
	Concept     string
	Level       Level
	Facets      map[string]*Facet
	Connections map[string]float64
	UsageCount  int
	CreatedAt   time.Time
	LastUsed    time.Time

	// InternalCrystals is populated only at QUASI level: crystals this one
	// has absorbed, a thought about a thought.
	InternalCrystals []*Crystal

	rng *rand.Rand
}

// New creates a BASE-level crystal. The RNG seeds facet scalar draws and
// use-time flicker; inject a fixed-seed source in tests.
func New(id, concept string, rng *rand.Rand) *Crystal {
	now := time.Now()
	return &Crystal{
		ID:          id,
		Concept:     concept,
		Level:       Base,
		Facets:      make(map[string]*Facet),
		Connections: make(map[string]float64),
		CreatedAt:   now,
		LastUsed:    now,
		rng:         rng,
	}
}

// SetRNG attaches a random source, used when crystals are rebuilt from a
// persisted snapshot.
func (c *Crystal) SetRNG(rng *rand.Rand) { c.rng = rng }

// AddFacet attaches evidence to the crystal. A duplicate role or duplicate
// content strengthens the existing facet instead of creating a second one.
func (c *Crystal) AddFacet(role string, content Content, confidence float64) *Facet {
	for _, f := range c.Facets {
		if f.Role == role || f.Content.Equal(content) {
			f.Strengthen(0.1)
			return f
		}
	}
	id := fmt.Sprintf("%s_facet_%d", c.ID, len(c.Facets))
	f := newFacet(id, c.ID, role, content, confidence, c.rng)
	c.Facets[id] = f
	return f
}

// FacetByRole returns the active facet with the given role, or nil.
func (c *Crystal) FacetByRole(role string) *Facet {
	for _, f := range c.Facets {
		if f.Role == role && f.State == StateActive {
			return f
		}
	}
	return nil
}

// ExternalFacetCount counts facets that are evidence, not internal laws.
func (c *Crystal) ExternalFacetCount() int {
	n := 0
	for _, f := range c.Facets {
		if !strings.HasPrefix(f.Role, internalLawPrefix) {
			n++
		}
	}
	return n
}

// CheckEvolution reports whether the crystal qualifies for the next level.
// High-impact context (threat, repeated stress, novelty) lowers the
// effective usage bar via the impact multiplier.
func (c *Crystal) CheckEvolution(sig Signals) bool {
	external := c.ExternalFacetCount()
	effectiveUsage := float64(c.UsageCount) * sig.impactMultiplier()

	switch c.Level {
	case Base:
		return external >= 3 && effectiveUsage >= 10
	case Composite:
		return external >= 5 && effectiveUsage >= 25
	case FullConcept:
		return external >= 8 && effectiveUsage >= 50
	}
	return false
}

// Evolve advances the crystal exactly one level if the criteria hold.
// The transition into QUASI generates the eight internal law facets.
func (c *Crystal) Evolve(sig Signals) bool {
	if !c.CheckEvolution(sig) {
		return false
	}
	switch c.Level {
	case Base:
		c.Level = Composite
	case Composite:
		c.Level = FullConcept
	case FullConcept:
		c.Level = Quasi
		c.generateInternalLaws()
	default:
		return false
	}
	return true
}

// generateInternalLaws installs the eight law facets with tuned scalars.
// Law facets carry absolute confidence; they are governance machinery,
// not evidence.
func (c *Crystal) generateInternalLaws() {
	for _, law := range AllLaws {
		f := c.AddFacet(
			internalLawPrefix+string(law),
			TextContent("Internal governance protocol for "+string(law)),
			1.0,
		)
		switch law {
		case LawEnergy:
			f.Stability = 0.9
			f.Potential = 1.0
		case LawChaos:
			f.Stability = 0.1
			f.Frequency = 0.9
		case LawRecursion:
			f.Complexity = 1.0
			f.Coherence = 0.8
		}
	}
}

// SelfGovern is how a QUASI crystal rules on an action by reading its own
// law facets. The law is chosen deterministically from the signals; the
// chosen facet's stability and potential decide the outcome.
func (c *Crystal) SelfGovern(sig Signals) Verdict {
	if c.Level != Quasi {
		return Verdict{Law: LawEnergy, Outcome: Negative}
	}

	law := LawEnergy
	switch {
	case sig.ThreatLevel > 0.8:
		law = LawCollision
	case sig.NewPattern:
		law = LawConsciousness
	case c.UsageCount%10 == 0:
		law = LawChaos
	}

	f := c.FacetByRole(internalLawPrefix + string(law))
	if f == nil {
		f = c.FacetByRole(internalLawPrefix + string(LawEnergy))
	}
	if f == nil {
		return Verdict{Law: law, Outcome: Neutral}
	}

	outcome := Neutral
	if f.Stability > 0.7 && f.Potential > 0.5 {
		outcome = Positive
	} else if f.Stability < 0.3 {
		outcome = Negative
	}
	return Verdict{Law: law, Outcome: outcome, Energy: f.Potential - f.Stability}
}

// AddInternal absorbs another crystal into this one. QUASI only; absorbing
// strengthens the RECURSION law.
func (c *Crystal) AddInternal(other *Crystal) bool {
	if c.Level != Quasi {
		return false
	}
	c.InternalCrystals = append(c.InternalCrystals, other)
	if f := c.FacetByRole(internalLawPrefix + string(LawRecursion)); f != nil {
		f.Strengthen(0.5)
	}
	return true
}

// Use records a use of the crystal under a governance verdict. Energy is
// reallocated across facets rather than created or destroyed: a positive
// verdict strengthens every live facet, a negative one drains them. Relics
// are untouched. The eight scalars flicker slightly on every use.
func (c *Crystal) Use(v Verdict) {
	c.UsageCount++
	c.LastUsed = time.Now()

	for _, f := range c.Facets {
		if f.State == StateRelic {
			continue
		}
		switch v.Outcome {
		case Positive:
			f.Strengthen(0.05)
		case Negative:
			f.Confidence = clamp01(f.Confidence - 0.02)
		}
		f.flicker(c.rng)
	}
}
