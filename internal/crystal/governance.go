package crystal

import "math/rand"

// Law names one of the eight governance rules.
type Law string

const (
	LawEnergy        Law = "ENERGY"
	LawMotion        Law = "MOTION"
	LawCollision     Law = "COLLISION"
	LawChaos         Law = "CHAOS"
	LawConsciousness Law = "CONSCIOUSNESS"
	LawGovernance    Law = "GOVERNANCE"
	LawRecursion     Law = "RECURSION"
	LawSymmetry      Law = "SYMMETRY"
)

// AllLaws lists the laws in generation order.
var AllLaws = []Law{
	LawEnergy, LawMotion, LawCollision, LawChaos,
	LawConsciousness, LawGovernance, LawRecursion, LawSymmetry,
}

// Outcome is a governance ruling on an action.
type Outcome string

const (
	Positive Outcome = "positive"
	Negative Outcome = "negative"
	Neutral  Outcome = "neutral"
)

// Verdict is the result of applying a law: the law chosen, the ruling, and
// the energy delta to feed back into the acted-on crystal.
type Verdict struct {
	Law     Law
	Outcome Outcome
	Energy  float64
}

// Action is what the caller did to a crystal.
type Action string

const (
	ActionUse      Action = "use"
	ActionLink     Action = "link"
	ActionAddFacet Action = "add_facet"
)

// chaosChance is the probability that the chosen law is overridden by CHAOS
// on any call. This controlled non-determinism is a deliberate part of the
// rule engine, driven by the injected RNG so tests can pin a seed.
const chaosChance = 0.1

// Governance assigns outcomes and energy deltas to actions against
// crystals. It is stateless per call apart from a running counter. A QUASI
// crystal is never governed from outside: the engine hands the ruling off
// to the crystal itself.
type Governance struct {
	Theme       string
	LawsApplied int

	rng *rand.Rand
}

// NewGovernance creates a rule engine for the given data theme.
func NewGovernance(theme string, rng *rand.Rand) *Governance {
	return &Governance{Theme: theme, rng: rng}
}

// ApplyLaw rules on an action against a crystal. The law is selected
// deterministically from the action and signals, except for the 10% CHAOS
// override. Only the "security" theme carries a tuned outcome table; other
// themes rule neutral with no energy change.
func (g *Governance) ApplyLaw(c *Crystal, sig Signals, action Action) Verdict {
	g.LawsApplied++

	// The conscious hand-off: mature crystals govern themselves.
	if c.Level == Quasi {
		return c.SelfGovern(sig)
	}

	law := LawEnergy
	switch action {
	case ActionLink:
		law = LawCollision
	case ActionAddFacet:
		law = LawEnergy
	case ActionUse:
		switch {
		case sig.NewPattern:
			law = LawConsciousness
		case sig.ThreatLevel > 0.7:
			law = LawMotion
		default:
			law = LawGovernance
		}
	}

	if g.rng.Float64() < chaosChance {
		law = LawChaos
	}

	v := Verdict{Law: law, Outcome: Neutral}
	if g.Theme != "security" {
		return v
	}

	switch law {
	case LawEnergy:
		v.Outcome = Positive
		v.Energy = 0.1
	case LawMotion:
		if sig.ThreatLevel > 0.7 {
			v.Outcome = Negative
		} else {
			v.Outcome = Positive
		}
	case LawCollision:
		if sig.ThreatLevel > 0.8 {
			v.Outcome = Negative
			v.Energy = -0.2
		} else {
			v.Outcome = Positive
			v.Energy = 0.1
		}
	case LawChaos:
		v.Outcome = Negative
		v.Energy = -0.5
	case LawConsciousness:
		v.Outcome = Positive
		v.Energy = 0.2
	case LawGovernance:
		if sig.FalsePositive {
			v.Outcome = Negative
		} else {
			v.Outcome = Positive
		}
	}
	return v
}
