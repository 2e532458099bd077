package graph

import (
	"time"

	"github.com/latticemem/lattice/internal/crystal"
)

// metaHistoryCap bounds each meta-coordinator's decision history.
const metaHistoryCap = 100

// lawPriority ranks laws for meta-level conflict resolution. CHAOS is
// deliberately deprioritized to zero; an unknown law ranks with GOVERNANCE.
var lawPriority = map[crystal.Law]int{
	crystal.LawEnergy:        3,
	crystal.LawConsciousness: 2,
	crystal.LawCollision:     2,
	crystal.LawGovernance:    1,
	crystal.LawChaos:         0,
}

// Meta is an executive coordinator over a set of mature crystals within a
// domain. It resolves conflicting verdicts into one chosen action and
// keeps a bounded history of what it chose.
type Meta struct {
	ID         string
	Domain     string
	ManagedIDs []string
	History    []MetaRecord
}

// MetaRecord is one past coordination decision.
type MetaRecord struct {
	Timestamp time.Time
	Options   int
	ChosenLaw crystal.Law
	Outcome   crystal.Outcome
}

// MetaDecision is the resolved action a meta-coordinator returns.
type MetaDecision struct {
	Action     crystal.Law
	Outcome    crystal.Outcome
	Energy     float64
	Confidence float64
}

// CreateMeta returns the meta-coordinator for a domain, creating it if
// needed.
func (m *Manager) CreateMeta(domain string, managedIDs []string) *Meta {
	id := "META_" + domain
	if meta, ok := m.metas[id]; ok {
		return meta
	}
	meta := &Meta{ID: id, Domain: domain, ManagedIDs: managedIDs}
	m.metas[id] = meta
	return meta
}

// AddManaged puts a crystal under this coordinator's management.
func (meta *Meta) AddManaged(crystalID string) {
	for _, id := range meta.ManagedIDs {
		if id == crystalID {
			return
		}
	}
	meta.ManagedIDs = append(meta.ManagedIDs, crystalID)
}

// Coordinate scores candidate verdicts as priority(law) x outcome weight
// (1.0 for positive, 0.5 otherwise) and picks the maximum. Confidence is
// the winning score normalized by the top priority. The decision is
// recorded to the bounded history, oldest dropped first.
func (meta *Meta) Coordinate(verdicts []crystal.Verdict) MetaDecision {
	if len(verdicts) == 0 {
		return MetaDecision{Action: "wait", Outcome: crystal.Neutral}
	}

	bestScore := -1.0
	var best crystal.Verdict
	for _, v := range verdicts {
		priority, ok := lawPriority[v.Law]
		if !ok {
			priority = 1
		}
		weight := 0.5
		if v.Outcome == crystal.Positive {
			weight = 1.0
		}
		score := float64(priority) * weight
		if score > bestScore {
			bestScore = score
			best = v
		}
	}

	meta.History = append(meta.History, MetaRecord{
		Timestamp: time.Now(),
		Options:   len(verdicts),
		ChosenLaw: best.Law,
		Outcome:   best.Outcome,
	})
	if len(meta.History) > metaHistoryCap {
		meta.History = meta.History[len(meta.History)-metaHistoryCap:]
	}

	return MetaDecision{
		Action:     best.Law,
		Outcome:    best.Outcome,
		Energy:     best.Energy,
		Confidence: bestScore / 3.0,
	}
}

// Consensus is the result of a joint ruling across several crystals.
type Consensus struct {
	Decision     string
	Confidence   float64
	Energy       float64
	Participants []string
}

// Coordinate lets multiple mature crystals jointly rule on an input. Only
// QUASI crystals participate; each self-governs, outcomes are settled by
// majority vote, confidence is the vote share, and energy is the mean
// among the winning votes.
func (m *Manager) Coordinate(crystals []*crystal.Crystal, sig crystal.Signals) Consensus {
	if len(crystals) == 0 {
		return Consensus{Decision: "no_consensus"}
	}

	type ballot struct {
		concept string
		v       crystal.Verdict
	}
	var ballots []ballot
	for _, c := range crystals {
		if c.Level != crystal.Quasi {
			continue
		}
		ballots = append(ballots, ballot{concept: c.Concept, v: c.SelfGovern(sig)})
	}
	if len(ballots) == 0 {
		return Consensus{Decision: "no_quasi_crystals"}
	}

	votes := make(map[crystal.Outcome]int)
	for _, b := range ballots {
		votes[b.v.Outcome]++
	}

	// Majority outcome; ties settle on the earliest ballot's outcome.
	winner := ballots[0].v.Outcome
	for _, b := range ballots {
		if votes[b.v.Outcome] > votes[winner] {
			winner = b.v.Outcome
		}
	}

	var energy float64
	participants := make([]string, 0, len(ballots))
	for _, b := range ballots {
		participants = append(participants, b.concept)
		if b.v.Outcome == winner {
			energy += b.v.Energy
		}
	}
	energy /= float64(votes[winner])

	return Consensus{
		Decision:     string(winner),
		Confidence:   float64(votes[winner]) / float64(len(ballots)),
		Energy:       energy,
		Participants: participants,
	}
}
