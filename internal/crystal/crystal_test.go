package crystal

import (
	"math/rand"
	"strings"
	"testing"
	"time"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

// quasiCrystal builds a crystal and walks it to QUASI level.
func quasiCrystal(t *testing.T, rng *rand.Rand) *Crystal {
	t.Helper()
	c := New("c_test", "security", rng)
	for i, role := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		c.AddFacet(role, TextContent("evidence "+role), 0.5+float64(i)*0.01)
	}
	c.UsageCount = 100
	for _, want := range []Level{Composite, FullConcept, Quasi} {
		if !c.Evolve(Signals{}) {
			t.Fatalf("evolve to %s failed", want)
		}
		if c.Level != want {
			t.Fatalf("level = %s, want %s", c.Level, want)
		}
	}
	return c
}

func TestFacetLifecycle(t *testing.T) {
	c := New("c1", "python", testRNG())
	f := c.AddFacet("definition", TextContent("a programming language"), 0.5)

	// Half an hour idle at 0.01/min drops below the decaying threshold.
	f.LastAccessed = time.Now().Add(-30 * time.Minute)
	f.Decay(0.01)
	if f.State != StateDecaying {
		t.Fatalf("state = %s, want DECAYING (confidence %.3f)", f.State, f.Confidence)
	}

	// Reclaim window: strengthen brings it back to ACTIVE.
	before := f.Confidence
	f.Strengthen(0.2)
	if f.State != StateActive {
		t.Fatalf("state after strengthen = %s, want ACTIVE", f.State)
	}
	if f.Confidence <= before {
		t.Fatalf("confidence did not rise: %.3f -> %.3f", before, f.Confidence)
	}

	// A long idle stretch freezes it into a relic.
	f.LastAccessed = time.Now().Add(-2 * time.Hour)
	f.Decay(0.01)
	if f.State != StateRelic {
		t.Fatalf("state = %s, want RELIC (confidence %.3f)", f.State, f.Confidence)
	}

	// Relics are immutable: no strengthen, no further decay, content kept.
	frozen := f.Confidence
	f.Strengthen(1.0)
	if f.Confidence != frozen || f.State != StateRelic {
		t.Fatalf("relic mutated by strengthen: conf %.3f state %s", f.Confidence, f.State)
	}
	f.Decay(0.01)
	if f.Confidence != frozen {
		t.Fatalf("relic mutated by decay: conf %.3f", f.Confidence)
	}
	if f.Role != "definition" || f.Content.String() != "a programming language" {
		t.Fatalf("relic lost role/content: %q %q", f.Role, f.Content.String())
	}
}

func TestAddFacetDeduplicates(t *testing.T) {
	c := New("c1", "python", testRNG())
	f1 := c.AddFacet("definition", TextContent("a language"), 0.5)
	f2 := c.AddFacet("definition", TextContent("something else"), 0.9)

	if f1 != f2 {
		t.Fatal("duplicate role created a second facet")
	}
	if len(c.Facets) != 1 {
		t.Fatalf("facet count = %d, want 1", len(c.Facets))
	}
	if f1.Confidence <= 0.5 {
		t.Fatalf("duplicate add did not strengthen: %.3f", f1.Confidence)
	}
}

func TestEvolutionMonotonicWithLawsOnce(t *testing.T) {
	c := quasiCrystal(t, testRNG())

	laws := 0
	for _, f := range c.Facets {
		if strings.HasPrefix(f.Role, internalLawPrefix) {
			laws++
		}
	}
	if laws != 8 {
		t.Fatalf("law facets = %d, want 8", laws)
	}

	// Terminal level: no further evolution, no second law generation.
	if c.Evolve(Signals{}) {
		t.Fatal("evolved past QUASI")
	}
	if c.Level != Quasi {
		t.Fatalf("level moved backward: %s", c.Level)
	}
	if len(c.Facets) != 16 {
		t.Fatalf("facet count = %d, want 16 (8 evidence + 8 laws)", len(c.Facets))
	}
}

func TestImpactMultiplierPrecedence(t *testing.T) {
	all := Signals{ThreatLevel: 0.9, StressCount: 5, NewPattern: true}
	if got := all.impactMultiplier(); got != 1.5 {
		t.Fatalf("multiplier = %.2f, want 1.5 (threat wins)", got)
	}
	stress := Signals{StressCount: 5, NewPattern: true}
	if got := stress.impactMultiplier(); got != 1.3 {
		t.Fatalf("multiplier = %.2f, want 1.3 (stress beats novelty)", got)
	}
	if got := (Signals{NewPattern: true}).impactMultiplier(); got != 1.2 {
		t.Fatalf("multiplier = %.2f, want 1.2", got)
	}
	if got := (Signals{}).impactMultiplier(); got != 1.0 {
		t.Fatalf("multiplier = %.2f, want 1.0", got)
	}
}

func TestSelfGovernLawSelection(t *testing.T) {
	c := quasiCrystal(t, testRNG())

	v := c.SelfGovern(Signals{ThreatLevel: 0.9})
	if v.Law != LawCollision {
		t.Fatalf("law under threat = %s, want COLLISION", v.Law)
	}

	v = c.SelfGovern(Signals{NewPattern: true})
	if v.Law != LawConsciousness {
		t.Fatalf("law for new pattern = %s, want CONSCIOUSNESS", v.Law)
	}

	c.UsageCount = 101
	v = c.SelfGovern(Signals{})
	if v.Law != LawEnergy {
		t.Fatalf("routine law = %s, want ENERGY", v.Law)
	}

	// ENERGY law facet is tuned to stability 0.9 / potential 1.0.
	if v.Outcome != Positive {
		t.Fatalf("routine outcome = %s, want positive", v.Outcome)
	}
}

func TestAddInternalRequiresQuasi(t *testing.T) {
	rng := testRNG()
	base := New("c_base", "minor", rng)
	if base.AddInternal(New("c_other", "other", rng)) {
		t.Fatal("BASE crystal absorbed an internal crystal")
	}

	q := quasiCrystal(t, rng)
	if !q.AddInternal(base) {
		t.Fatal("QUASI crystal refused an internal crystal")
	}
	if len(q.InternalCrystals) != 1 {
		t.Fatalf("internal count = %d, want 1", len(q.InternalCrystals))
	}
}

func TestGovernanceDeterministicUnderFixedSeed(t *testing.T) {
	run := func() []Verdict {
		rng := rand.New(rand.NewSource(7))
		gov := NewGovernance("security", rng)
		c := New("c1", "intrusion", rng)
		c.AddFacet("definition", TextContent("unauthorized access"), 0.6)

		var out []Verdict
		for i := 0; i < 20; i++ {
			out = append(out, gov.ApplyLaw(c, Signals{ThreatLevel: 0.5}, ActionUse))
		}
		return out
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("verdict %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGovernanceChaosOverride(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	gov := NewGovernance("security", rng)
	c := New("c1", "intrusion", rng)

	const calls = 500
	chaos := 0
	for i := 0; i < calls; i++ {
		v := gov.ApplyLaw(c, Signals{}, ActionUse)
		if v.Law != LawChaos {
			continue
		}
		chaos++
		if v.Outcome != Negative {
			t.Fatalf("chaos outcome = %s, want negative", v.Outcome)
		}
		if v.Energy != -0.5 {
			t.Fatalf("chaos energy = %.2f, want -0.5", v.Energy)
		}
	}
	if chaos < 10 || chaos > 150 {
		t.Fatalf("chaos fired %d of %d rulings, want near one in ten", chaos, calls)
	}
}

func TestGovernanceNonSecurityThemeIsNeutral(t *testing.T) {
	rng := testRNG()
	gov := NewGovernance("general", rng)
	c := New("c1", "topic", rng)

	for i := 0; i < 10; i++ {
		v := gov.ApplyLaw(c, Signals{}, ActionAddFacet)
		if v.Outcome != Neutral || v.Energy != 0 {
			t.Fatalf("non-security verdict = %+v, want neutral/0", v)
		}
	}
}

func TestContentEqual(t *testing.T) {
	if !TextContent("a").Equal(TextContent("a")) {
		t.Fatal("equal text contents not equal")
	}
	if TextContent("a").Equal(Content{Kind: ContentNumber, Number: 1}) {
		t.Fatal("text equals number")
	}
	s1 := Content{Kind: ContentStructured, Fields: map[string]string{"k": "v"}}
	s2 := Content{Kind: ContentStructured, Fields: map[string]string{"k": "v"}}
	if !s1.Equal(s2) {
		t.Fatal("equal structured contents not equal")
	}
	if s1.String() != "k=v" {
		t.Fatalf("structured render = %q", s1.String())
	}
}
