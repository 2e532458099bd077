package graph

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/latticemem/lattice/internal/crystal"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager("security", rand.New(rand.NewSource(42)))
}

func TestGetOrCreateCaseInsensitive(t *testing.T) {
	m := testManager(t)
	a := m.GetOrCreate("Python", nil)
	b := m.GetOrCreate("python", nil)

	if a != b {
		t.Fatal("case-insensitive lookup created a second crystal")
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
	if a.Level != crystal.Base {
		t.Fatalf("new crystal level = %s, want BASE", a.Level)
	}
}

func TestGetOrCreateWithInitialContent(t *testing.T) {
	m := testManager(t)
	content := crystal.TextContent("a systems language")
	c := m.GetOrCreate("rust", &content)

	f := c.FacetByRole("definition")
	if f == nil {
		t.Fatal("initial content did not become a definition facet")
	}
	if f.Content.String() != "a systems language" {
		t.Fatalf("definition content = %q", f.Content.String())
	}
}

func TestUseEvolvesAtThreshold(t *testing.T) {
	m := testManager(t)
	c := m.GetOrCreate("python", nil)
	for i := 0; i < 4; i++ {
		c.AddFacet(fmt.Sprintf("fact_%d", i), crystal.TextContent(fmt.Sprintf("evidence %d", i)), 0.6)
	}
	c.UsageCount = 12

	got := m.Use("python", crystal.Signals{})
	if got.Level != crystal.Composite {
		t.Fatalf("level after use = %s, want COMPOSITE", got.Level)
	}
	if got.UsageCount != 13 {
		t.Fatalf("usage count = %d, want 13", got.UsageCount)
	}

	stats := m.GraphStats()
	if stats.TotalEvolutions != 1 {
		t.Fatalf("evolutions = %d, want 1", stats.TotalEvolutions)
	}
	if stats.LevelDistribution["COMPOSITE"] != 1 {
		t.Fatalf("level distribution = %v", stats.LevelDistribution)
	}
}

func TestLinkSymmetricAndCapped(t *testing.T) {
	m := testManager(t)
	m.Link("rust", "ownership", crystal.Signals{}, 1.0)
	m.Link("rust", "ownership", crystal.Signals{}, 1.0)

	c1 := m.Get("rust")
	c2 := m.Get("ownership")
	w12 := c1.Connections[c2.ID]
	w21 := c2.Connections[c1.ID]

	if w12 != w21 {
		t.Fatalf("asymmetric weights: %.3f vs %.3f", w12, w21)
	}
	if w12 > 1.0 {
		t.Fatalf("weight above cap: %.3f", w12)
	}

	stats := m.GraphStats()
	if stats.TopPathway != "ownership|rust" || stats.TopPathwayCount != 2 {
		t.Fatalf("top pathway = %q x%d", stats.TopPathway, stats.TopPathwayCount)
	}
}

func TestDecayAllFreezesIdleFacets(t *testing.T) {
	m := testManager(t)
	c := m.GetOrCreate("forgotten", nil)
	f := c.AddFacet("detail", crystal.TextContent("long unused"), 0.9)
	f.LastAccessed = time.Now().Add(-100 * 24 * time.Hour)

	m.DecayAll()

	if f.State != crystal.StateRelic {
		t.Fatalf("state = %s, want RELIC", f.State)
	}
	if f.Content.String() != "long unused" {
		t.Fatal("relic content changed")
	}
}

func TestPatternAbstractionIdempotent(t *testing.T) {
	m := testManager(t)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("node%d", i)
		m.Link(name, "alpha", crystal.Signals{}, 0.5)
		m.Link(name, "beta", crystal.Signals{}, 0.5)
	}

	m.detectPatterns()

	abstract := m.Get("ABSTRACT_alpha_beta")
	if abstract == nil {
		t.Fatal("no abstraction created for shared signature")
	}
	if abstract.FacetByRole("abstraction") == nil {
		t.Fatal("abstraction crystal missing its abstraction facet")
	}
	if len(abstract.Connections) != 5 {
		t.Fatalf("abstraction links = %d, want 5", len(abstract.Connections))
	}
	if m.recurringPatterns["alpha_beta"] != 5 {
		t.Fatalf("recurring patterns = %v", m.recurringPatterns)
	}

	// A second pass must not duplicate the abstraction for the same
	// signature.
	m.detectPatterns()
	count := 0
	for _, c := range m.All() {
		if c.Concept == "ABSTRACT_alpha_beta" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("abstraction count for signature = %d, want 1", count)
	}
}

func TestCoordinateRequiresQuasi(t *testing.T) {
	m := testManager(t)

	if got := m.Coordinate(nil, crystal.Signals{}); got.Decision != "no_consensus" {
		t.Fatalf("decision = %q, want no_consensus", got.Decision)
	}

	c := m.GetOrCreate("immature", nil)
	got := m.Coordinate([]*crystal.Crystal{c}, crystal.Signals{})
	if got.Decision != "no_quasi_crystals" {
		t.Fatalf("decision = %q, want no_quasi_crystals", got.Decision)
	}
}

func TestMetaCoordinatePicksHighestPriority(t *testing.T) {
	m := testManager(t)
	meta := m.CreateMeta("defense", nil)

	d := meta.Coordinate([]crystal.Verdict{
		{Law: crystal.LawChaos, Outcome: crystal.Positive, Energy: 0.9},
		{Law: crystal.LawEnergy, Outcome: crystal.Positive, Energy: 0.1},
		{Law: crystal.LawCollision, Outcome: crystal.Negative, Energy: -0.2},
	})

	if d.Action != crystal.LawEnergy {
		t.Fatalf("chosen law = %s, want ENERGY", d.Action)
	}
	if d.Confidence != 1.0 {
		t.Fatalf("confidence = %.2f, want 1.0", d.Confidence)
	}
	if len(meta.History) != 1 {
		t.Fatalf("history length = %d, want 1", len(meta.History))
	}
}

func TestRecentlyUsedOrdering(t *testing.T) {
	m := testManager(t)
	old := m.GetOrCreate("old", nil)
	old.LastUsed = time.Now().Add(-time.Hour)
	fresh := m.GetOrCreate("fresh", nil)
	fresh.LastUsed = time.Now()

	got := m.RecentlyUsed(1)
	if len(got) != 1 || got[0].Concept != "fresh" {
		t.Fatalf("recently used = %v", names(got))
	}
}

func names(cs []*crystal.Crystal) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Concept
	}
	return out
}

func TestRestorePreservesLevelCounts(t *testing.T) {
	m := testManager(t)
	c := crystal.New("crystal_ext1", "restored", rand.New(rand.NewSource(1)))
	c.Level = crystal.Composite
	m.Restore(c)

	if m.Get("restored") == nil {
		t.Fatal("restored crystal not findable")
	}
	if m.GraphStats().LevelDistribution["COMPOSITE"] != 1 {
		t.Fatalf("level distribution = %v", m.GraphStats().LevelDistribution)
	}
	if !strings.HasPrefix(c.ID, "crystal_") {
		t.Fatalf("unexpected id %q", c.ID)
	}
}
