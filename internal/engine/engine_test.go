package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/ledger"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Options{Seed: 42})
}

func TestUseConceptEvolves(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 4; i++ {
		e.AddConceptFacet("python", fmt.Sprintf("fact_%d", i),
			crystal.TextContent(fmt.Sprintf("evidence %d", i)), 0.6)
	}

	var view ConceptView
	for i := 0; i < 10; i++ {
		view = e.UseConcept("python", crystal.Signals{})
	}

	if view.Level != "COMPOSITE" {
		t.Fatalf("level after 10 uses = %s, want COMPOSITE", view.Level)
	}
	if view.UsageCount != 10 || view.FacetCount != 4 {
		t.Fatalf("view = %+v", view)
	}
}

func TestDecideInjectionRoundTrip(t *testing.T) {
	e := testEngine(t)
	e.AddConceptFacet("rust", "definition", crystal.TextContent("ownership model"), 0.8)

	res := e.DecideInjection("Tell me about rust ownership", "Claude", false)
	if !res.WasInjected {
		t.Fatal("matching concept did not inject")
	}
	if !strings.HasPrefix(res.InjectedMessage, "Tell me about rust ownership") {
		t.Fatalf("original message not preserved: %q", res.InjectedMessage)
	}
}

func TestStoppedEngineSkipsDecisions(t *testing.T) {
	e := testEngine(t)
	e.Stop()

	res := e.DecideInjection("hello there friend", "ChatGPT", false)
	if res.WasInjected {
		t.Fatal("stopped engine injected")
	}
	d := e.DecisionLog(1)
	if len(d) != 1 || d[0].Reason != "memory store not running" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestRecordOutputTeachesGraph(t *testing.T) {
	e := testEngine(t)
	e.EnrichInput("app1", "tell me about databases")
	e.RecordOutput("app1", "Postgres handles transactions with multiversion concurrency")

	stats := e.GetStats()
	if stats.Graph.TotalCrystals == 0 {
		t.Fatal("assistant output taught no concepts")
	}
	if stats.Turns != 2 {
		t.Fatalf("turns = %d, want 2", stats.Turns)
	}
	if _, ok := e.Concept("postgres"); !ok {
		t.Fatal("leading keyword did not become a concept")
	}
}

func TestUpdateSettingsTierClamp(t *testing.T) {
	e := testEngine(t)
	strength := 9
	e.UpdateSettings(ledger.Update{InjectionStrength: &strength}, ledger.TierFree)

	if got := e.Settings().InjectionStrength; got != 5 {
		t.Fatalf("strength = %d, want free-tier clamp to 5", got)
	}

	e.UpdateSettings(ledger.Update{InjectionStrength: &strength}, ledger.TierPremium)
	if got := e.Settings().InjectionStrength; got != 9 {
		t.Fatalf("strength = %d, want 9 on premium", got)
	}
}

func TestClearAllKeepsSettings(t *testing.T) {
	e := testEngine(t)
	strength := 3
	e.UpdateSettings(ledger.Update{InjectionStrength: &strength}, ledger.TierFree)
	e.UseConcept("golang", crystal.Signals{})
	e.EnrichInput("app1", "some message about golang")
	e.DecideInjection("another golang question", "ChatGPT", false)

	e.ClearAll()

	stats := e.GetStats()
	if stats.Graph.TotalCrystals != 0 || stats.Conversations != 0 {
		t.Fatalf("clear left data: %+v", stats)
	}
	if stats.Injector.DecisionCount != 0 {
		t.Fatalf("decision log survived clear: %d", stats.Injector.DecisionCount)
	}
	if stats.Settings.InjectionStrength != 3 {
		t.Fatalf("settings did not survive clear: %+v", stats.Settings)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	e1 := testEngine(t)
	e1.AddConceptFacet("rust", "definition", crystal.TextContent("ownership model"), 0.8)
	e1.UseConcept("rust", crystal.Signals{})
	e1.EnrichInput("app1", "tell me about rust")
	e1.RecordOutput("app1", "Rust guarantees memory safety without garbage collection")
	e1.DecideInjection("more rust please", "Claude", false)

	snap := e1.Snapshot()

	e2 := New(Options{Seed: 7})
	e2.Restore(snap)

	s1, s2 := e1.GetStats(), e2.GetStats()
	if s1.Graph.TotalCrystals != s2.Graph.TotalCrystals {
		t.Fatalf("crystals %d != %d", s1.Graph.TotalCrystals, s2.Graph.TotalCrystals)
	}
	if s1.Conversations != s2.Conversations || s1.Turns != s2.Turns {
		t.Fatalf("ledger mismatch: %+v vs %+v", s1, s2)
	}
	if s2.Injector.DecisionCount != len(e1.DecisionLog(0)) {
		t.Fatalf("decision log mismatch: %d", s2.Injector.DecisionCount)
	}

	v1, ok1 := e1.Concept("rust")
	v2, ok2 := e2.Concept("rust")
	if !ok1 || !ok2 || v1.Level != v2.Level || v1.UsageCount != v2.UsageCount {
		t.Fatalf("concept mismatch: %+v vs %+v", v1, v2)
	}
}

func TestSnapshotDetachedFromLiveState(t *testing.T) {
	e := testEngine(t)
	e.AddConceptFacet("rust", "definition", crystal.TextContent("ownership model"), 0.8)
	e.EnrichInput("app1", "tell me about rust")

	snap := e.Snapshot()

	e.AddConceptFacet("rust", "memory", crystal.TextContent("no garbage collector"), 0.7)
	e.UseConcept("rust", crystal.Signals{})
	e.LinkConcepts("rust", "golang", crystal.Signals{}, 0.4)
	e.RecordOutput("app1", "Rust enforces ownership at compile time")

	c := snap.Crystals[0]
	if len(c.Facets) != 1 {
		t.Fatalf("snapshot facets = %d, want 1 from capture time", len(c.Facets))
	}
	if c.UsageCount != 0 || len(c.Connections) != 0 {
		t.Fatalf("snapshot crystal mutated: usage %d, connections %d", c.UsageCount, len(c.Connections))
	}
	for _, th := range snap.Threads {
		if len(th.Turns) != 1 {
			t.Fatalf("snapshot turns = %d, want 1 from capture time", len(th.Turns))
		}
	}
}

func TestSnapshotSafeUnderConcurrentWrites(t *testing.T) {
	e := testEngine(t)
	e.AddConceptFacet("rust", "definition", crystal.TextContent("ownership model"), 0.8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			e.AddConceptFacet("rust", fmt.Sprintf("fact_%d", i),
				crystal.TextContent(fmt.Sprintf("evidence %d", i)), 0.5)
			e.UseConcept("rust", crystal.Signals{})
			e.LinkConcepts("rust", fmt.Sprintf("peer_%d", i), crystal.Signals{}, 0.2)
		}
	}()

	for i := 0; i < 50; i++ {
		snap := e.Snapshot()
		for _, c := range snap.Crystals {
			for range c.Facets {
			}
			for range c.Connections {
			}
		}
	}
	<-done
}

func TestCoordinateDomainResolvesQuasiVerdicts(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 8; i++ {
		e.AddConceptFacet("defense", fmt.Sprintf("tactic_%d", i),
			crystal.TextContent(fmt.Sprintf("tactic detail %d", i)), 0.7)
	}
	for i := 0; i < 50; i++ {
		e.UseConcept("defense", crystal.Signals{})
	}
	e.UseConcept("minor", crystal.Signals{})

	d := e.CoordinateDomain("security", []string{"defense", "minor", "absent"}, crystal.Signals{})
	if d.Action == "wait" {
		t.Fatalf("decision = %+v, want a ruled action", d)
	}
	if got := e.GetStats().Graph.MetaCount; got != 1 {
		t.Fatalf("meta coordinators = %d, want 1", got)
	}

	e.mu.Lock()
	managed := len(e.graph.CreateMeta("security", nil).ManagedIDs)
	e.mu.Unlock()
	if managed != 1 {
		t.Fatalf("managed crystals = %d, want only the QUASI concept", managed)
	}

	if d2 := e.CoordinateDomain("network", nil, crystal.Signals{}); d2.Action != "wait" {
		t.Fatalf("coordination with no concepts = %+v, want wait", d2)
	}
}

func TestQuasiInternalNesting(t *testing.T) {
	e := testEngine(t)
	for i := 0; i < 8; i++ {
		e.AddConceptFacet("defense", fmt.Sprintf("tactic_%d", i),
			crystal.TextContent(fmt.Sprintf("tactic detail %d", i)), 0.7)
	}
	var view ConceptView
	for i := 0; i < 50; i++ {
		view = e.UseConcept("defense", crystal.Signals{})
	}
	if view.Level != "QUASI" {
		t.Fatalf("level after 50 uses = %s, want QUASI", view.Level)
	}

	e.UseConcept("minor", crystal.Signals{})

	e.mu.Lock()
	host := e.graph.Get("defense")
	inner := e.graph.Get("minor")
	host.AddInternal(inner)
	e.mu.Unlock()

	view, _ = e.Concept("defense")
	if view.Internal != 1 {
		t.Fatalf("internal crystals = %d, want 1", view.Internal)
	}
}
