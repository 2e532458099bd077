// Package graph owns the crystal collection: creation, use, linking,
// batched decay, pattern abstraction, and consensus across mature
// crystals. The package is lock-free by design; the owning engine
// serializes access with a single coarse lock, because linking and the
// pattern pass touch many crystals at once.
package graph

import (
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/latticemem/lattice/internal/crystal"
)

// decayWorkers bounds the fan-out of the batched decay pass. Per-facet
// decay touches no shared state, so the facets can be split across a small
// fixed pool while the caller holds the graph lock.
const decayWorkers = 8

// defaultDecayRate is the per-minute confidence loss applied by DecayAll.
const defaultDecayRate = 0.005

// patternPassMinCrystals gates the abstraction pass; tiny graphs have no
// patterns worth lifting.
const patternPassMinCrystals = 10

// Manager is the concept graph: every crystal, their connections, and the
// bookkeeping around evolution and recurring patterns.
type Manager struct {
	crystals map[string]*crystal.Crystal
	gov      *crystal.Governance
	rng      *rand.Rand

	created     int
	evolutions  int
	levelCounts map[crystal.Level]int

	pathways          map[string]int
	recurringPatterns map[string]int
	abstracted        map[string][]string

	metas map[string]*Meta
}

// NewManager creates an empty graph governed under the given theme.
func NewManager(theme string, rng *rand.Rand) *Manager {
	return &Manager{
		crystals:          make(map[string]*crystal.Crystal),
		gov:               crystal.NewGovernance(theme, rng),
		rng:               rng,
		levelCounts:       make(map[crystal.Level]int),
		pathways:          make(map[string]int),
		recurringPatterns: make(map[string]int),
		abstracted:        make(map[string][]string),
		metas:             make(map[string]*Meta),
	}
}

// GetOrCreate looks a crystal up by concept name, case-insensitively, and
// creates it at BASE level if absent. Initial content becomes a
// "definition" facet strengthened by one governance pass.
func (m *Manager) GetOrCreate(concept string, initial *crystal.Content) *crystal.Crystal {
	if c := m.find(concept); c != nil {
		return c
	}

	id := "crystal_" + uuid.NewString()[:8]
	c := crystal.New(id, concept, m.rng)

	if initial != nil {
		f := c.AddFacet("definition", *initial, 0.7)
		v := m.gov.ApplyLaw(c, crystal.Signals{}, crystal.ActionAddFacet)
		f.Strengthen(v.Energy)
	}

	m.crystals[c.ID] = c
	m.created++
	m.levelCounts[crystal.Base]++
	return c
}

func (m *Manager) find(concept string) *crystal.Crystal {
	for _, c := range m.crystals {
		if strings.EqualFold(c.Concept, concept) {
			return c
		}
	}
	return nil
}

// Get returns the crystal for a concept name, or nil.
func (m *Manager) Get(concept string) *crystal.Crystal {
	return m.find(concept)
}

// ByID returns the crystal with the given id, or nil.
func (m *Manager) ByID(id string) *crystal.Crystal {
	return m.crystals[id]
}

// Use runs one governance pass against the crystal for the concept,
// applies the verdict to its facets, and performs at most one evolution
// step. Returns the possibly evolved crystal.
func (m *Manager) Use(concept string, sig crystal.Signals) *crystal.Crystal {
	c := m.GetOrCreate(concept, nil)

	v := m.gov.ApplyLaw(c, sig, crystal.ActionUse)
	c.Use(v)

	if c.CheckEvolution(sig) {
		old := c.Level
		if c.Evolve(sig) {
			m.evolutions++
			m.levelCounts[old]--
			m.levelCounts[c.Level]++
		}
	}
	return c
}

// Link creates or strengthens the connection between two concepts. The
// governance verdict on the collision scales the added weight: positive
// collisions bond harder, negative ones barely stick. Both directed
// weights rise symmetrically, clamped to 1.0.
func (m *Manager) Link(concept1, concept2 string, sig crystal.Signals, weight float64) {
	c1 := m.GetOrCreate(concept1, nil)
	c2 := m.GetOrCreate(concept2, nil)

	v := m.gov.ApplyLaw(c1, sig, crystal.ActionLink)
	mod := 1.0
	switch v.Outcome {
	case crystal.Positive:
		mod = 1.5
	case crystal.Negative:
		mod = 0.5
	}

	c1.Connections[c2.ID] = capWeight(c1.Connections[c2.ID] + weight*mod)
	c2.Connections[c1.ID] = capWeight(c2.Connections[c1.ID] + weight*mod)

	m.pathways[pathwayKey(concept1, concept2)]++
}

func capWeight(w float64) float64 {
	if w > 1.0 {
		return 1.0
	}
	return w
}

func pathwayKey(a, b string) string {
	if strings.ToLower(b) < strings.ToLower(a) {
		a, b = b, a
	}
	return a + "|" + b
}

// DecayAll applies one decay step to every facet of every crystal, fanning
// the per-facet work across a fixed worker pool. The caller must hold the
// graph lock for the duration so no use/link/evolve observes a
// half-decayed crystal. Once the store is large enough, a pattern
// abstraction pass follows.
func (m *Manager) DecayAll() {
	var facets []*crystal.Facet
	for _, c := range m.crystals {
		for _, f := range c.Facets {
			facets = append(facets, f)
		}
	}

	ch := make(chan *crystal.Facet)
	var wg sync.WaitGroup
	for i := 0; i < decayWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range ch {
				f.Decay(defaultDecayRate)
			}
		}()
	}
	for _, f := range facets {
		ch <- f
	}
	close(ch)
	wg.Wait()

	if len(m.crystals) > patternPassMinCrystals {
		m.detectPatterns()
	}
}

// Count returns the number of crystals in the graph.
func (m *Manager) Count() int { return len(m.crystals) }

// All returns every crystal. Callers must not retain the slice across
// unlock boundaries.
func (m *Manager) All() []*crystal.Crystal {
	out := make([]*crystal.Crystal, 0, len(m.crystals))
	for _, c := range m.crystals {
		out = append(out, c)
	}
	return out
}

// RecentlyUsed returns up to n crystals ordered by most recent use.
func (m *Manager) RecentlyUsed(n int) []*crystal.Crystal {
	all := m.All()
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastUsed.After(all[j].LastUsed)
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// Clear drops every crystal, meta-coordinator, and pattern record.
func (m *Manager) Clear() {
	m.crystals = make(map[string]*crystal.Crystal)
	m.levelCounts = make(map[crystal.Level]int)
	m.pathways = make(map[string]int)
	m.recurringPatterns = make(map[string]int)
	m.abstracted = make(map[string][]string)
	m.metas = make(map[string]*Meta)
}

// Restore installs a crystal rebuilt from a snapshot, preserving its id
// and level bookkeeping.
func (m *Manager) Restore(c *crystal.Crystal) {
	c.SetRNG(m.rng)
	m.crystals[c.ID] = c
	m.levelCounts[c.Level]++
	m.created++
}

// Stats is a read-only summary of the graph.
type Stats struct {
	TotalCrystals     int            `json:"total_crystals"`
	CrystalsCreated   int            `json:"crystals_created"`
	TotalEvolutions   int            `json:"total_evolutions"`
	LevelDistribution map[string]int `json:"level_distribution"`
	TopPathway        string         `json:"top_pathway"`
	TopPathwayCount   int            `json:"top_pathway_count"`
	RecurringPatterns int            `json:"recurring_patterns"`
	AbstractedCount   int            `json:"abstracted_concepts"`
	MetaCount         int            `json:"meta_coordinators"`
}

// GraphStats summarizes the current graph state.
func (m *Manager) GraphStats() Stats {
	dist := make(map[string]int)
	for lvl, n := range m.levelCounts {
		if n > 0 {
			dist[lvl.String()] = n
		}
	}
	s := Stats{
		TotalCrystals:     len(m.crystals),
		CrystalsCreated:   m.created,
		TotalEvolutions:   m.evolutions,
		LevelDistribution: dist,
		RecurringPatterns: len(m.recurringPatterns),
		AbstractedCount:   len(m.abstracted),
		MetaCount:         len(m.metas),
	}
	for key, n := range m.pathways {
		if n > s.TopPathwayCount {
			s.TopPathway = key
			s.TopPathwayCount = n
		}
	}
	return s
}
