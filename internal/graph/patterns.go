package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/latticemem/lattice/internal/crystal"
)

// patternMinSharers is how many crystals must independently share a
// connection signature before it counts as a recurring pattern.
const patternMinSharers = 3

// detectPatterns looks for crystals whose neighborhoods repeat. Each
// crystal with at least two connections yields a signature from the three
// lexicographically-first connected concept names; when three or more
// crystals share a signature, a single abstracted crystal is synthesized
// and linked back to every contributor. The pass is idempotent: a
// signature that already produced an abstraction never produces another.
func (m *Manager) detectPatterns() {
	signatures := make(map[string][]string)

	for _, c := range m.crystals {
		if len(c.Connections) < 2 {
			continue
		}
		var connected []string
		for id := range c.Connections {
			if other, ok := m.crystals[id]; ok {
				connected = append(connected, other.Concept)
			}
		}
		if len(connected) < 2 {
			continue
		}
		sort.Strings(connected)
		if len(connected) > 3 {
			connected = connected[:3]
		}
		sig := strings.Join(connected, "_")
		signatures[sig] = append(signatures[sig], c.Concept)
	}

	for sig, concepts := range signatures {
		if len(concepts) < patternMinSharers {
			continue
		}
		m.recurringPatterns[sig] = len(concepts)
		if _, done := m.abstracted[sig]; done {
			continue
		}
		m.createAbstraction(sig, concepts)
	}
}

// createAbstraction synthesizes one generalized crystal for a recurring
// signature and links it to all source concepts.
func (m *Manager) createAbstraction(sig string, sources []string) {
	name := "ABSTRACT_" + sig
	if len(name) > len("ABSTRACT_")+30 {
		name = name[:len("ABSTRACT_")+30]
	}

	// A previous run (or a restored snapshot) may already hold the concept.
	if m.find(name) != nil {
		m.abstracted[sig] = sources
		return
	}

	abstract := m.GetOrCreate(name, nil)
	abstract.AddFacet(
		"abstraction",
		crystal.TextContent(fmt.Sprintf("Generalized pattern from %d instances", len(sources))),
		0.8,
	)

	for _, src := range sources {
		m.Link(name, src, crystal.Signals{Abstraction: true}, 0.3)
	}
	m.abstracted[sig] = sources
}
