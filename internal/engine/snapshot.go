package engine

import (
	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/inject"
	"github.com/latticemem/lattice/internal/ledger"
)

// Snapshot is the full persistable state of the engine: every crystal
// with its facets and connections, every thread with its turns, the
// profile, cross-source memory, settings, and the decision log. The
// persistence collaborator round-trips it; the engine never does I/O.
type Snapshot struct {
	Crystals []*crystal.Crystal
	// InternalLinks maps a QUASI crystal's id to the ids of the crystals
	// it has absorbed; the pointers are reattached on restore.
	InternalLinks map[string][]string

	Threads   []*ledger.Thread
	ActiveIDs map[string]string
	Profile   *ledger.Profile
	CrossMem  []ledger.CrossEntry
	Settings  ledger.Settings

	Decisions []inject.Decision
}

// Snapshot deep-copies the engine state under the coarse lock. The copy
// shares nothing with the live engine, so the persistence collaborator
// can iterate it on its own goroutine while requests and the decay timer
// keep mutating the original.
func (e *Engine) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	crystals := e.graph.All()
	copies := make([]*crystal.Crystal, 0, len(crystals))
	internal := make(map[string][]string)
	for _, c := range crystals {
		for _, in := range c.InternalCrystals {
			internal[c.ID] = append(internal[c.ID], in.ID)
		}
		copies = append(copies, cloneCrystal(c))
	}

	return &Snapshot{
		Crystals:      copies,
		InternalLinks: internal,
		Threads:       cloneThreads(e.ledger.AllThreads()),
		ActiveIDs:     e.ledger.ActiveIDs(),
		Profile:       cloneProfile(e.ledger.Profile()),
		CrossMem:      append([]ledger.CrossEntry(nil), e.ledger.CrossMemory()...),
		Settings:      e.ledger.Settings(),
		Decisions:     e.injector.DecisionLog(0),
	}
}

func cloneCrystal(c *crystal.Crystal) *crystal.Crystal {
	cp := *c
	cp.Facets = make(map[string]*crystal.Facet, len(c.Facets))
	for id, f := range c.Facets {
		fc := *f
		if f.Content.Fields != nil {
			fc.Content.Fields = make(map[string]string, len(f.Content.Fields))
			for k, v := range f.Content.Fields {
				fc.Content.Fields[k] = v
			}
		}
		cp.Facets[id] = &fc
	}
	cp.Connections = make(map[string]float64, len(c.Connections))
	for id, w := range c.Connections {
		cp.Connections[id] = w
	}
	// Nesting travels as InternalLinks ids and is reattached on restore.
	cp.InternalCrystals = nil
	return &cp
}

func cloneThreads(threads []*ledger.Thread) []*ledger.Thread {
	out := make([]*ledger.Thread, 0, len(threads))
	for _, t := range threads {
		tc := *t
		tc.Turns = append([]ledger.Turn(nil), t.Turns...)
		tc.Topics = append([]string(nil), t.Topics...)
		out = append(out, &tc)
	}
	return out
}

func cloneProfile(p *ledger.Profile) *ledger.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Interests = append([]string(nil), p.Interests...)
	cp.ExpertiseAreas = append([]string(nil), p.ExpertiseAreas...)
	return &cp
}

// Restore reinstalls a snapshot into an empty engine. Crystals are
// indexed first so internal-crystal pointers can be reattached by id.
func (e *Engine) Restore(s *Snapshot) {
	if s == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]*crystal.Crystal, len(s.Crystals))
	for _, c := range s.Crystals {
		e.graph.Restore(c)
		byID[c.ID] = c
	}
	for id, internals := range s.InternalLinks {
		host := byID[id]
		if host == nil {
			continue
		}
		host.InternalCrystals = nil
		for _, inID := range internals {
			if in := byID[inID]; in != nil {
				host.InternalCrystals = append(host.InternalCrystals, in)
			}
		}
	}

	for _, t := range s.Threads {
		active := s.ActiveIDs[t.SourceID] == t.ID
		e.ledger.RestoreThread(t, active)
	}
	e.ledger.RestoreProfile(s.Profile)
	e.ledger.RestoreCrossMemory(s.CrossMem)
	e.ledger.RestoreSettings(s.Settings)

	e.injector.RestoreDecisions(s.Decisions)
}
