// Package engine is the facade over the concept graph, the conversation
// ledger, and the injection decision engine. It owns the one coarse mutex
// that serializes graph and ledger access, the seedable random source,
// and the periodic decay task. Nothing in here blocks on I/O.
package engine

import (
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/graph"
	"github.com/latticemem/lattice/internal/inject"
	"github.com/latticemem/lattice/internal/ledger"
)

// defaultDecayInterval is how often the background decay pass runs when
// the config does not say otherwise.
const defaultDecayInterval = 5 * time.Minute

// conceptsPerOutput bounds how many concepts one assistant reply teaches
// the graph.
const conceptsPerOutput = 3

// Options configures a new Engine. Zero values pick sane defaults.
type Options struct {
	// Theme selects the governance theme; "security" activates the full
	// outcome table.
	Theme string
	// Tier is the caller's declared entitlement tier.
	Tier ledger.Tier
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
	// DecayInterval is the background decay period.
	DecayInterval time.Duration
}

// Engine is the single shared memory engine instance. Construct one and
// pass it by reference; there is no ambient global.
type Engine struct {
	mu sync.Mutex

	graph    *graph.Manager
	ledger   *ledger.Ledger
	injector *inject.Injector
	rng      *rand.Rand

	decayInterval time.Duration
	running       bool
	stopCh        chan struct{}
}

// New creates an engine with an empty graph and ledger. The engine is
// immediately usable; StartDecayTimer adds the background decay pass.
func New(opts Options) *Engine {
	if opts.Theme == "" {
		opts.Theme = "security"
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = defaultDecayInterval
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	g := graph.NewManager(opts.Theme, rng)
	l := ledger.NewLedger(opts.Tier)

	return &Engine{
		graph:         g,
		ledger:        l,
		injector:      inject.NewInjector(g, l),
		rng:           rng,
		decayInterval: opts.DecayInterval,
		running:       true,
		stopCh:        make(chan struct{}),
	}
}

// EnrichInput records the user turn and builds the continuity context for
// an outgoing prompt.
func (e *Engine) EnrichInput(sourceID, rawText string) ledger.Payload {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Enrich(sourceID, rawText)
}

// RecordOutput ingests an assistant reply into the active thread and
// teaches the graph: the reply's leading keywords become used concepts,
// linked pairwise so recurring themes build pathways.
func (e *Engine) RecordOutput(sourceID, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.RecordOutput(sourceID, text)

	keywords := inject.ExtractKeywords(text)
	if len(keywords) > conceptsPerOutput {
		keywords = keywords[:conceptsPerOutput]
	}
	for i, kw := range keywords {
		e.graph.Use(kw, crystal.Signals{})
		if i > 0 {
			e.graph.Link(keywords[i-1], kw, crystal.Signals{}, 0.1)
		}
	}
}

// DecideInjection runs the injection decision for an outgoing message. If
// the engine has been stopped the request is skipped with an explicit
// reason; the message always comes back usable.
func (e *Engine) DecideInjection(message, platform string, force bool) inject.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return e.injector.LogSkip(message, platform, "memory store not running")
	}
	return e.injector.Decide(message, platform, force)
}

// UseConcept runs one governance-mediated use of a concept, creating it at
// BASE level if absent, and returns a view of the result.
func (e *Engine) UseConcept(concept string, sig crystal.Signals) ConceptView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return viewOf(e.graph.Use(concept, sig))
}

// AddConceptFacet attaches evidence to a concept, creating it if absent.
func (e *Engine) AddConceptFacet(concept, role string, content crystal.Content, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.graph.GetOrCreate(concept, nil)
	c.AddFacet(role, content, confidence)
}

// LinkConcepts creates or strengthens the connection between two concepts.
func (e *Engine) LinkConcepts(a, b string, sig crystal.Signals, weight float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.Link(a, b, sig, weight)
}

// Coordinate runs a consensus pass across the named concepts.
func (e *Engine) Coordinate(concepts []string, sig crystal.Signals) graph.Consensus {
	e.mu.Lock()
	defer e.mu.Unlock()
	crystals := make([]*crystal.Crystal, 0, len(concepts))
	for _, name := range concepts {
		if c := e.graph.Get(name); c != nil {
			crystals = append(crystals, c)
		}
	}
	return e.graph.Coordinate(crystals, sig)
}

// CoordinateDomain routes the named concepts through the domain's
// meta-coordinator: each QUASI concept self-governs, comes under the
// coordinator's management, and the conflicting verdicts are resolved
// into one prioritized action. Immature or unknown concepts are ignored.
func (e *Engine) CoordinateDomain(domain string, concepts []string, sig crystal.Signals) graph.MetaDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	meta := e.graph.CreateMeta(domain, nil)
	var verdicts []crystal.Verdict
	for _, name := range concepts {
		c := e.graph.Get(name)
		if c == nil || c.Level != crystal.Quasi {
			continue
		}
		meta.AddManaged(c.ID)
		verdicts = append(verdicts, c.SelfGovern(sig))
	}
	return meta.Coordinate(verdicts)
}

// Concept returns a view of the named concept, or a zero view if absent.
func (e *Engine) Concept(name string) (ConceptView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.graph.Get(name)
	if c == nil {
		return ConceptView{}, false
	}
	return viewOf(c), true
}

// UpdateSettings merges a partial ledger settings update under the
// caller's declared tier.
func (e *Engine) UpdateSettings(u ledger.Update, tier ledger.Tier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ledger.SetTier(tier)
	e.ledger.UpdateSettings(u)
}

// Settings returns the current ledger settings.
func (e *Engine) Settings() ledger.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Settings()
}

// ConfigureInjection updates the decision engine's knobs; nil fields are
// left untouched.
func (e *Engine) ConfigureInjection(enabled *bool, minRelevance *float64, maxContextLen *int, force *bool) {
	e.injector.Configure(enabled, minRelevance, maxContextLen, force)
}

// Stats is the combined read-only snapshot across all three subsystems.
type Stats struct {
	Graph    graph.Stats     `json:"graph"`
	Injector inject.Stats    `json:"injector"`
	Settings ledger.Settings `json:"settings"`

	Conversations   int `json:"conversations"`
	Turns           int `json:"turns"`
	Interests       int `json:"interests"`
	CrossMemorySize int `json:"cross_memory_size"`
}

// GetStats summarizes the engine.
func (e *Engine) GetStats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Graph:           e.graph.GraphStats(),
		Injector:        e.injector.InjectorStats(),
		Settings:        e.ledger.Settings(),
		Conversations:   e.ledger.ConversationCount(),
		Turns:           e.ledger.TurnCount(),
		Interests:       e.ledger.InterestCount(),
		CrossMemorySize: e.ledger.CrossMemoryCount(),
	}
}

// DecisionLog returns the n most recent injection decisions.
func (e *Engine) DecisionLog(n int) []inject.Decision {
	return e.injector.DecisionLog(n)
}

// RecentInjections returns the n most recent injection results.
func (e *Engine) RecentInjections(n int) []inject.Result {
	return e.injector.RecentInjections(n)
}

// ClearAll wipes concepts, threads, profile, cross-source memory, and the
// decision logs. Settings survive. Used for user-initiated data deletion.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.Clear()
	e.ledger.Clear()
	e.injector.ClearHistory()
}

// DecayNow runs one decay pass synchronously.
func (e *Engine) DecayNow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.DecayAll()
}

// StartDecayTimer runs a decay pass now and then periodically until Stop.
func (e *Engine) StartDecayTimer() {
	e.DecayNow()
	log.Printf("decay: pass complete, next in %s", e.decayInterval)

	go func() {
		ticker := time.NewTicker(e.decayInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.DecayNow()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop halts the background decay task and marks the engine not running;
// subsequent injection decisions are skipped with an explicit reason.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopCh)
}

// ConceptView is a read-only projection of a crystal, safe to hold after
// the engine lock is released.
type ConceptView struct {
	ID          string  `json:"id"`
	Concept     string  `json:"concept"`
	Level       string  `json:"level"`
	FacetCount  int     `json:"facet_count"`
	UsageCount  int     `json:"usage_count"`
	Connections int     `json:"connections"`
	Internal    int     `json:"internal_crystals"`
	TopWeight   float64 `json:"top_connection_weight"`
}

func viewOf(c *crystal.Crystal) ConceptView {
	v := ConceptView{
		ID:          c.ID,
		Concept:     c.Concept,
		Level:       c.Level.String(),
		FacetCount:  c.ExternalFacetCount(),
		UsageCount:  c.UsageCount,
		Connections: len(c.Connections),
		Internal:    len(c.InternalCrystals),
	}
	for _, w := range c.Connections {
		if w > v.TopWeight {
			v.TopWeight = w
		}
	}
	return v
}
