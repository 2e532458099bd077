// Package inject decides whether an incoming message justifies
// re-injecting prior context, and formats the context block when it does.
// Every request produces a decision record, injected or not, so an
// operator can always answer "why didn't it inject?".
package inject

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/graph"
	"github.com/latticemem/lattice/internal/ledger"
)

// Decision outcomes.
const (
	OutcomeInjected = "INJECTED"
	OutcomeSkipped  = "SKIPPED"
	OutcomeError    = "ERROR"
)

// Defaults and bounds.
const (
	defaultThreshold  = 0.05
	defaultMaxContext = 600
	minContextLength  = 100
	maxContextLength  = 1500

	decisionLogCap = 100
	historyCap     = 50

	fallbackNodes = 5
	topMatches    = 10
	maxFacts      = 10
)

// Decision is an immutable record of one injection request.
type Decision struct {
	Timestamp      time.Time `json:"timestamp"`
	Message        string    `json:"message"`
	Platform       string    `json:"platform"`
	Outcome        string    `json:"outcome"`
	Reason         string    `json:"reason"`
	Relevance      float64   `json:"relevance"`
	Threshold      float64   `json:"threshold"`
	TopicsFound    int       `json:"topics_found"`
	FactsFound     int       `json:"facts_found"`
	CrystalsFound  int       `json:"crystals_found"`
	NodesChecked   int       `json:"nodes_checked"`
	NodesMatched   int       `json:"nodes_matched"`
	ContextPreview string    `json:"context_preview"`
}

// Result is what the caller gets back from Decide.
type Result struct {
	OriginalMessage string    `json:"original_message"`
	InjectedMessage string    `json:"injected_message"`
	ContextBlock    string    `json:"context_block"`
	WasInjected     bool      `json:"was_injected"`
	Relevance       float64   `json:"relevance"`
	Summary         string    `json:"summary"`
	Timestamp       time.Time `json:"timestamp"`
}

// Injector scores candidate memory against incoming messages and decides
// whether to inject. Its counters and rings are guarded by their own
// mutex, independent of the concept-graph lock, so decision logging never
// blocks concept mutation.
type Injector struct {
	graph  *graph.Manager
	ledger *ledger.Ledger

	mu sync.Mutex

	enabled        bool
	minRelevance   float64
	maxContextLen  int
	forceInjection bool

	totalRequests   int
	totalInjections int
	byPlatform      map[string]int

	history   []Result
	decisions []Decision
}

// NewInjector creates a decision engine over the given graph and ledger.
// Reads of the graph and ledger must happen under the caller's coarse
// lock; the injector only locks its own bookkeeping.
func NewInjector(g *graph.Manager, l *ledger.Ledger) *Injector {
	return &Injector{
		graph:         g,
		ledger:        l,
		enabled:       true,
		minRelevance:  defaultThreshold,
		maxContextLen: defaultMaxContext,
		byPlatform:    make(map[string]int),
	}
}

// Decide runs the full pipeline for one message: keyword extraction,
// candidate scoring, relevance, threshold check, formatting. It never
// panics past this boundary; an internal fault becomes an ERROR decision
// and the caller gets the original message back unchanged.
func (inj *Injector) Decide(message, platform string, force bool) Result {
	inj.mu.Lock()
	inj.totalRequests++
	enabled := inj.enabled
	threshold := inj.minRelevance
	forced := force || inj.forceInjection
	inj.mu.Unlock()

	d := Decision{
		Timestamp: time.Now(),
		Message:   truncate(message, 100),
		Platform:  platform,
		Threshold: threshold,
	}
	result := Result{
		OriginalMessage: message,
		InjectedMessage: message,
		Timestamp:       d.Timestamp,
	}

	if !enabled && !forced {
		d.Outcome = OutcomeSkipped
		d.Reason = "injection disabled"
		inj.logDecision(d)
		return result
	}

	if len(strings.TrimSpace(message)) < 2 {
		d.Outcome = OutcomeSkipped
		d.Reason = "message too short"
		inj.logDecision(d)
		return result
	}

	ctx, err := inj.safeExtract(message, platform)
	if err != nil {
		d.Outcome = OutcomeError
		d.Reason = err.Error()
		inj.logDecision(d)
		return result
	}

	d.Relevance = ctx.Relevance
	d.TopicsFound = len(ctx.Topics)
	d.FactsFound = len(ctx.Facts)
	d.CrystalsFound = len(ctx.ActiveCrystals)
	d.NodesChecked = ctx.NodesChecked
	d.NodesMatched = ctx.NodesMatched
	result.Relevance = ctx.Relevance

	shouldInject := ctx.Relevance >= threshold || forced || ctx.NodesMatched > 0
	if !shouldInject {
		d.Outcome = OutcomeSkipped
		d.Reason = fmt.Sprintf("relevance %.3f < %.3f, no matches", ctx.Relevance, threshold)
		inj.logDecision(d)
		return result
	}

	contextText := inj.formatContext(ctx)
	if contextText == "" && !forced {
		d.Outcome = OutcomeSkipped
		d.Reason = "no context text generated"
		inj.logDecision(d)
		return result
	}
	if contextText == "" {
		// Forced with an empty store still injects something truthful.
		contextText = fmt.Sprintf("User has %d prior conversations on this device", ctx.ConversationCount)
	}
	d.ContextPreview = truncate(contextText, 150)

	block := renderTemplate(platform, contextText)

	result.InjectedMessage = message + block
	result.ContextBlock = block
	result.WasInjected = true
	result.Summary = summarize(ctx)

	inj.mu.Lock()
	inj.totalInjections++
	inj.byPlatform[platform]++
	inj.history = append(inj.history, result)
	if len(inj.history) > historyCap {
		inj.history = inj.history[len(inj.history)-historyCap:]
	}
	inj.mu.Unlock()

	d.Outcome = OutcomeInjected
	d.Reason = fmt.Sprintf("relevance %.3f, %d matches", ctx.Relevance, ctx.NodesMatched)
	inj.logDecision(d)
	return result
}

// safeExtract runs extraction with a recover barrier so a scoring fault
// can never escape to the caller.
func (inj *Injector) safeExtract(message, platform string) (ctx *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx = nil
			err = fmt.Errorf("context extraction: %v", r)
		}
	}()
	ctx = inj.extract(message, platform)
	return ctx, nil
}

// extract walks the concept graph and the ledger for candidate context.
func (inj *Injector) extract(message, platform string) *Context {
	ctx := &Context{}
	ctx.Keywords = ExtractKeywords(message)

	crystals := inj.graph.All()
	ctx.NodesChecked = len(crystals)

	type match struct {
		c     *crystal.Crystal
		score float64
	}
	var matched []match
	for _, c := range crystals {
		if scored := scoreCandidate(ctx.Keywords, searchText(c)); scored > 0 {
			matched = append(matched, match{c: c, score: scored})
		}
	}
	ctx.NodesMatched = len(matched)

	sort.Slice(matched, func(i, j int) bool { return matched[i].score > matched[j].score })
	if len(matched) > topMatches {
		matched = matched[:topMatches]
	}

	for _, m := range matched {
		ctx.addCrystal(m.c)
	}

	// Never waste a non-empty store: with zero keyword overlap, fall back
	// to the most recently used crystals.
	if ctx.NodesMatched == 0 && len(crystals) > 0 {
		recent := inj.graph.RecentlyUsed(fallbackNodes)
		for _, c := range recent {
			ctx.addCrystal(c)
		}
		ctx.NodesMatched = len(recent)
	}

	for _, c := range crystals {
		if c.UsageCount > 0 {
			ctx.ActiveCrystals = append(ctx.ActiveCrystals, c.Concept)
		}
		if c.Level == crystal.Quasi {
			ctx.QuasiConcepts = append(ctx.QuasiConcepts, c.Concept)
		}
	}

	ctx.Themes = inj.ledger.Themes(4)
	ctx.CrossTopics = inj.ledger.CrossTopics(platform, 3)
	ctx.ConversationCount = inj.ledger.ConversationCount()

	ctx.Relevance = ctx.relevance()
	ctx.Confidence = capped(float64(len(ctx.Facts))*0.2+float64(len(ctx.Topics))*0.15, 1.0)
	return ctx
}

// addCrystal folds one matched crystal into the context: its concept as a
// topic and its facet evidence as facts.
func (ctx *Context) addCrystal(c *crystal.Crystal) {
	if !containsString(ctx.Topics, c.Concept) {
		ctx.Topics = append(ctx.Topics, c.Concept)
	}
	for _, f := range c.Facets {
		if len(ctx.Facts) >= maxFacts {
			break
		}
		if strings.HasPrefix(f.Role, "INTERNAL_LAW_") {
			continue
		}
		value := f.Content.String()
		if len(value) <= 3 {
			continue
		}
		ctx.Facts = append(ctx.Facts, Fact{Key: f.Role, Value: truncate(value, 150)})
	}
}

// searchText flattens a crystal into lowercase text for keyword matching.
func searchText(c *crystal.Crystal) string {
	var b strings.Builder
	b.WriteString(lower(c.Concept))
	for _, f := range c.Facets {
		b.WriteByte(' ')
		b.WriteString(lower(f.Role))
		b.WriteByte(' ')
		b.WriteString(lower(f.Content.String()))
	}
	return b.String()
}

// formatContext renders every available fragment into one pipe-delimited
// string, truncated to the configured length.
func (inj *Injector) formatContext(ctx *Context) string {
	inj.mu.Lock()
	maxLen := inj.maxContextLen
	inj.mu.Unlock()

	var parts []string

	if len(ctx.Topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(firstN(ctx.Topics, 6), ", "))
	}
	if len(ctx.Facts) > 0 {
		var items []string
		for _, f := range ctx.Facts {
			if len(items) >= 5 {
				break
			}
			v := strings.ReplaceAll(truncate(f.Value, 80), "\n", " ")
			items = append(items, f.Key+": "+v)
		}
		parts = append(parts, "Known info: "+strings.Join(items, "; "))
	}
	if len(ctx.Themes) > 0 {
		parts = append(parts, "Themes: "+strings.Join(firstN(ctx.Themes, 4), ", "))
	}
	if len(ctx.CrossTopics) > 0 {
		parts = append(parts, "Cross-source topics: "+strings.Join(firstN(ctx.CrossTopics, 3), ", "))
	}
	if len(ctx.QuasiConcepts) > 0 {
		parts = append(parts, "Evolved concepts: "+strings.Join(firstN(ctx.QuasiConcepts, 3), ", "))
	}
	if ctx.ConversationCount > 0 {
		parts = append(parts, fmt.Sprintf("%d prior conversations", ctx.ConversationCount))
	}
	if len(ctx.ActiveCrystals) > 0 {
		parts = append(parts, fmt.Sprintf("%d active concept crystals", len(ctx.ActiveCrystals)))
	}

	out := strings.Join(parts, " | ")
	if len(out) > maxLen {
		out = truncate(out, maxLen-3) + "..."
	}
	return out
}

func summarize(ctx *Context) string {
	var parts []string
	if len(ctx.Topics) > 0 {
		parts = append(parts, fmt.Sprintf("%d topics", len(ctx.Topics)))
	}
	if len(ctx.Facts) > 0 {
		parts = append(parts, fmt.Sprintf("%d facts", len(ctx.Facts)))
	}
	if ctx.NodesMatched > 0 {
		parts = append(parts, fmt.Sprintf("%d matches", ctx.NodesMatched))
	}
	if ctx.ConversationCount > 0 {
		parts = append(parts, fmt.Sprintf("%d convos", ctx.ConversationCount))
	}
	if len(parts) == 0 {
		return "Injected: minimal context"
	}
	return fmt.Sprintf("Injected: %s (rel: %.0f%%)", strings.Join(parts, ", "), ctx.Relevance*100)
}

// LogSkip records a decision made above the injector (store unavailable,
// engine not running) so the decision log stays complete.
func (inj *Injector) LogSkip(message, platform, reason string) Result {
	d := Decision{
		Timestamp: time.Now(),
		Message:   truncate(message, 100),
		Platform:  platform,
		Outcome:   OutcomeSkipped,
		Reason:    reason,
		Threshold: inj.Threshold(),
	}
	inj.mu.Lock()
	inj.totalRequests++
	inj.mu.Unlock()
	inj.logDecision(d)
	return Result{
		OriginalMessage: message,
		InjectedMessage: message,
		Timestamp:       d.Timestamp,
	}
}

func (inj *Injector) logDecision(d Decision) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.decisions = append(inj.decisions, d)
	if len(inj.decisions) > decisionLogCap {
		inj.decisions = inj.decisions[len(inj.decisions)-decisionLogCap:]
	}
}

// Threshold returns the current relevance threshold.
func (inj *Injector) Threshold() float64 {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.minRelevance
}

// Configure updates injector settings; nil fields are left untouched.
func (inj *Injector) Configure(enabled *bool, minRelevance *float64, maxContextLen *int, force *bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if enabled != nil {
		inj.enabled = *enabled
	}
	if minRelevance != nil {
		v := *minRelevance
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		inj.minRelevance = v
	}
	if maxContextLen != nil {
		v := *maxContextLen
		if v < minContextLength {
			v = minContextLength
		}
		if v > maxContextLength {
			v = maxContextLength
		}
		inj.maxContextLen = v
	}
	if force != nil {
		inj.forceInjection = *force
	}
}

// DecisionLog returns the n most recent decisions, oldest first.
func (inj *Injector) DecisionLog(n int) []Decision {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return copyTail(inj.decisions, n)
}

// RecentInjections returns the n most recent injection results.
func (inj *Injector) RecentInjections(n int) []Result {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return copyTail(inj.history, n)
}

// Stats is a read-only snapshot of injector activity.
type Stats struct {
	Enabled         bool           `json:"enabled"`
	ForceInjection  bool           `json:"force_injection"`
	TotalRequests   int            `json:"total_requests"`
	TotalInjections int            `json:"total_injections"`
	InjectionRate   float64        `json:"injection_rate"`
	ByPlatform      map[string]int `json:"injections_by_platform"`
	Threshold       float64        `json:"min_relevance_threshold"`
	HistoryCount    int            `json:"history_count"`
	DecisionCount   int            `json:"decision_log_count"`
}

// InjectorStats summarizes injector activity.
func (inj *Injector) InjectorStats() Stats {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	rate := 0.0
	if inj.totalRequests > 0 {
		rate = float64(inj.totalInjections) / float64(inj.totalRequests)
	}
	byPlatform := make(map[string]int, len(inj.byPlatform))
	for k, v := range inj.byPlatform {
		byPlatform[k] = v
	}
	return Stats{
		Enabled:         inj.enabled,
		ForceInjection:  inj.forceInjection,
		TotalRequests:   inj.totalRequests,
		TotalInjections: inj.totalInjections,
		InjectionRate:   rate,
		ByPlatform:      byPlatform,
		Threshold:       inj.minRelevance,
		HistoryCount:    len(inj.history),
		DecisionCount:   len(inj.decisions),
	}
}

// ClearHistory drops the decision log and injection history.
func (inj *Injector) ClearHistory() {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.history = nil
	inj.decisions = nil
}

// RestoreDecisions reinstalls a persisted decision log.
func (inj *Injector) RestoreDecisions(ds []Decision) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(ds) > decisionLogCap {
		ds = ds[len(ds)-decisionLogCap:]
	}
	inj.decisions = ds
}

func copyTail[T any](s []T, n int) []T {
	if n <= 0 || n > len(s) {
		n = len(s)
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// truncate cuts s to at most n bytes, backing up so the cut never lands
// inside a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
