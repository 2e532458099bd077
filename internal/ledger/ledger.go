// Package ledger owns conversation threads and the enrichment
// orchestrator: it folds recent turns, cross-source insights, and the
// user-interest profile into a bounded context block prepended to outgoing
// prompts. Like the graph package it is lock-free; the engine facade
// serializes access.
package ledger

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Cross-source memory log bound.
const maxCrossMemory = 100

// Global thread container bound; oldest-inactive threads are evicted.
const maxGlobalThreads = 100

// Threads with at most this many turns produce no recent-context fragment.
const minTurnsForSummary = 2

// Per-thread topic list bound.
const maxThreadTopics = 10

// CrossEntry is one entry in the bounded cross-source memory log.
type CrossEntry struct {
	Source    string    `json:"source"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Payload is the result of enriching one prompt.
type Payload struct {
	FinalText   string
	Summary     string
	TokensAdded int
	Sources     []string
}

// Ledger tracks per-source and global conversation threads and builds the
// continuity context injected ahead of raw prompts.
type Ledger struct {
	settings Settings
	tier     Tier

	globalThreads map[string]*Thread
	sourceThreads map[string]map[string]*Thread
	activeIDs     map[string]string

	profile     *Profile
	crossMemory []CrossEntry
}

// NewLedger creates an empty ledger for the declared entitlement tier.
func NewLedger(tier Tier) *Ledger {
	l := &Ledger{
		tier:          tier,
		settings:      DefaultSettings(),
		globalThreads: make(map[string]*Thread),
		sourceThreads: make(map[string]map[string]*Thread),
		activeIDs:     make(map[string]string),
		profile:       NewProfile(),
	}
	l.settings.clampForTier(tier)
	return l
}

// SetTier changes the declared tier and re-clamps the settings.
func (l *Ledger) SetTier(tier Tier) {
	l.tier = tier
	l.settings.clampForTier(tier)
}

// Settings returns a copy of the current settings.
func (l *Ledger) Settings() Settings { return l.settings }

// UpdateSettings merges a partial update, enforcing tier clamps.
func (l *Ledger) UpdateSettings(u Update) {
	l.settings.apply(u, l.tier)
}

// ActiveThread returns the active thread for a source, creating one if
// none exists. Exactly one thread per source is active at a time.
func (l *Ledger) ActiveThread(sourceID string) *Thread {
	if id, ok := l.activeIDs[sourceID]; ok {
		if t := l.lookup(sourceID, id); t != nil {
			return t
		}
	}
	id := fmt.Sprintf("%s_%d", sourceID, time.Now().Unix())
	t := newThread(id, sourceID)
	l.store(sourceID, t)
	l.activeIDs[sourceID] = id
	return t
}

func (l *Ledger) lookup(sourceID, threadID string) *Thread {
	if l.settings.IsolationMode {
		if m, ok := l.sourceThreads[sourceID]; ok {
			return m[threadID]
		}
		return nil
	}
	return l.globalThreads[threadID]
}

func (l *Ledger) store(sourceID string, t *Thread) {
	if l.settings.IsolationMode {
		if l.sourceThreads[sourceID] == nil {
			l.sourceThreads[sourceID] = make(map[string]*Thread)
		}
		l.sourceThreads[sourceID][t.ID] = t
		return
	}
	l.globalThreads[t.ID] = t
}

// Enrich records the user turn and builds the continuity context: a
// compressed summary of the recent window, optionally the best
// cross-source fragment, and at high strength a profile fragment. The
// assembled block is truncated to the strength-scaled character budget
// and prepended to the raw text.
func (l *Ledger) Enrich(sourceID, rawText string) Payload {
	passthrough := Payload{FinalText: rawText}

	if !l.settings.Enabled || l.settings.InjectionStrength == 0 {
		return passthrough
	}

	// Defensive: the clamp is an entitlement concern, but enforce it here
	// even if the caller forgot to declare the tier.
	l.settings.clampForTier(l.tier)

	thread := l.ActiveThread(sourceID)
	thread.prune()
	thread.AddTurn(RoleUser, rawText)

	var fragments []string
	var sources []string

	if len(thread.Turns) > minTurnsForSummary {
		if summary := summarizeRecent(thread.recent(6), l.settings.CompressionLevel); summary != "" {
			thread.Summary = summary
			fragments = append(fragments, "[Recent context: "+summary+"]")
			sources = append(sources, sourceID)
		}
	}

	if l.settings.CrossSourceInsights && !l.settings.IsolationMode {
		if cross := l.crossContext(sourceID, rawText); cross != "" {
			fragments = append(fragments, "[Cross-source insight: "+cross+"]")
			sources = append(sources, l.recentCrossSources(sourceID, 5)...)
		}
	}

	if l.settings.InjectionStrength >= 7 {
		if line := l.profile.contextLine(); line != "" {
			fragments = append(fragments, "[User context: "+line+"]")
		}
	}

	if len(fragments) == 0 {
		return passthrough
	}

	block := joinFragments(fragments)
	maxChars := l.settings.MaxContextTokens * 4 * l.settings.InjectionStrength / 10
	if len(block) > maxChars {
		block = truncate(block, maxChars) + "..."
	}

	return Payload{
		FinalText:   block + "\n\n" + rawText,
		Summary:     block,
		TokensAdded: len(block) / 4,
		Sources:     dedupe(sources),
	}
}

// RecordOutput ingests an assistant reply: it lands in the active thread,
// creating one if the source never enriched, feeds the cross-source memory
// log when insights are on, and updates the interest profile.
func (l *Ledger) RecordOutput(sourceID, text string) {
	thread := l.ActiveThread(sourceID)
	thread.AddTurn(RoleAssistant, text)

	topic := extractTopic(truncate(text, turnContentMax))
	thread.Topics = append(thread.Topics, topic)
	if len(thread.Topics) > maxThreadTopics {
		thread.Topics = thread.Topics[len(thread.Topics)-maxThreadTopics:]
	}

	l.evictStaleThreads()

	if l.settings.CrossSourceInsights {
		l.crossMemory = append(l.crossMemory, CrossEntry{
			Source:    sourceID,
			Topic:     topic,
			Timestamp: time.Now(),
		})
		if len(l.crossMemory) > maxCrossMemory {
			l.crossMemory = l.crossMemory[len(l.crossMemory)-maxCrossMemory:]
		}
	}

	l.profile.absorb(text)
}

// crossContext finds the most keyword-overlapping recent memory from other
// sources.
func (l *Ledger) crossContext(currentSource, userText string) string {
	if len(l.crossMemory) == 0 {
		return ""
	}

	userWords := wordSet(userText)
	window := l.crossMemory
	if len(window) > 20 {
		window = window[len(window)-20:]
	}

	bestOverlap := 0
	var best *CrossEntry
	for i := range window {
		entry := &window[i]
		if entry.Source == currentSource {
			continue
		}
		overlap := 0
		for w := range wordSet(entry.Topic) {
			if userWords[w] {
				overlap++
			}
		}
		if overlap > bestOverlap {
			bestOverlap = overlap
			best = entry
		}
	}
	if best == nil {
		return ""
	}
	return "From " + best.Source + ": " + best.Topic
}

func (l *Ledger) recentCrossSources(excluding string, n int) []string {
	window := l.crossMemory
	if len(window) > n {
		window = window[len(window)-n:]
	}
	var out []string
	for _, e := range window {
		if e.Source != excluding {
			out = append(out, e.Source)
		}
	}
	return out
}

// evictStaleThreads bounds the global container by dropping the
// least-recently-active threads.
func (l *Ledger) evictStaleThreads() {
	for len(l.globalThreads) > maxGlobalThreads {
		var oldestID string
		var oldest time.Time
		for id, t := range l.globalThreads {
			if oldestID == "" || t.LastActive.Before(oldest) {
				oldestID = id
				oldest = t.LastActive
			}
		}
		delete(l.globalThreads, oldestID)
	}
}

// Themes returns up to n recent topics across all threads, newest first.
func (l *Ledger) Themes(n int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range l.allThreads() {
		for i := len(t.Topics) - 1; i >= 0 && len(out) < n; i-- {
			topic := t.Topics[i]
			if !seen[topic] {
				seen[topic] = true
				out = append(out, topic)
			}
		}
		if len(out) >= n {
			break
		}
	}
	return out
}

// CrossTopics returns distinct recent cross-source topics not from the
// given source.
func (l *Ledger) CrossTopics(excluding string, n int) []string {
	var out []string
	seen := make(map[string]bool)
	for i := len(l.crossMemory) - 1; i >= 0 && len(out) < n; i-- {
		e := l.crossMemory[i]
		if e.Source == excluding || seen[e.Topic] {
			continue
		}
		seen[e.Topic] = true
		out = append(out, e.Topic)
	}
	return out
}

// ConversationCount is the number of threads across all containers.
func (l *Ledger) ConversationCount() int {
	n := len(l.globalThreads)
	for _, m := range l.sourceThreads {
		n += len(m)
	}
	return n
}

// TurnCount is the total number of recorded turns.
func (l *Ledger) TurnCount() int {
	n := 0
	for _, t := range l.allThreads() {
		n += len(t.Turns)
	}
	return n
}

// InterestCount is the number of tracked profile interests.
func (l *Ledger) InterestCount() int { return len(l.profile.Interests) }

// CrossMemoryCount is the size of the cross-source memory log.
func (l *Ledger) CrossMemoryCount() int { return len(l.crossMemory) }

func (l *Ledger) allThreads() []*Thread {
	out := make([]*Thread, 0, len(l.globalThreads))
	for _, t := range l.globalThreads {
		out = append(out, t)
	}
	for _, m := range l.sourceThreads {
		for _, t := range m {
			out = append(out, t)
		}
	}
	return out
}

// Clear wipes threads, profile, and cross-source memory. Settings survive.
func (l *Ledger) Clear() {
	l.globalThreads = make(map[string]*Thread)
	l.sourceThreads = make(map[string]map[string]*Thread)
	l.activeIDs = make(map[string]string)
	l.crossMemory = nil
	l.profile = NewProfile()
}

// Snapshot accessors for collaborator persistence.

// AllThreads returns every thread for snapshotting.
func (l *Ledger) AllThreads() []*Thread { return l.allThreads() }

// ActiveIDs returns the source-to-active-thread map.
func (l *Ledger) ActiveIDs() map[string]string {
	out := make(map[string]string, len(l.activeIDs))
	for k, v := range l.activeIDs {
		out[k] = v
	}
	return out
}

// Profile returns the live profile.
func (l *Ledger) Profile() *Profile { return l.profile }

// CrossMemory returns the cross-source memory log.
func (l *Ledger) CrossMemory() []CrossEntry { return l.crossMemory }

// RestoreThread reinstalls a thread from a snapshot.
func (l *Ledger) RestoreThread(t *Thread, active bool) {
	l.store(t.SourceID, t)
	if active {
		l.activeIDs[t.SourceID] = t.ID
	}
}

// RestoreProfile reinstalls the profile from a snapshot.
func (l *Ledger) RestoreProfile(p *Profile) {
	if p != nil {
		l.profile = p
	}
}

// RestoreCrossMemory reinstalls the cross-source log from a snapshot.
func (l *Ledger) RestoreCrossMemory(entries []CrossEntry) {
	if len(entries) > maxCrossMemory {
		entries = entries[len(entries)-maxCrossMemory:]
	}
	l.crossMemory = entries
}

// RestoreSettings reinstalls persisted settings, clamped for the tier.
func (l *Ledger) RestoreSettings(s Settings) {
	l.settings = s
	l.settings.clampForTier(l.tier)
}

func joinFragments(fragments []string) string {
	out := fragments[0]
	for _, f := range fragments[1:] {
		out += " " + f
	}
	return out
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

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func wordSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range splitLowerWords(s) {
		out[w] = true
	}
	return out
}
