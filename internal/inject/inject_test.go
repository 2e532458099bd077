package inject

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/latticemem/lattice/internal/crystal"
	"github.com/latticemem/lattice/internal/graph"
	"github.com/latticemem/lattice/internal/ledger"
)

func testInjector(t *testing.T) (*Injector, *graph.Manager, *ledger.Ledger) {
	t.Helper()
	g := graph.NewManager("security", rand.New(rand.NewSource(42)))
	l := ledger.NewLedger(ledger.TierFree)
	return NewInjector(g, l), g, l
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("Tell me about the Rust ownership model, about rust basics!")
	want := []string{"rust", "ownership", "model", "basics"}

	if len(got) != len(want) {
		t.Fatalf("keywords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("keywords = %v, want %v", got, want)
		}
	}
}

func TestExtractKeywordsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "keyword%c%c ", 'a'+i%26, 'a'+i/26)
	}
	if got := ExtractKeywords(b.String()); len(got) != maxKeywords {
		t.Fatalf("keyword count = %d, want %d", len(got), maxKeywords)
	}
}

func TestScoreCandidate(t *testing.T) {
	text := "rust ownership model borrow checker"

	if got := scoreCandidate([]string{"rust"}, text); got < 1.0 {
		t.Fatalf("exact match score = %.2f, want >= 1.0", got)
	}
	// "owned" shares the 4-char prefix "owne" with "ownership" without
	// being an exact substring.
	if got := scoreCandidate([]string{"owned"}, text); got != 0.5 {
		t.Fatalf("prefix match score = %.2f, want 0.5", got)
	}
	if got := scoreCandidate([]string{"zzz"}, text); got != 0 {
		t.Fatalf("no-match score = %.2f, want 0", got)
	}
}

func TestRelevanceScoreBounds(t *testing.T) {
	ctx := &Context{
		ConversationCount: 100000,
		NodesMatched:      100000,
	}
	for i := 0; i < 1000; i++ {
		ctx.Topics = append(ctx.Topics, fmt.Sprintf("topic%d", i))
		ctx.Facts = append(ctx.Facts, Fact{Key: "k", Value: "v"})
		ctx.Themes = append(ctx.Themes, "t")
		ctx.CrossTopics = append(ctx.CrossTopics, "x")
		ctx.QuasiConcepts = append(ctx.QuasiConcepts, "q")
		ctx.ActiveCrystals = append(ctx.ActiveCrystals, "a")
	}

	if got := ctx.relevance(); got < 0 || got > 1 {
		t.Fatalf("relevance = %.3f, out of [0,1]", got)
	}
	if got := (&Context{}).relevance(); got != 0 {
		t.Fatalf("empty relevance = %.3f, want 0", got)
	}
}

func TestDecideEmptyStore(t *testing.T) {
	inj, _, _ := testInjector(t)

	res := inj.Decide("hello", "ChatGPT", false)
	if res.WasInjected {
		t.Fatal("injected with an empty store")
	}
	if res.Relevance != 0 {
		t.Fatalf("relevance = %.3f, want 0", res.Relevance)
	}
	if res.InjectedMessage != "hello" {
		t.Fatalf("message changed: %q", res.InjectedMessage)
	}

	log := inj.DecisionLog(1)
	if len(log) != 1 || log[0].Outcome != OutcomeSkipped {
		t.Fatalf("decision log = %+v", log)
	}
}

func TestDecideMatchingConcept(t *testing.T) {
	inj, g, _ := testInjector(t)
	c := g.GetOrCreate("rust", nil)
	c.AddFacet("definition", crystal.TextContent("ownership model"), 0.8)

	res := inj.Decide("Tell me about rust ownership", "Claude", false)
	if !res.WasInjected {
		t.Fatal("matching concept did not inject")
	}
	if !strings.Contains(res.InjectedMessage, "<prior_context>") {
		t.Fatalf("Claude template missing: %q", res.InjectedMessage)
	}
	if !strings.HasPrefix(res.InjectedMessage, "Tell me about rust ownership") {
		t.Fatalf("context not appended: %q", res.InjectedMessage)
	}
	if !strings.Contains(res.ContextBlock, "Topics: rust") {
		t.Fatalf("context block = %q", res.ContextBlock)
	}

	d := inj.DecisionLog(1)[0]
	if d.Outcome != OutcomeInjected || d.NodesMatched < 1 {
		t.Fatalf("decision = %+v", d)
	}
}

func TestDecideForcedOnEmptyStore(t *testing.T) {
	inj, _, _ := testInjector(t)

	res := inj.Decide("hello", "ChatGPT", true)
	if !res.WasInjected {
		t.Fatal("force did not inject")
	}
	if !strings.Contains(res.ContextBlock, "prior conversations") {
		t.Fatalf("no fallback sentence: %q", res.ContextBlock)
	}
}

func TestFallbackOnZeroKeywordMatches(t *testing.T) {
	inj, g, _ := testInjector(t)
	g.GetOrCreate("golang", nil)

	res := inj.Decide("xyzzy qwerty", "ChatGPT", false)

	d := inj.DecisionLog(1)[0]
	if d.NodesMatched != 1 {
		t.Fatalf("nodes matched = %d, want min(5, store) = 1", d.NodesMatched)
	}
	if !res.WasInjected {
		t.Fatal("fallback match did not inject")
	}
}

func TestDecideShortMessageSkips(t *testing.T) {
	inj, _, _ := testInjector(t)

	res := inj.Decide("  a ", "ChatGPT", false)
	if res.WasInjected {
		t.Fatal("injected a too-short message")
	}
	if got := inj.DecisionLog(1)[0].Reason; got != "message too short" {
		t.Fatalf("reason = %q", got)
	}
}

func TestDecideDisabledSkips(t *testing.T) {
	inj, _, _ := testInjector(t)
	off := false
	inj.Configure(&off, nil, nil, nil)

	res := inj.Decide("anything at all", "ChatGPT", false)
	if res.WasInjected {
		t.Fatal("disabled injector injected")
	}
	if got := inj.DecisionLog(1)[0].Reason; got != "injection disabled" {
		t.Fatalf("reason = %q", got)
	}
}

func TestConfigureClampsBounds(t *testing.T) {
	inj, _, _ := testInjector(t)

	rel := -0.5
	maxLen := 10
	inj.Configure(nil, &rel, &maxLen, nil)

	s := inj.InjectorStats()
	if s.Threshold != 0 {
		t.Fatalf("threshold = %.3f, want clamp to 0", s.Threshold)
	}
	inj.mu.Lock()
	got := inj.maxContextLen
	inj.mu.Unlock()
	if got != minContextLength {
		t.Fatalf("max context = %d, want clamp to %d", got, minContextLength)
	}
}

func TestDecisionLogRingBound(t *testing.T) {
	inj, _, _ := testInjector(t)

	for i := 0; i < decisionLogCap+50; i++ {
		inj.Decide(fmt.Sprintf("message number %d", i), "ChatGPT", false)
	}
	if got := len(inj.DecisionLog(0)); got != decisionLogCap {
		t.Fatalf("decision log length = %d, want %d", got, decisionLogCap)
	}
}

func TestRenderTemplateFallback(t *testing.T) {
	if got := renderTemplate("UnknownApp", "ctx"); got != "\n\n[Context: ctx]" {
		t.Fatalf("default template = %q", got)
	}
	if got := renderTemplate("Gemini", "ctx"); !strings.Contains(got, "conversation history: ctx") {
		t.Fatalf("gemini template = %q", got)
	}
}

func TestTruncateNeverSplitsRunes(t *testing.T) {
	s := "日本語テキスト"
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%d) = %q, invalid UTF-8", n, got)
		}
		if !strings.HasPrefix(s, got) {
			t.Fatalf("truncate(%d) = %q, not a prefix of %q", n, got, s)
		}
	}
}

func TestFormatContextTruncatesOnRuneBoundary(t *testing.T) {
	inj, _, _ := testInjector(t)
	short := minContextLength
	inj.Configure(nil, nil, &short, nil)

	ctx := &Context{}
	for i := 0; i < 10; i++ {
		ctx.Topics = append(ctx.Topics, "sécurité-réseau")
	}
	out := inj.formatContext(ctx)
	if !utf8.ValidString(out) {
		t.Fatalf("context block is invalid UTF-8: %q", out)
	}
	if !strings.HasSuffix(out, "...") || len(out) > short {
		t.Fatalf("block = %q (len %d), want truncated under %d", out, len(out), short)
	}
}

func TestInjectorStatsCounters(t *testing.T) {
	inj, g, _ := testInjector(t)
	c := g.GetOrCreate("python", nil)
	c.AddFacet("definition", crystal.TextContent("dynamic language"), 0.8)

	inj.Decide("tell me about python", "ChatGPT", false)
	inj.Decide("a", "ChatGPT", false)

	s := inj.InjectorStats()
	if s.TotalRequests != 2 {
		t.Fatalf("requests = %d, want 2", s.TotalRequests)
	}
	if s.TotalInjections != 1 || s.ByPlatform["ChatGPT"] != 1 {
		t.Fatalf("injections = %d, by platform = %v", s.TotalInjections, s.ByPlatform)
	}
	if s.InjectionRate != 0.5 {
		t.Fatalf("rate = %.2f, want 0.5", s.InjectionRate)
	}
}
