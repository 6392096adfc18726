package match_test

import (
	"context"
	"testing"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/match"
)

func testIndex(t *testing.T) *command.Index {
	t.Helper()
	idx, err := command.NewIndex([]command.CommandDefinition{
		{
			ID:          "open_chrome",
			Category:    command.CategoryAppControl,
			Phrases:     []string{"open chrome", "launch chrome"},
			Description: "open the google chrome web browser",
		},
		{
			ID:       "open_firefox",
			Category: command.CategoryAppControl,
			Phrases:  []string{"open firefox"},
		},
		{
			ID:       "close_window",
			Category: command.CategoryAppControl,
			Phrases:  []string{"close window"},
		},
		{
			ID:       "scroll_direction",
			Category: command.CategoryNavigation,
			Templates: []string{
				`^scroll\s+(?P<direction>up|down)(?:\s+(?:a\s+)?(?P<amount>little|lot|bit))?$`,
			},
		},
		{
			ID:       "scroll_top",
			Category: command.CategoryNavigation,
			Templates: []string{
				`^scroll\s+to\s+(?:the\s+)?top$`,
			},
		},
		{
			ID:        "tab_number",
			Category:  command.CategoryNavigation,
			Templates: []string{`^(?:go\s+to\s+)?tab\s+(?P<number>\d+)$`},
			Slots:     map[string]command.SlotKind{"number": command.SlotNumber},
		},
		{
			ID:        "set_volume",
			Category:  command.CategorySystem,
			Templates: []string{`^volume\s+(?P<level>\w+)$`},
			Slots:     map[string]command.SlotKind{"level": command.SlotNumber},
		},
		{
			ID:        "type_text",
			Category:  command.CategoryTyping,
			Templates: []string{`^(?:type|write|enter)\s+(?P<text>.+)$`},
			Verbatim:  true,
		},
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

// ── exact ───────────────────────────────────────────────────────────────────

func TestExactMatcher(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewExact()

	got, err := m.Match(context.Background(), "open chrome", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	if got[0].IntentID != "open_chrome" || got[0].Score != 1 || got[0].Method != match.MethodExact {
		t.Errorf("candidate = %+v, want open_chrome/1.0/exact", got[0])
	}

	got, err = m.Match(context.Background(), "open chrom", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("near miss produced %d exact candidates, want 0", len(got))
	}
}

// ── grammar ─────────────────────────────────────────────────────────────────

func TestGrammarMatcher(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewGrammar()

	tests := []struct {
		name       string
		in         string
		wantIntent string
		wantSlots  map[string]string
	}{
		{"direction with amount", "scroll down a lot", "scroll_direction", map[string]string{"direction": "down", "amount": "lot"}},
		{"article already stripped", "scroll down lot", "scroll_direction", map[string]string{"direction": "down", "amount": "lot"}},
		{"optional group omitted", "scroll up", "scroll_direction", map[string]string{"direction": "up"}},
		{"no capture groups", "scroll to the top", "scroll_top", nil},
		{"number slot", "go to tab 5", "tab_number", map[string]string{"number": "5"}},
		{"short form", "tab 12", "tab_number", map[string]string{"number": "12"}},
		{"free text slot", "type hello world", "type_text", map[string]string{"text": "hello world"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := m.Match(context.Background(), tt.in, idx)
			if err != nil {
				t.Fatalf("Match(%q): %v", tt.in, err)
			}
			if len(got) != 1 {
				t.Fatalf("Match(%q) got %d candidates, want 1", tt.in, len(got))
			}
			c := got[0]
			if c.IntentID != tt.wantIntent {
				t.Errorf("IntentID = %q, want %q", c.IntentID, tt.wantIntent)
			}
			if c.Score != 0.7 {
				t.Errorf("Score = %v, want 0.7", c.Score)
			}
			if c.Method != match.MethodGrammar {
				t.Errorf("Method = %q, want grammar", c.Method)
			}
			if len(c.Slots) != len(tt.wantSlots) {
				t.Fatalf("Slots = %v, want %v", c.Slots, tt.wantSlots)
			}
			for k, want := range tt.wantSlots {
				if got := c.Slots[k]; got != want {
					t.Errorf("Slots[%q] = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestGrammarMatcher_SlotKindFailureDiscards(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewGrammar()

	// "volume loud" matches the set_volume template but "loud" cannot
	// satisfy the number kind, so the candidate is discarded.
	got, err := m.Match(context.Background(), "volume loud", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d candidates, want 0 after slot failure", len(got))
	}

	got, err = m.Match(context.Background(), "volume 11", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 1 || got[0].Slots["level"] != "11" {
		t.Errorf("got %+v, want set_volume with level=11", got)
	}
}

func TestGrammarMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewGrammar()

	got, err := m.Match(context.Background(), "open chrome", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("phrase-only utterance produced %d template candidates, want 0", len(got))
	}
}

// ── fuzzy ───────────────────────────────────────────────────────────────────

func TestFuzzyMatcher(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewFuzzy()

	got, err := m.Match(context.Background(), "open chrom", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("got 0 candidates, want at least 1")
	}
	if got[0].IntentID != "open_chrome" {
		t.Errorf("top candidate = %q, want open_chrome", got[0].IntentID)
	}
	if got[0].Score < 0.9 {
		t.Errorf("top score = %v, want >= 0.9 for a single dropped letter", got[0].Score)
	}
	if got[0].Method != match.MethodFuzzy {
		t.Errorf("Method = %q, want fuzzy", got[0].Method)
	}
}

func TestFuzzyMatcher_BelowThreshold(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewFuzzy()

	got, err := m.Match(context.Background(), "transmogrify the flux capacitor", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d candidates for unrelated text, want 0", len(got))
	}
}

func TestFuzzyMatcher_OneCandidatePerIntent(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewFuzzy()

	// "open chrome" is verbatim one phrase and close to "launch chrome";
	// both belong to open_chrome and must collapse to one candidate.
	got, err := m.Match(context.Background(), "open chrome", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	seen := 0
	for _, c := range got {
		if c.IntentID == "open_chrome" {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("open_chrome appeared %d times, want 1", seen)
	}
	if got[0].Score != 1 {
		t.Errorf("verbatim phrase score = %v, want 1", got[0].Score)
	}
}

func TestFuzzyMatcher_MatchAll(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewFuzzy()

	got := m.MatchAll("open chr", idx, 5, 0.5)
	if len(got) < 2 {
		t.Fatalf("got %d candidates, want at least 2 at relaxed threshold", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("candidates not sorted: %v after %v", got[i].Score, got[i-1].Score)
		}
	}
}

func TestAdaptiveThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want float64
	}{
		{"cat", 0.90},
		{"chrome", 0.80},
		{"open chrome!", 0.70},
		{"open chrome please", 0.65},
	}
	for _, tt := range tests {
		if got := match.AdaptiveThreshold(tt.in); got != tt.want {
			t.Errorf("AdaptiveThreshold(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()
	if got := match.Similarity("open chrome", "open chrome"); got != 1 {
		t.Errorf("identical strings = %v, want 1", got)
	}
	if got := match.Similarity("", "x"); got != 0 {
		t.Errorf("empty vs non-empty = %v, want 0", got)
	}
	got := match.Similarity("open chrom", "open chrome")
	if got <= 0.85 || got >= 1 {
		t.Errorf("one dropped letter = %v, want in (0.85, 1)", got)
	}
	if a, b := match.Similarity("abc", "abd"), match.Similarity("abd", "abc"); a != b {
		t.Errorf("similarity not symmetric: %v vs %v", a, b)
	}
}

// ── phonetic ────────────────────────────────────────────────────────────────

func TestPhoneticMatcher(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewPhonetic()

	got, err := m.Match(context.Background(), "open chrom", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("got 0 candidates, want at least 1")
	}
	if got[0].IntentID != "open_chrome" {
		t.Errorf("top candidate = %q, want open_chrome", got[0].IntentID)
	}
	if got[0].Score < 0.9 {
		t.Errorf("top score = %v, want >= 0.9 for a sound-alike", got[0].Score)
	}
}

func TestPhoneticMatcher_SingleWord(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewPhonetic()

	// "crome" sounds like "chrome"; the per-word alignment must find it
	// inside the multi-word phrase.
	got, err := m.Match(context.Background(), "crome", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) == 0 || got[0].IntentID != "open_chrome" {
		t.Fatalf("got %+v, want open_chrome first", got)
	}
}

func TestPhoneticMatcher_Discriminates(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewPhonetic()

	got, err := m.Match(context.Background(), "open chrom", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for _, c := range got {
		if c.IntentID == "open_firefox" {
			t.Errorf("open_firefox scored %v; sharing only the verb must stay below threshold", c.Score)
		}
	}
}

func TestPhoneticMatcher_NoMatch(t *testing.T) {
	t.Parallel()
	idx := testIndex(t)
	m := match.NewPhonetic()

	got, err := m.Match(context.Background(), "zzzqqq xxyyzz", idx)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d candidates for noise, want 0", len(got))
	}
}
