package policy_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/policy"
	"github.com/MrWong99/earshot/internal/score"
	"github.com/MrWong99/earshot/pkg/types"
)

func best(intent, phrase string, confidence float64) score.CompositeScore {
	return score.CompositeScore{IntentID: intent, Phrase: phrase, Confidence: confidence}
}

// ── tier mapping ────────────────────────────────────────────────────────────

func TestDecide_Tiers(t *testing.T) {
	t.Parallel()
	p := policy.New()

	tests := []struct {
		name       string
		confidence float64
		want       types.Tier
	}{
		{name: "certainty executes silently", confidence: 1.0, want: types.TierExecute},
		{name: "execute boundary inclusive", confidence: 0.90, want: types.TierExecute},
		{name: "acknowledge band", confidence: 0.85, want: types.TierAcknowledge},
		{name: "acknowledge boundary inclusive", confidence: 0.70, want: types.TierAcknowledge},
		{name: "confirm band", confidence: 0.60, want: types.TierConfirm},
		{name: "confirm boundary inclusive", confidence: 0.50, want: types.TierConfirm},
		{name: "below confirm suggests", confidence: 0.49, want: types.TierSuggest},
		{name: "zero suggests", confidence: 0, want: types.TierSuggest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(best("open_chrome", "open chrome", tt.confidence), false, false)
			if d.Tier != tt.want {
				t.Errorf("Decide(%v).Tier = %v, want %v", tt.confidence, d.Tier, tt.want)
			}
		})
	}
}

func TestDecide_DangerForcesConfirm(t *testing.T) {
	t.Parallel()
	p := policy.New()

	tests := []struct {
		name       string
		confidence float64
		want       types.Tier
	}{
		{name: "execute raised to confirm", confidence: 0.97, want: types.TierConfirm},
		{name: "acknowledge raised to confirm", confidence: 0.80, want: types.TierConfirm},
		{name: "confirm stays confirm", confidence: 0.60, want: types.TierConfirm},
		{name: "suggest stays suggest", confidence: 0.30, want: types.TierSuggest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := p.Decide(best("shutdown", "shutdown", tt.confidence), false, true)
			if d.Tier != tt.want {
				t.Errorf("Decide(%v, danger).Tier = %v, want %v", tt.confidence, d.Tier, tt.want)
			}
		})
	}
}

func TestDecide_DangerAsksForPermission(t *testing.T) {
	t.Parallel()
	p := policy.New()

	// A confident but dangerous intent asks for permission; a shaky one
	// still asks about recognition first.
	if d := p.Decide(best("close_all", "close all windows", 0.97), false, true); d.Ack != "Should I close all windows?" {
		t.Errorf("Ack = %q, want the permission question", d.Ack)
	}
	if d := p.Decide(best("close_all", "close all windows", 0.60), false, true); d.Ack != "Did you mean 'close all windows'?" {
		t.Errorf("Ack = %q, want the recognition question", d.Ack)
	}
}

func TestDecide_AmbiguousForcesConfirm(t *testing.T) {
	t.Parallel()
	p := policy.New()

	for _, confidence := range []float64{0.95, 0.75, 0.60, 0.46} {
		d := p.Decide(best("new_tab", "new tab", confidence), true, false)
		if d.Tier != types.TierConfirm {
			t.Errorf("Decide(%v, ambiguous).Tier = %v, want TierConfirm", confidence, d.Tier)
		}
		if d.Ack != "Did you mean 'new tab'?" {
			t.Errorf("Ack = %q, want the confirm question", d.Ack)
		}
	}
}

func TestDecide_CustomThresholds(t *testing.T) {
	t.Parallel()
	p := policy.New(policy.WithThresholds(0.95, 0.80, 0.60))

	if d := p.Decide(best("x", "x", 0.92), false, false); d.Tier != types.TierAcknowledge {
		t.Errorf("Tier = %v, want TierAcknowledge under a raised execute threshold", d.Tier)
	}
	if d := p.Decide(best("x", "x", 0.55), false, false); d.Tier != types.TierSuggest {
		t.Errorf("Tier = %v, want TierSuggest under a raised confirm threshold", d.Tier)
	}
}

// ── phrasing ────────────────────────────────────────────────────────────────

func TestDecide_Phrasing(t *testing.T) {
	t.Parallel()
	p := policy.New()

	tests := []struct {
		name       string
		best       score.CompositeScore
		confidence float64
		want       string
	}{
		{name: "execute is silent", best: best("open_chrome", "open chrome", 0.95), want: ""},
		{name: "acknowledge speaks", best: best("open_chrome", "open chrome", 0.80), want: "Opening chrome."},
		{name: "confirm asks", best: best("open_chrome", "open chrome", 0.60), want: "Did you mean 'open chrome'?"},
		{
			name: "suggest hedges",
			best: best("open_chrome", "open chrome", 0.40),
			want: "I'm not sure what you meant. Did you say 'open chrome'?",
		},
		{
			name: "intent id fallback when no phrase",
			best: best("open_chrome", "", 0.60),
			want: "Did you mean 'open chrome'?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if d := p.Decide(tt.best, false, false); d.Ack != tt.want {
				t.Errorf("Ack = %q, want %q", d.Ack, tt.want)
			}
		})
	}
}

func TestAcknowledgment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		command string
		want    string
	}{
		{command: "open chrome", want: "Opening chrome."},
		{command: "launch visual studio code", want: "Opening visual studio code."},
		{command: "start spotify", want: "Opening spotify."},
		{command: "close window", want: "Closing window."},
		{command: "quit slack", want: "Closing slack."},
		{command: "search for cat videos", want: "Searching for cat videos."},
		{command: "search weather", want: "Searching for weather."},
		{command: "type hello there", want: "Typing."},
		{command: "switch window", want: "Switching."},
		{command: "go back", want: "Switching."},
		{command: "minimize window", want: "Minimizing."},
		{command: "maximize window", want: "Maximizing."},
		{command: "restore window", want: "Restoring."},
		{command: "save", want: "Executing save."},
		{command: "open", want: "Executing open."},
		{command: "", want: "Executing."},
	}
	for _, tt := range tests {
		if got := policy.Acknowledgment(tt.command); got != tt.want {
			t.Errorf("Acknowledgment(%q) = %q, want %q", tt.command, got, tt.want)
		}
	}
}

func TestSuggestPrompt(t *testing.T) {
	t.Parallel()

	suggestions := []types.Suggestion{
		{IntentID: "open_chrome", Phrase: "open chrome", Score: 0.6},
		{IntentID: "open_firefox", Phrase: "open firefox", Score: 0.55},
		{IntentID: "close_window", Phrase: "close window", Score: 0.5},
		{IntentID: "new_tab", Phrase: "new tab", Score: 0.45},
	}

	got := policy.SuggestPrompt(suggestions)
	want := "I couldn't understand. Did you mean: open chrome, open firefox, close window?"
	if got != want {
		t.Errorf("SuggestPrompt() = %q, want %q", got, want)
	}

	if got := policy.SuggestPrompt(nil); got != "I couldn't understand that." {
		t.Errorf("SuggestPrompt(nil) = %q", got)
	}

	bare := []types.Suggestion{{IntentID: "volume_up"}}
	if got := policy.SuggestPrompt(bare); got != "I couldn't understand. Did you mean: volume up?" {
		t.Errorf("SuggestPrompt(bare) = %q", got)
	}
}
