package score_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/internal/score"
	"github.com/MrWong99/earshot/pkg/types"
)

func cand(intent string, m match.Method, s float64) match.Candidate {
	return match.Candidate{IntentID: intent, Phrase: intent, Method: m, Score: s}
}

func rank(t *testing.T, e *score.Engine, cands []match.Candidate) (score.Result, error) {
	t.Helper()
	return e.Rank(cands, score.ContextState{}, score.AdaptState{}, 2, 0)
}

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

// ── composite blend ─────────────────────────────────────────────────────────

func TestRank_ExactMatch(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := rank(t, e, []match.Candidate{cand("open_chrome", match.MethodExact, 1.0)})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	approx(t, res.Best.Confidence, 1.0)
	if res.Best.PrimaryMethod != match.MethodExact {
		t.Errorf("PrimaryMethod = %q, want exact", res.Best.PrimaryMethod)
	}
}

func TestRank_ExactShortCircuit(t *testing.T) {
	t.Parallel()
	e := score.New()

	// Other methods and the context bonus must not dilute or inflate an
	// exact hit.
	res, err := e.Rank(
		[]match.Candidate{
			cand("open_chrome", match.MethodExact, 1.0),
			cand("open_chrome", match.MethodFuzzy, 0.7),
			cand("open_chrome", match.MethodPhonetic, 0.9),
		},
		score.ContextState{Bonus: map[string]float64{"open_chrome": 0.45}},
		score.AdaptState{},
		2, 0,
	)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	approx(t, res.Best.Confidence, 1.0)
	if len(res.Best.Breakdown) != 1 {
		t.Errorf("Breakdown has %d entries, want only exact: %v", len(res.Best.Breakdown), res.Best.Breakdown)
	}
	if _, ok := res.Best.Breakdown[match.MethodExact]; !ok {
		t.Error("Breakdown missing exact share")
	}
}

func TestRank_SingleMethodNormalizesToItself(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := rank(t, e, []match.Candidate{cand("open_chrome", match.MethodFuzzy, 0.82)})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	approx(t, res.Best.Confidence, 0.82)
	approx(t, res.Best.Breakdown[match.MethodFuzzy], 0.82)
}

func TestRank_BlendAcrossMethods(t *testing.T) {
	t.Parallel()
	e := score.New()

	// A strong fuzzy ratio plus a phonetic near-code on a misrecognized
	// word: blended against the max attainable for those two methods alone.
	res, err := rank(t, e, []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.85),
		cand("open_chrome", match.MethodPhonetic, 0.9),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	want := (0.85*0.6 + 0.9*0.5) / (0.6 + 0.5)
	approx(t, res.Best.Confidence, want)
	if res.Best.Confidence < 0.70 || res.Best.Confidence >= 0.90 {
		t.Errorf("confidence = %v, want within the acknowledge band [0.70, 0.90)", res.Best.Confidence)
	}
	if res.Best.PrimaryMethod != match.MethodFuzzy {
		t.Errorf("PrimaryMethod = %q, want fuzzy (largest share)", res.Best.PrimaryMethod)
	}

	var sum float64
	for _, share := range res.Best.Breakdown {
		sum += share
	}
	approx(t, sum, res.Best.Confidence)
}

func TestRank_MergesCandidatesByIntent(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := rank(t, e, []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.8),
		cand("open_chrome", match.MethodSemantic, 0.75),
		cand("close_window", match.MethodFuzzy, 0.7),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if len(res.Scores) != 2 {
		t.Fatalf("len(Scores) = %d, want 2 distinct intents", len(res.Scores))
	}
	if res.Best.IntentID != "open_chrome" {
		t.Errorf("Best = %q, want open_chrome", res.Best.IntentID)
	}
	want := (0.8*0.6 + 0.75*0.8) / (0.6 + 0.8)
	approx(t, res.Best.Confidence, want)
}

func TestRank_GrammarSlotsSurvive(t *testing.T) {
	t.Parallel()
	e := score.New()

	g := cand("scroll_direction", match.MethodGrammar, 0.7)
	g.Slots = types.Slots{"direction": "down"}
	res, err := rank(t, e, []match.Candidate{
		g,
		cand("scroll_direction", match.MethodFuzzy, 0.9),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if got := res.Best.Slots["direction"]; got != "down" {
		t.Errorf("Slots[direction] = %q, want %q", got, "down")
	}
	// Fuzzy contributes 0.54 against grammar's 0.49; it is primary, but the
	// extracted slots stay with the merged intent.
	if res.Best.PrimaryMethod != match.MethodFuzzy {
		t.Errorf("PrimaryMethod = %q, want fuzzy", res.Best.PrimaryMethod)
	}
}

// ── context bonus ───────────────────────────────────────────────────────────

func TestRank_ContextBonus(t *testing.T) {
	t.Parallel()
	e := score.New()
	cands := []match.Candidate{cand("new_tab", match.MethodFuzzy, 0.7)}

	plain, err := rank(t, e, cands)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	boosted, err := e.Rank(cands,
		score.ContextState{Bonus: map[string]float64{"new_tab": 0.45}},
		score.AdaptState{}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() with bonus error = %v", err)
	}

	approx(t, plain.Best.Confidence, 0.7)
	approx(t, boosted.Best.Confidence, 0.7+0.45*0.3)
	if boosted.Best.Confidence <= plain.Best.Confidence {
		t.Error("context bonus did not raise the composite")
	}
	approx(t, boosted.Best.Breakdown[match.MethodContext], 0.45*0.3)
}

func TestRank_ContextBonusClamped(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(
		[]match.Candidate{cand("new_tab", match.MethodFuzzy, 0.9)},
		score.ContextState{Bonus: map[string]float64{"new_tab": 3.0}},
		score.AdaptState{}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	// The raw bonus clamps to 1 before weighting, and the composite to 1.
	approx(t, res.Best.Confidence, 1.0)
	approx(t, res.Best.Breakdown[match.MethodContext], 0.3)
}

func TestRank_BonusAloneStaysBelowAcknowledge(t *testing.T) {
	t.Parallel()
	e := score.New()

	// With zero base evidence, the context bonus and pronunciation boosts
	// must not reach the acknowledge boundary, and the floor still rejects
	// the candidate.
	res, err := e.Rank(
		[]match.Candidate{cand("shutdown", match.MethodFuzzy, 0)},
		score.ContextState{Bonus: map[string]float64{"shutdown": 1.0}},
		score.AdaptState{Boost: map[string]float64{"shutdown": 0.25}},
		2, 0)
	if !errors.Is(err, score.ErrBelowFloor) {
		t.Fatalf("Rank() error = %v, want ErrBelowFloor", err)
	}
	if res.Best.Confidence >= 0.70 {
		t.Errorf("bonus-only confidence = %v, want < 0.70", res.Best.Confidence)
	}
	approx(t, res.Best.Confidence, 0.3)
}

// ── adaptation ──────────────────────────────────────────────────────────────

func TestRank_PronunciationBoost(t *testing.T) {
	t.Parallel()
	e := score.New()
	cands := []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.7),
		cand("open_chrome", match.MethodPhonetic, 0.8),
	}

	boosted, err := e.Rank(cands, score.ContextState{},
		score.AdaptState{Boost: map[string]float64{"open_chrome": 0.1}}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	want := (0.8*0.6 + 0.9*0.5) / (0.6 + 0.5)
	approx(t, boosted.Best.Confidence, want)
}

func TestRank_PronunciationBoostCapped(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(
		[]match.Candidate{
			cand("open_chrome", match.MethodFuzzy, 0.7),
			cand("open_chrome", match.MethodPhonetic, 0.8),
		},
		score.ContextState{},
		score.AdaptState{Boost: map[string]float64{"open_chrome": 0.9}}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	// The lift caps at 0.25 per method and each score clamps to 1.
	want := (0.95*0.6 + 1.0*0.5) / (0.6 + 0.5)
	approx(t, res.Best.Confidence, want)
}

func TestRank_BoostNeedsEvidence(t *testing.T) {
	t.Parallel()
	e := score.New()

	// A boost for an intent with only semantic evidence changes nothing:
	// corrections amplify fuzzy and phonetic signals, they never invent
	// them.
	res, err := e.Rank(
		[]match.Candidate{cand("open_chrome", match.MethodSemantic, 0.7)},
		score.ContextState{},
		score.AdaptState{Boost: map[string]float64{"open_chrome": 0.25}}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	approx(t, res.Best.Confidence, 0.7)
}

func TestRank_ShortcutScoresAsExact(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(nil, score.ContextState{},
		score.AdaptState{ShortcutIntent: "open_chrome"}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	approx(t, res.Best.Confidence, 1.0)
	if res.Best.IntentID != "open_chrome" {
		t.Errorf("Best = %q, want open_chrome", res.Best.IntentID)
	}
	if res.Best.PrimaryMethod != match.MethodExact {
		t.Errorf("PrimaryMethod = %q, want exact", res.Best.PrimaryMethod)
	}
}

func TestRank_ShortcutOutranksFuzzy(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(
		[]match.Candidate{cand("open_firefox", match.MethodFuzzy, 0.9)},
		score.ContextState{},
		score.AdaptState{ShortcutIntent: "open_chrome"}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Best.IntentID != "open_chrome" {
		t.Errorf("Best = %q, want the shortcut intent", res.Best.IntentID)
	}
	if len(res.Scores) != 2 {
		t.Errorf("len(Scores) = %d, want 2", len(res.Scores))
	}
}

// ── floor ───────────────────────────────────────────────────────────────────

func TestRank_FloorScaling(t *testing.T) {
	t.Parallel()
	e := score.New()
	cands := []match.Candidate{cand("open_chrome", match.MethodFuzzy, 0.66)}

	tests := []struct {
		name      string
		tokens    int
		sttConf   float64
		wantFloor float64
		wantErr   error
	}{
		{name: "short utterance", tokens: 3, wantFloor: 0.45},
		{name: "six tokens", tokens: 6, wantFloor: 0.45 * 1.15},
		{name: "length scale capped", tokens: 12, wantFloor: 0.45 * 1.4},
		{name: "low stt raises floor", tokens: 6, sttConf: 0.5, wantFloor: 0.45 * 1.15 * 1.1},
		{name: "floor never exceeds max", tokens: 12, sttConf: 0.2, wantFloor: 0.70, wantErr: score.ErrBelowFloor},
		{name: "confident stt leaves floor", tokens: 3, sttConf: 1.0, wantFloor: 0.45},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := e.Rank(cands, score.ContextState{}, score.AdaptState{}, tt.tokens, tt.sttConf)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Rank() error = %v, want %v", err, tt.wantErr)
			}
			if math.Abs(res.Floor-tt.wantFloor) > 1e-9 {
				t.Errorf("Floor = %v, want %v", res.Floor, tt.wantFloor)
			}
		})
	}
}

func TestRank_BelowFloorKeepsRanking(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(
		[]match.Candidate{
			cand("open_chrome", match.MethodFuzzy, 0.66),
			cand("open_firefox", match.MethodFuzzy, 0.65),
		},
		score.ContextState{}, score.AdaptState{}, 12, 0.2)
	if !errors.Is(err, score.ErrBelowFloor) {
		t.Fatalf("Rank() error = %v, want ErrBelowFloor", err)
	}
	if len(res.Scores) != 2 {
		t.Fatalf("len(Scores) = %d, want the full ranking for suggestions", len(res.Scores))
	}
	if res.Best.IntentID != "open_chrome" {
		t.Errorf("Best = %q, want open_chrome", res.Best.IntentID)
	}
}

func TestRank_NoCandidate(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := rank(t, e, nil)
	if !errors.Is(err, score.ErrNoCandidate) {
		t.Fatalf("Rank() error = %v, want ErrNoCandidate", err)
	}
	if len(res.Scores) != 0 {
		t.Errorf("len(Scores) = %d, want 0", len(res.Scores))
	}
}

// ── ordering and ties ───────────────────────────────────────────────────────

func TestRank_TieBreakMethodPrecedence(t *testing.T) {
	t.Parallel()
	// Unit weights make equal stage scores produce bit-identical composites,
	// so only the tie-break chain separates the intents.
	e := score.New(score.WithWeights(score.Weights{
		Exact: 1, Grammar: 1, Fuzzy: 1, Phonetic: 1, Semantic: 1, Context: 0.3,
	}))

	res, err := rank(t, e, []match.Candidate{
		cand("zoom_in", match.MethodFuzzy, 0.8),
		cand("scroll_down", match.MethodGrammar, 0.8),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Best.IntentID != "scroll_down" {
		t.Errorf("Best = %q, want the grammar-backed intent", res.Best.IntentID)
	}
	if res.Ambiguous {
		t.Error("Ambiguous = true, want method precedence to separate the tie")
	}
}

func TestRank_TieBreakMostRecentlyUsed(t *testing.T) {
	t.Parallel()
	e := score.New()

	now := time.Now()
	res, err := e.Rank(
		[]match.Candidate{
			cand("new_tab", match.MethodFuzzy, 0.8),
			cand("close_tab", match.MethodFuzzy, 0.8),
		},
		score.ContextState{LastUsed: map[string]time.Time{
			"close_tab": now,
			"new_tab":   now.Add(-time.Minute),
		}},
		score.AdaptState{}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if res.Best.IntentID != "close_tab" {
		t.Errorf("Best = %q, want the most recently used intent", res.Best.IntentID)
	}
}

func TestRank_AmbiguousTie(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := rank(t, e, []match.Candidate{
		cand("new_tab", match.MethodFuzzy, 0.8),
		cand("new_tap", match.MethodFuzzy, 0.8),
	})
	if !errors.Is(err, score.ErrAmbiguousTie) {
		t.Fatalf("Rank() error = %v, want ErrAmbiguousTie", err)
	}
	if !res.Ambiguous {
		t.Error("Ambiguous = false, want true")
	}
	// The Result still carries a deterministic best for confirm handling.
	if res.Best.IntentID != "new_tab" {
		t.Errorf("Best = %q, want new_tab", res.Best.IntentID)
	}
}

func TestRank_AmbiguityEpsilon(t *testing.T) {
	t.Parallel()
	e := score.New()

	tests := []struct {
		name      string
		second    float64
		ambiguous bool
	}{
		{name: "inside epsilon", second: 0.76, ambiguous: true},
		{name: "outside epsilon", second: 0.74, ambiguous: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := rank(t, e, []match.Candidate{
				cand("new_tab", match.MethodFuzzy, 0.8),
				cand("new_tap", match.MethodFuzzy, tt.second),
			})
			if res.Ambiguous != tt.ambiguous {
				t.Errorf("Ambiguous = %v, want %v", res.Ambiguous, tt.ambiguous)
			}
			wantErr := tt.ambiguous
			if gotErr := errors.Is(err, score.ErrAmbiguousTie); gotErr != wantErr {
				t.Errorf("ErrAmbiguousTie = %v, want %v", gotErr, wantErr)
			}
		})
	}
}

func TestRank_RecencySeparatesNearTie(t *testing.T) {
	t.Parallel()
	e := score.New()

	res, err := e.Rank(
		[]match.Candidate{
			cand("new_tab", match.MethodFuzzy, 0.8),
			cand("new_tap", match.MethodFuzzy, 0.8),
		},
		score.ContextState{LastUsed: map[string]time.Time{"new_tap": time.Now()}},
		score.AdaptState{}, 2, 0)
	if err != nil {
		t.Fatalf("Rank() error = %v, want recency to resolve the tie", err)
	}
	if res.Best.IntentID != "new_tap" {
		t.Errorf("Best = %q, want new_tap", res.Best.IntentID)
	}
}

// ── properties ──────────────────────────────────────────────────────────────

func TestRank_MonotonicInMethodScore(t *testing.T) {
	t.Parallel()
	e := score.New()

	lower, err := rank(t, e, []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.7),
		cand("open_chrome", match.MethodPhonetic, 0.8),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	higher, err := rank(t, e, []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.75),
		cand("open_chrome", match.MethodPhonetic, 0.8),
	})
	if err != nil {
		t.Fatalf("Rank() error = %v", err)
	}
	if higher.Best.Confidence <= lower.Best.Confidence {
		t.Errorf("raising fuzzy 0.7→0.75 moved confidence %v → %v, want an increase",
			lower.Best.Confidence, higher.Best.Confidence)
	}
}

func TestRank_Deterministic(t *testing.T) {
	t.Parallel()
	e := score.New()

	cands := []match.Candidate{
		cand("open_chrome", match.MethodFuzzy, 0.8),
		cand("open_chrome", match.MethodSemantic, 0.7),
		cand("open_firefox", match.MethodFuzzy, 0.78),
		cand("close_window", match.MethodPhonetic, 0.81),
	}
	state := score.ContextState{Bonus: map[string]float64{"open_firefox": 0.2}}

	first, err1 := e.Rank(cands, state, score.AdaptState{}, 4, 0.9)
	second, err2 := e.Rank(cands, state, score.AdaptState{}, 4, 0.9)
	if !errors.Is(err1, err2) && !errors.Is(err2, err1) {
		t.Fatalf("errors differ: %v vs %v", err1, err2)
	}
	if len(first.Scores) != len(second.Scores) {
		t.Fatalf("rankings differ in length: %d vs %d", len(first.Scores), len(second.Scores))
	}
	for i := range first.Scores {
		a, b := first.Scores[i], second.Scores[i]
		if a.IntentID != b.IntentID || a.Confidence != b.Confidence {
			t.Errorf("Scores[%d] differs: %s %v vs %s %v", i, a.IntentID, a.Confidence, b.IntentID, b.Confidence)
		}
	}
}

// ── options ─────────────────────────────────────────────────────────────────

func TestEngine_Options(t *testing.T) {
	t.Parallel()

	t.Run("zero weight removes method", func(t *testing.T) {
		t.Parallel()
		e := score.New(score.WithWeights(score.Weights{Exact: 1}))
		res, err := rank(t, e, []match.Candidate{cand("open_chrome", match.MethodFuzzy, 0.9)})
		if !errors.Is(err, score.ErrBelowFloor) {
			t.Fatalf("Rank() error = %v, want ErrBelowFloor", err)
		}
		approx(t, res.Best.Confidence, 0)
	})

	t.Run("custom floor", func(t *testing.T) {
		t.Parallel()
		e := score.New(score.WithFloor(0.2))
		res, err := rank(t, e, []match.Candidate{cand("open_chrome", match.MethodFuzzy, 0.3)})
		if err != nil {
			t.Fatalf("Rank() error = %v", err)
		}
		approx(t, res.Floor, 0.2)
	})

	t.Run("custom epsilon", func(t *testing.T) {
		t.Parallel()
		e := score.New(score.WithEpsilon(0.2))
		_, err := rank(t, e, []match.Candidate{
			cand("new_tab", match.MethodFuzzy, 0.8),
			cand("new_tap", match.MethodFuzzy, 0.66),
		})
		if !errors.Is(err, score.ErrAmbiguousTie) {
			t.Fatalf("Rank() error = %v, want ErrAmbiguousTie at widened epsilon", err)
		}
	})
}
