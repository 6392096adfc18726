package match

import (
	"context"
	"sort"

	"github.com/MrWong99/earshot/internal/command"
)

const (
	// defaultFuzzyThreshold is the minimum similarity for a fuzzy candidate.
	defaultFuzzyThreshold = 0.70

	// defaultFuzzyLimit caps how many fuzzy candidates a single match
	// proposes to the scoring engine.
	defaultFuzzyLimit = 3
)

// FuzzyMatcher ranks canonical phrases by Levenshtein similarity against the
// utterance. With the adaptive option the threshold tightens for short
// inputs, where a single transposed letter is a much larger fraction of the
// text.
type FuzzyMatcher struct {
	threshold float64
	adaptive  bool
	limit     int
}

var _ Matcher = (*FuzzyMatcher)(nil)

// FuzzyOption configures a [FuzzyMatcher].
type FuzzyOption func(*FuzzyMatcher)

// WithFuzzyThreshold sets the base similarity threshold. Default: 0.70.
func WithFuzzyThreshold(threshold float64) FuzzyOption {
	return func(m *FuzzyMatcher) { m.threshold = threshold }
}

// WithAdaptiveThreshold switches the matcher to a length-dependent
// threshold: 0.90 up to 3 characters, 0.80 up to 6, 0.70 up to 12, 0.65
// beyond.
func WithAdaptiveThreshold() FuzzyOption {
	return func(m *FuzzyMatcher) { m.adaptive = true }
}

// WithFuzzyLimit caps the number of candidates per match. Default: 3.
func WithFuzzyLimit(n int) FuzzyOption {
	return func(m *FuzzyMatcher) { m.limit = n }
}

// NewFuzzy returns a fuzzy matcher.
func NewFuzzy(opts ...FuzzyOption) *FuzzyMatcher {
	m := &FuzzyMatcher{
		threshold: defaultFuzzyThreshold,
		limit:     defaultFuzzyLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Method implements [Matcher].
func (m *FuzzyMatcher) Method() Method { return MethodFuzzy }

// Match implements [Matcher]. At most one candidate per intent is proposed;
// an intent with several phrases contributes its best-scoring one.
func (m *FuzzyMatcher) Match(_ context.Context, text string, idx *command.Index) ([]Candidate, error) {
	if text == "" {
		return nil, nil
	}
	threshold := m.threshold
	if m.adaptive {
		threshold = AdaptiveThreshold(text)
	}
	return m.rank(text, idx, m.limit, threshold), nil
}

// MatchAll returns up to n candidates above threshold, best first. The
// suggestion builder and recovery path call it with relaxed thresholds.
func (m *FuzzyMatcher) MatchAll(text string, idx *command.Index, n int, threshold float64) []Candidate {
	if text == "" {
		return nil
	}
	return m.rank(text, idx, n, threshold)
}

func (m *FuzzyMatcher) rank(text string, idx *command.Index, limit int, threshold float64) []Candidate {
	best := make(map[string]Candidate)
	for _, p := range idx.Phrases() {
		score := Similarity(text, p.Text)
		if score < threshold {
			continue
		}
		if prev, ok := best[p.IntentID]; ok && prev.Score >= score {
			continue
		}
		best[p.IntentID] = Candidate{
			IntentID: p.IntentID,
			Phrase:   p.Text,
			Method:   MethodFuzzy,
			Score:    score,
		}
	}
	if len(best) == 0 {
		return nil
	}
	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].IntentID < out[j].IntentID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AdaptiveThreshold returns the length-dependent similarity threshold for
// text. Shorter inputs leave less room for error.
func AdaptiveThreshold(text string) float64 {
	switch l := len(text); {
	case l <= 3:
		return 0.90
	case l <= 6:
		return 0.80
	case l <= 12:
		return 0.70
	default:
		return 0.65
	}
}
