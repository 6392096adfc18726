package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/semindex"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

const (
	// defaultSemanticThreshold is the minimum cosine similarity for a
	// semantic candidate.
	defaultSemanticThreshold = 0.65

	// defaultSemanticLimit caps the vector-index search and the candidates
	// proposed per match.
	defaultSemanticLimit = 5

	// suggestionThresholdScale relaxes the threshold for MatchAll, which
	// feeds "did you mean" suggestions rather than resolutions.
	suggestionThresholdScale = 0.7
)

// SemanticMatcher proposes intents whose embedded phrases or descriptions
// are close to the utterance in vector space. This is the only stage that
// catches paraphrases ("launch the web browser" for "open chrome") and the
// only one that performs I/O, so the resolver skips it whenever the router
// and a high-scoring literal stage already agree.
type SemanticMatcher struct {
	provider  embeddings.Provider
	index     semindex.Index
	threshold float64
	limit     int
}

var _ Matcher = (*SemanticMatcher)(nil)

// SemanticOption configures a [SemanticMatcher].
type SemanticOption func(*SemanticMatcher)

// WithSemanticThreshold sets the minimum cosine similarity. Default: 0.65.
func WithSemanticThreshold(threshold float64) SemanticOption {
	return func(m *SemanticMatcher) { m.threshold = threshold }
}

// WithSemanticLimit caps candidates per match. Default: 5.
func WithSemanticLimit(n int) SemanticOption {
	return func(m *SemanticMatcher) { m.limit = n }
}

// NewSemantic returns a semantic matcher searching index with embeddings
// from provider. The index must have been built with the same provider.
func NewSemantic(provider embeddings.Provider, index semindex.Index, opts ...SemanticOption) *SemanticMatcher {
	m := &SemanticMatcher{
		provider:  provider,
		index:     index,
		threshold: defaultSemanticThreshold,
		limit:     defaultSemanticLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Method implements [Matcher].
func (m *SemanticMatcher) Method() Method { return MethodSemantic }

// Match implements [Matcher]. The index snapshot is unused: the vector
// index is rebuilt on snapshot swaps instead. An embedding or search
// failure is returned to the caller, which degrades the resolution to the
// literal stages.
func (m *SemanticMatcher) Match(ctx context.Context, text string, _ *command.Index) ([]Candidate, error) {
	return m.match(ctx, text, m.limit, m.threshold)
}

// MatchAll returns up to n candidates above the relaxed suggestion
// threshold, best first.
func (m *SemanticMatcher) MatchAll(ctx context.Context, text string, n int) ([]Candidate, error) {
	return m.match(ctx, text, n, m.threshold*suggestionThresholdScale)
}

func (m *SemanticMatcher) match(ctx context.Context, text string, limit int, threshold float64) ([]Candidate, error) {
	if text == "" {
		return nil, nil
	}
	vec, err := m.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("match: embed utterance: %w", err)
	}
	// Search wider than the candidate cap: several entries can belong to
	// the same intent and collapse below.
	hits, err := m.index.Search(ctx, vec, limit*3)
	if err != nil {
		return nil, fmt.Errorf("match: semantic search: %w", err)
	}

	best := make(map[string]Candidate)
	for _, h := range hits {
		score := clamp01(h.Score)
		if score < threshold {
			continue
		}
		if prev, ok := best[h.Entry.IntentID]; ok && prev.Score >= score {
			continue
		}
		best[h.Entry.IntentID] = Candidate{
			IntentID: h.Entry.IntentID,
			Phrase:   h.Entry.Text,
			Method:   MethodSemantic,
			Score:    score,
		}
	}
	if len(best) == 0 {
		return nil, nil
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
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
