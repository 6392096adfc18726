// Package recovery builds near-miss suggestions when resolution comes up
// empty. After a below-floor or no-candidate outcome the resolver reruns
// fuzzy matching here with a relaxed threshold, optionally blended with a
// relaxed semantic pass, and hands the top-ranked intents back to the user
// as "did you mean" choices instead of failing silently.
//
// Suggestions are best effort: a failing semantic pass degrades to
// fuzzy-only, and an empty result is a valid answer.
package recovery

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/MrWong99/earshot/internal/analytics"
	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	// DefaultRelax is subtracted from the base fuzzy threshold for the
	// suggestion pass.
	DefaultRelax = 0.15

	// minThreshold bounds how far relaxation can go; below this the
	// matches are noise.
	minThreshold = 0.30

	// DefaultLimit is the number of suggestions returned.
	DefaultLimit = 3
)

// Suggester reruns matching with relaxed thresholds to produce ranked
// near-miss suggestions.
type Suggester struct {
	fuzzy    *match.FuzzyMatcher
	semantic *match.SemanticMatcher
	usage    *analytics.Tracker
	base     float64
	relax    float64
	limit    int
	logger   *slog.Logger
}

// Option configures a [Suggester].
type Option func(*Suggester)

// WithSemantic adds a relaxed semantic pass alongside the fuzzy one.
func WithSemantic(m *match.SemanticMatcher) Option {
	return func(s *Suggester) { s.semantic = m }
}

// WithUsage lets hour-of-day usage affinity order suggestions with equal
// scores.
func WithUsage(t *analytics.Tracker) Option {
	return func(s *Suggester) { s.usage = t }
}

// WithBaseThreshold sets the fuzzy threshold the relaxation starts from,
// normally the configured matching threshold.
func WithBaseThreshold(t float64) Option {
	return func(s *Suggester) {
		if t > 0 {
			s.base = t
		}
	}
}

// WithRelax sets how much the base threshold is lowered (default
// [DefaultRelax]).
func WithRelax(d float64) Option {
	return func(s *Suggester) {
		if d >= 0 {
			s.relax = d
		}
	}
}

// WithLimit caps the number of suggestions (default [DefaultLimit]).
func WithLimit(n int) Option {
	return func(s *Suggester) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Suggester) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New returns a Suggester over the given fuzzy matcher.
func New(fuzzy *match.FuzzyMatcher, opts ...Option) *Suggester {
	s := &Suggester{
		fuzzy:  fuzzy,
		base:   0.70,
		relax:  DefaultRelax,
		limit:  DefaultLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Threshold returns the relaxed threshold the suggestion pass uses.
func (s *Suggester) Threshold() float64 {
	t := s.base - s.relax
	if t < minThreshold {
		t = minThreshold
	}
	return t
}

// Suggest returns up to the configured number of near-miss intents for
// text, best first. at is the resolution time, used only for usage-affinity
// ordering of equal scores.
func (s *Suggester) Suggest(ctx context.Context, text string, idx *command.Index, at time.Time) []types.Suggestion {
	if text == "" || idx == nil {
		return nil
	}

	best := make(map[string]match.Candidate)
	for _, c := range s.fuzzy.MatchAll(text, idx, s.limit, s.Threshold()) {
		best[c.IntentID] = c
	}

	if s.semantic != nil {
		semCands, err := s.semantic.MatchAll(ctx, text, s.limit)
		if err != nil {
			s.logger.Debug("semantic suggestion pass failed", "error", err)
		}
		for _, c := range semCands {
			if prev, ok := best[c.IntentID]; !ok || c.Score > prev.Score {
				best[c.IntentID] = c
			}
		}
	}

	if len(best) == 0 {
		return nil
	}

	out := make([]types.Suggestion, 0, len(best))
	for _, c := range best {
		out = append(out, types.Suggestion{
			IntentID: c.IntentID,
			Phrase:   c.Phrase,
			Score:    c.Score,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if s.usage != nil {
			ai := s.usage.HourAffinity(out[i].IntentID, at.Hour())
			aj := s.usage.HourAffinity(out[j].IntentID, at.Hour())
			if ai != aj {
				return ai > aj
			}
		}
		return out[i].IntentID < out[j].IntentID
	})
	if len(out) > s.limit {
		out = out[:s.limit]
	}

	s.logger.Debug("built suggestions",
		"input", text,
		"count", len(out),
		"threshold", s.Threshold())
	return out
}
