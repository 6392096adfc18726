package match

import (
	"context"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/earshot/internal/command"
)

const (
	// defaultPhoneticThreshold is the minimum phonetic score for a
	// candidate. Sound-alike evidence is weaker than string similarity, so
	// the bar sits higher than the fuzzy default.
	defaultPhoneticThreshold = 0.80

	// soundexExactScore is awarded when two words share a Soundex code
	// outright; near codes earn a scaled similarity instead.
	soundexExactScore = 0.9

	defaultPhoneticLimit = 3
)

// PhoneticMatcher proposes intents whose canonical phrases sound like the
// utterance. Each word pair is scored on Double Metaphone code similarity
// (1.0 for an exact code match) and Soundex codes, taking the better of the
// two; a multi-word utterance averages the best per-word alignments, so
// "open chrom" lands on "open chrome" without also lighting up every other
// "open ..." phrase.
type PhoneticMatcher struct {
	threshold float64
	limit     int
}

var _ Matcher = (*PhoneticMatcher)(nil)

// PhoneticOption configures a [PhoneticMatcher].
type PhoneticOption func(*PhoneticMatcher)

// WithPhoneticThreshold sets the minimum phonetic score. Default: 0.80.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(m *PhoneticMatcher) { m.threshold = threshold }
}

// WithPhoneticLimit caps the number of candidates per match. Default: 3.
func WithPhoneticLimit(n int) PhoneticOption {
	return func(m *PhoneticMatcher) { m.limit = n }
}

// NewPhonetic returns a phonetic matcher.
func NewPhonetic(opts ...PhoneticOption) *PhoneticMatcher {
	m := &PhoneticMatcher{
		threshold: defaultPhoneticThreshold,
		limit:     defaultPhoneticLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Method implements [Matcher].
func (m *PhoneticMatcher) Method() Method { return MethodPhonetic }

// Match implements [Matcher]. At most one candidate per intent is proposed.
func (m *PhoneticMatcher) Match(_ context.Context, text string, idx *command.Index) ([]Candidate, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return nil, nil
	}
	best := make(map[string]Candidate)
	for _, p := range idx.Phrases() {
		score := phraseScore(tokens, strings.Fields(p.Text))
		if score < m.threshold {
			continue
		}
		if prev, ok := best[p.IntentID]; ok && prev.Score >= score {
			continue
		}
		best[p.IntentID] = Candidate{
			IntentID: p.IntentID,
			Phrase:   p.Text,
			Method:   MethodPhonetic,
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
	if m.limit > 0 && len(out) > m.limit {
		out = out[:m.limit]
	}
	return out, nil
}

// phraseScore averages, over the utterance tokens, the best pairwise
// phonetic score against the phrase tokens. Every utterance word must find
// a sound-alike partner for the phrase to score high.
func phraseScore(utterance, phrase []string) float64 {
	if len(phrase) == 0 {
		return 0
	}
	var sum float64
	for _, ut := range utterance {
		best := 0.0
		for _, pt := range phrase {
			if s := tokenScore(ut, pt); s > best {
				best = s
			}
		}
		sum += best
	}
	return sum / float64(len(utterance))
}

// tokenScore compares two words on their phonetic codes. Words that encode
// to nothing (pure digits) fall back to plain string similarity.
func tokenScore(a, b string) float64 {
	pa, sa := matchr.DoubleMetaphone(a)
	pb, sb := matchr.DoubleMetaphone(b)

	meta := 0.0
	for _, ca := range [2]string{pa, sa} {
		if ca == "" {
			continue
		}
		for _, cb := range [2]string{pb, sb} {
			if cb == "" {
				continue
			}
			if s := Similarity(ca, cb); s > meta {
				meta = s
			}
		}
	}

	sx := 0.0
	sxa, sxb := matchr.Soundex(a), matchr.Soundex(b)
	switch {
	case sxa == "" || sxb == "":
		// No encodable letters on one side.
	case sxa == sxb:
		sx = soundexExactScore
	default:
		sx = Similarity(sxa, sxb) * 0.8
	}

	if meta == 0 && sx == 0 && pa == "" && pb == "" {
		return Similarity(a, b)
	}
	if sx > meta {
		return sx
	}
	return meta
}
