package match

import (
	"context"

	"github.com/MrWong99/earshot/internal/command"
)

// ExactMatcher resolves an utterance that is verbatim one of the canonical
// phrases. A hit scores 1.0 and lets the resolver skip the semantic stage.
type ExactMatcher struct{}

var _ Matcher = ExactMatcher{}

// NewExact returns the exact phrase matcher.
func NewExact() ExactMatcher { return ExactMatcher{} }

// Method implements [Matcher].
func (ExactMatcher) Method() Method { return MethodExact }

// Match implements [Matcher]. Lookup is a single map probe on the snapshot.
func (ExactMatcher) Match(_ context.Context, text string, idx *command.Index) ([]Candidate, error) {
	id, ok := idx.LookupPhrase(text)
	if !ok {
		return nil, nil
	}
	return []Candidate{{
		IntentID: id,
		Phrase:   text,
		Method:   MethodExact,
		Score:    1,
	}}, nil
}
