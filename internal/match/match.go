// Package match implements the individual matching stages of the resolution
// pipeline: exact phrase lookup, grammar templates, fuzzy string similarity,
// phonetic code comparison, and semantic embedding search.
//
// Each stage proposes [Candidate] values with a stage-local score in [0, 1];
// the scoring engine merges candidates across stages into a single weighted
// confidence per intent. A stage that finds nothing returns an empty slice
// and no error — only infrastructure failures (an embedding provider going
// away mid-call) surface as errors, and the pipeline degrades to the
// remaining stages rather than failing the resolution.
//
// All matchers are read-only after construction and safe for concurrent use.
package match

import (
	"context"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/pkg/types"
)

// Method identifies which stage produced a candidate. The scoring engine
// weights contributions by method and reports them in the per-resolution
// breakdown.
type Method string

const (
	// MethodExact is a verbatim phrase hit in the command index.
	MethodExact Method = "exact"

	// MethodGrammar is a slot-template hit.
	MethodGrammar Method = "grammar"

	// MethodFuzzy is a string-similarity hit.
	MethodFuzzy Method = "fuzzy"

	// MethodPhonetic is a sound-alike hit.
	MethodPhonetic Method = "phonetic"

	// MethodSemantic is an embedding-similarity hit.
	MethodSemantic Method = "semantic"

	// MethodContext marks score contributed by session context rather than
	// a matching stage. No matcher produces it; it exists so breakdowns
	// can name every contribution source.
	MethodContext Method = "context"
)

// Candidate is one intent proposed by a single stage.
type Candidate struct {
	// IntentID is the proposed command.
	IntentID string

	// Phrase is the canonical phrase that matched, or the matched text for
	// template hits. It is the speakable form of the candidate.
	Phrase string

	// Method names the stage that produced this candidate.
	Method Method

	// Score is the stage-local score in [0, 1], before method weighting.
	Score float64

	// Slots carries extracted slot values. Only the grammar stage fills it.
	Slots types.Slots
}

// Matcher is one stage of the pipeline. Match receives the normalized
// utterance text and the current index snapshot; it must not retain either.
type Matcher interface {
	// Method identifies the stage for weighting and metrics.
	Method() Method

	// Match proposes zero or more candidates for text.
	Match(ctx context.Context, text string, idx *command.Index) ([]Candidate, error)
}

// Similarity is a Levenshtein-based similarity ratio in [0, 1]. Both the
// fuzzy stage and the suggestion builder rank with it.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := matchr.Levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	return 1 - float64(dist)/float64(maxLen)
}
