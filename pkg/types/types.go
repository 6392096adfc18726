// Package types defines the shared types used across all Earshot packages.
//
// These types form the lingua franca between the transcript ingress, the
// resolution pipeline, and the executor boundary. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Utterance is one unit of transcribed user speech handed to the resolver.
// It is immutable once captured: the pipeline derives normalized views from
// it but never mutates the original.
type Utterance struct {
	// ID uniquely identifies this utterance across logs, metrics, and any
	// confirmation it may later spawn.
	ID string

	// Text is the raw transcript as delivered by the speech-to-text
	// collaborator, before any normalization.
	Text string

	// Confidence is the recognition confidence reported by the STT
	// collaborator (0.0–1.0). Zero means the collaborator did not report one;
	// the resolver runs fine without it.
	Confidence float64

	// Words contains per-word detail when the STT collaborator supports it.
	// May be nil.
	Words []WordDetail

	// Timestamp marks when the utterance was captured.
	Timestamp time.Time
}

// WordDetail holds per-word metadata from STT collaborators that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Slots is the set of named values extracted from an utterance for one
// intent: the query text of a search, the application name of a launch, the
// count of a repeat. Keys are template-defined slot names.
type Slots map[string]string

// Tier is the response tier chosen from a resolution's composite confidence.
// It tells the caller how much ceremony must precede execution.
type Tier int

const (
	// TierExecute means confidence is high enough to act silently.
	TierExecute Tier = iota

	// TierAcknowledge means act, but announce what is being done so the user
	// can catch a misfire.
	TierAcknowledge

	// TierConfirm means ask the user before acting. Dangerous intents are
	// never resolved below this tier.
	TierConfirm

	// TierSuggest means nothing cleared the confidence floor; the resolution
	// carries ranked near-miss suggestions instead of an executable intent.
	TierSuggest
)

// String returns the human-readable name of the tier.
func (t Tier) String() string {
	switch t {
	case TierExecute:
		return "EXECUTE"
	case TierAcknowledge:
		return "ACKNOWLEDGE"
	case TierConfirm:
		return "CONFIRM"
	case TierSuggest:
		return "SUGGEST"
	default:
		return "UNKNOWN"
	}
}

// Executable reports whether the tier permits execution without further user
// input.
func (t Tier) Executable() bool {
	return t == TierExecute || t == TierAcknowledge
}

// Resolution is the engine's answer for one utterance — the contract handed
// to the executor collaborator. The engine never performs OS actions itself.
type Resolution struct {
	// ID uniquely identifies this resolution. Confirm-tier resolutions are
	// later accepted or cancelled by this ID.
	ID string

	// UtteranceID links back to the utterance that produced this resolution.
	UtteranceID string

	// IntentID names the winning intent, or "" when Tier is TierSuggest.
	IntentID string

	// Slots carries the extracted slot values for the winning intent.
	Slots Slots

	// Tier is the response tier chosen by the confidence policy.
	Tier Tier

	// Confidence is the final composite score in [0,1].
	Confidence float64

	// Breakdown maps each matching method that contributed ("exact", "fuzzy",
	// "phonetic", "semantic", "grammar", "context") to its weighted share of
	// the composite. Useful for debugging calibration; may be nil.
	Breakdown map[string]float64

	// Danger is set when the winning intent carries the danger flag, or when
	// an ambiguous tie included at least one dangerous candidate.
	Danger bool

	// Ack is the spoken acknowledgment phrase for TierAcknowledge and the
	// question for TierConfirm. Empty for silent tiers.
	Ack string

	// Suggestions carries ranked near-miss intents when Tier is TierSuggest.
	Suggestions []Suggestion

	// Elapsed is the wall-clock duration of the resolution pass.
	Elapsed time.Duration
}

// Suggestion is one ranked near-miss offered when no candidate cleared the
// confidence floor.
type Suggestion struct {
	// IntentID names the suggested intent.
	IntentID string

	// Phrase is the canonical phrase shown to the user ("did you mean ...").
	Phrase string

	// Score is the relaxed-threshold similarity that ranked this suggestion.
	Score float64
}

// KeywordBoost represents a vocabulary keyword the STT collaborator should
// boost during recognition. The command index exports one per distinct
// trigger token so the transcriber favours words the engine can act on.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "chrome").
	Keyword string

	// Boost is the intensity of the boost (collaborator-specific scale).
	Boost float64
}
