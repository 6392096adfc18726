// Package policy maps a composite confidence to a response tier and phrases
// the spoken feedback that accompanies it.
//
// The mapping is total and deterministic: every confidence lands in exactly
// one of the four tiers, a danger-flagged intent is never resolved below the
// confirm tier, and an ambiguous tie is always asked about regardless of its
// raw score. The policy never fails.
package policy

import (
	"fmt"
	"strings"

	"github.com/MrWong99/earshot/internal/score"
	"github.com/MrWong99/earshot/pkg/types"
)

// Default tier boundaries. A confidence at or above the boundary belongs to
// the tier.
const (
	DefaultExecuteThreshold     = 0.90
	DefaultAcknowledgeThreshold = 0.70
	DefaultConfirmThreshold     = 0.50
)

// Decision is the policy's answer for one resolution.
type Decision struct {
	// Tier is the chosen response tier.
	Tier types.Tier

	// Ack is the phrase to speak: empty for a silent execute, an
	// acknowledgment for TierAcknowledge, and a question for TierConfirm
	// and TierSuggest.
	Ack string
}

// Policy holds the tier boundaries. It is immutable after construction and
// safe for concurrent use.
type Policy struct {
	execute     float64
	acknowledge float64
	confirm     float64
}

// Option configures a [Policy].
type Option func(*Policy)

// WithThresholds overrides the three tier boundaries: at or above execute
// runs silently, at or above acknowledge runs with speech, at or above
// confirm asks first, and anything lower only suggests.
func WithThresholds(execute, acknowledge, confirm float64) Option {
	return func(p *Policy) {
		p.execute = execute
		p.acknowledge = acknowledge
		p.confirm = confirm
	}
}

// New returns a Policy with the default boundaries.
func New(opts ...Option) *Policy {
	p := &Policy{
		execute:     DefaultExecuteThreshold,
		acknowledge: DefaultAcknowledgeThreshold,
		confirm:     DefaultConfirmThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide maps the best candidate to a tier.
//
// ambiguous forces the confirm tier regardless of the raw score, because a
// near-tie means the score alone picked the winner by a hair. danger raises
// any executable tier to confirm but never lowers a suggest: a dangerous
// intent that did not clear the floor still is not offered for execution.
func (p *Policy) Decide(best score.CompositeScore, ambiguous, danger bool) Decision {
	tier := p.tierOf(best.Confidence)
	if ambiguous && tier != types.TierConfirm {
		tier = types.TierConfirm
	}
	dangerForced := false
	if danger && tier.Executable() {
		tier = types.TierConfirm
		dangerForced = true
	}

	return Decision{Tier: tier, Ack: p.phrase(tier, best, dangerForced)}
}

func (p *Policy) tierOf(confidence float64) types.Tier {
	switch {
	case confidence >= p.execute:
		return types.TierExecute
	case confidence >= p.acknowledge:
		return types.TierAcknowledge
	case confidence >= p.confirm:
		return types.TierConfirm
	default:
		return types.TierSuggest
	}
}

// phrase picks the spoken line for a tier. A confirm reached through the
// danger flag asks for permission ("Should I ...?"); a confirm reached
// through a shaky score asks about recognition ("Did you mean ...?").
func (p *Policy) phrase(tier types.Tier, best score.CompositeScore, dangerForced bool) string {
	spoken := SpokenName(best)
	switch tier {
	case types.TierExecute:
		return ""
	case types.TierAcknowledge:
		return Acknowledgment(spoken)
	case types.TierConfirm:
		if dangerForced {
			return fmt.Sprintf("Should I %s?", spoken)
		}
		return fmt.Sprintf("Did you mean '%s'?", spoken)
	default:
		return fmt.Sprintf("I'm not sure what you meant. Did you say '%s'?", spoken)
	}
}

// SpokenName returns the speakable form of a candidate: its matched phrase
// when one is known, otherwise the intent id with underscores opened up.
func SpokenName(best score.CompositeScore) string {
	if best.Phrase != "" {
		return best.Phrase
	}
	return strings.ReplaceAll(best.IntentID, "_", " ")
}

// Acknowledgment phrases the spoken confirmation for an acknowledge-tier
// execution: "Opening chrome.", "Searching for cat videos.", and so on,
// falling back to "Executing <command>." for verbs without a template.
func Acknowledgment(command string) string {
	words := strings.Fields(strings.ToLower(command))
	if len(words) == 0 {
		return "Executing."
	}
	verb, rest := words[0], strings.Join(words[1:], " ")

	switch verb {
	case "open", "launch", "start":
		if rest != "" {
			return fmt.Sprintf("Opening %s.", rest)
		}
	case "close", "exit", "quit":
		if rest != "" {
			return fmt.Sprintf("Closing %s.", rest)
		}
	case "search":
		if rest != "" {
			return fmt.Sprintf("Searching for %s.", strings.TrimPrefix(rest, "for "))
		}
	case "type", "write", "dictate":
		return "Typing."
	case "switch", "go":
		return "Switching."
	case "minimize", "maximize", "restore":
		return progressive(verb) + "."
	}
	return fmt.Sprintf("Executing %s.", command)
}

// progressive turns a verb into its capitalized -ing form, dropping a silent
// trailing "e" ("minimize" → "Minimizing").
func progressive(verb string) string {
	v := strings.TrimSuffix(verb, "e")
	return strings.ToUpper(v[:1]) + v[1:] + "ing"
}

// SuggestPrompt phrases the spoken fallback when nothing cleared the floor.
// At most three suggestions are read out.
func SuggestPrompt(suggestions []types.Suggestion) string {
	if len(suggestions) == 0 {
		return "I couldn't understand that."
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	names := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		name := s.Phrase
		if name == "" {
			name = strings.ReplaceAll(s.IntentID, "_", " ")
		}
		names = append(names, name)
	}
	return fmt.Sprintf("I couldn't understand. Did you mean: %s?", strings.Join(names, ", "))
}
