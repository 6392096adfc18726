package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/pkg/types"
)

// ErrSlotExtraction marks a template hit whose captured value could not
// satisfy its declared slot kind. The candidate is discarded and the scan
// continues with the next template.
var ErrSlotExtraction = errors.New("match: slot extraction failed")

// grammarScore is the fixed stage score for a template hit. A template match
// is structurally certain but says nothing about how close the utterance is
// to a canonical phrase, so it scores below exact.
const grammarScore = 0.7

// GrammarMatcher matches the utterance against the snapshot's slot
// templates, most specific first, and extracts named slot values.
type GrammarMatcher struct {
	logger *slog.Logger
}

var _ Matcher = (*GrammarMatcher)(nil)

// GrammarOption configures a [GrammarMatcher].
type GrammarOption func(*GrammarMatcher)

// WithGrammarLogger sets the logger for discarded-candidate debug lines.
func WithGrammarLogger(l *slog.Logger) GrammarOption {
	return func(m *GrammarMatcher) { m.logger = l }
}

// NewGrammar returns a template matcher.
func NewGrammar(opts ...GrammarOption) *GrammarMatcher {
	m := &GrammarMatcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Method implements [Matcher].
func (m *GrammarMatcher) Method() Method { return MethodGrammar }

// Match implements [Matcher]. The first template whose pattern matches and
// whose slots all extract cleanly wins; a slot failure discards only that
// template, so a less specific one can still match.
func (m *GrammarMatcher) Match(_ context.Context, text string, idx *command.Index) ([]Candidate, error) {
	for _, tpl := range idx.Templates() {
		captures := tpl.Pattern.FindStringSubmatch(text)
		if captures == nil {
			continue
		}
		slots, err := extractSlots(tpl, captures)
		if err != nil {
			m.logger.Debug("template discarded",
				"intent", tpl.IntentID,
				"template", tpl.Pattern.String(),
				"error", err)
			continue
		}
		// Phrase carries the matched text, not the pattern source: it feeds
		// spoken feedback, and nobody wants to hear a regex.
		return []Candidate{{
			IntentID: tpl.IntentID,
			Phrase:   text,
			Method:   MethodGrammar,
			Score:    grammarScore,
			Slots:    slots,
		}}, nil
	}
	return nil, nil
}

// extractSlots converts the capture groups of a template hit into slot
// values. Unmatched optional groups are omitted; a non-empty capture that
// cannot satisfy its declared kind fails the whole hit.
func extractSlots(tpl command.Template, captures []string) (types.Slots, error) {
	names := tpl.Pattern.SubexpNames()
	slots := make(types.Slots)
	for i, name := range names {
		if name == "" || i >= len(captures) {
			continue
		}
		val := strings.TrimSpace(captures[i])
		val = strings.Trim(val, `"`)
		if val == "" {
			continue
		}
		kind := tpl.Slots[name]
		switch kind {
		case command.SlotNumber, command.SlotOrdinal:
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w: slot %q value %q is not an unsigned integer", ErrSlotExtraction, name, val)
			}
			slots[name] = strconv.Itoa(n)
		default:
			slots[name] = val
		}
	}
	if len(slots) == 0 {
		return nil, nil
	}
	return slots, nil
}
