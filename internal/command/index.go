package command

import (
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// defaultKeywordBoost is the intensity hint attached to every exported
// vocabulary keyword. Transcriber-specific scaling is the collaborator's
// concern.
const defaultKeywordBoost = 1.5

// Phrase is one canonical trigger phrase, flattened out of its definition so
// matchers can scan the whole index linearly.
type Phrase struct {
	// Text is the lowercased canonical phrase.
	Text string

	// IntentID names the intent the phrase belongs to.
	IntentID string
}

// Template is one compiled grammar template. Templates are exposed
// most-specific-first; specificity is the minimum number of fixed literal
// characters an utterance must contain to match, so "scroll to the top"
// outranks "scroll <direction>".
type Template struct {
	// IntentID names the intent a match produces.
	IntentID string

	// Pattern is the compiled expression. Matched against the normalized
	// utterance; capture group names become slot names.
	Pattern *regexp.Regexp

	// Specificity orders templates; higher tries first.
	Specificity int

	// Slots maps each capture group name to its declared kind.
	Slots map[string]SlotKind

	// Verbatim is copied from the owning definition.
	Verbatim bool
}

// Index is an immutable snapshot of the compiled command set. All lookups
// are read-only; a new snapshot replaces the old one wholesale via
// [Registry], so holders of an Index can keep using it for the remainder of
// a resolution pass without locking.
type Index struct {
	generation uint64
	builtAt    time.Time

	byID       map[string]CommandDefinition
	defs       []CommandDefinition
	phrases    []Phrase
	byPhrase   map[string]string // lowercased phrase -> intent id
	byCategory map[Category][]Phrase
	templates  []Template
	vocabulary []types.KeywordBoost
}

// NewIndex compiles defs into an immutable [Index]. Every definition is
// validated; duplicate intent IDs and duplicate phrases across intents are
// rejected. Validation problems are collected and joined so a broken
// commands file reports everything wrong with it at once.
func NewIndex(defs []CommandDefinition) (*Index, error) {
	idx := &Index{
		builtAt:    time.Now(),
		byID:       make(map[string]CommandDefinition, len(defs)),
		defs:       make([]CommandDefinition, 0, len(defs)),
		byPhrase:   make(map[string]string),
		byCategory: make(map[Category][]Phrase),
	}

	var errs []error
	for i, def := range defs {
		if err := Validate(def); err != nil {
			errs = append(errs, fmt.Errorf("command[%d] (id %q): %w", i, def.ID, err))
			continue
		}
		if _, exists := idx.byID[def.ID]; exists {
			errs = append(errs, fmt.Errorf("command[%d]: duplicate id %q", i, def.ID))
			continue
		}

		idx.byID[def.ID] = def
		idx.defs = append(idx.defs, def)

		for _, raw := range def.Phrases {
			text := strings.ToLower(strings.TrimSpace(raw))
			if owner, taken := idx.byPhrase[text]; taken {
				errs = append(errs, fmt.Errorf("command[%d] (id %q): phrase %q already belongs to %q", i, def.ID, text, owner))
				continue
			}
			idx.byPhrase[text] = def.ID
			p := Phrase{Text: text, IntentID: def.ID}
			idx.phrases = append(idx.phrases, p)
			idx.byCategory[def.Category] = append(idx.byCategory[def.Category], p)
		}

		for ti, raw := range def.Templates {
			tmpl, err := compileTemplate(def, raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("command[%d] (id %q): template[%d]: %w", i, def.ID, ti, err))
				continue
			}
			idx.templates = append(idx.templates, tmpl)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Stable sort keeps declaration order within a specificity class.
	sort.SliceStable(idx.templates, func(a, b int) bool {
		return idx.templates[a].Specificity > idx.templates[b].Specificity
	})

	idx.vocabulary = buildVocabulary(idx.phrases)
	return idx, nil
}

// Generation is the monotonically increasing publish counter assigned by the
// owning [Registry]. Zero for an index built outside a registry.
func (idx *Index) Generation() uint64 { return idx.generation }

// BuiltAt reports when the snapshot was compiled.
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }

// Len returns the number of command definitions in the snapshot.
func (idx *Index) Len() int { return len(idx.defs) }

// Lookup returns the definition for an intent ID.
func (idx *Index) Lookup(id string) (CommandDefinition, bool) {
	def, ok := idx.byID[id]
	return def, ok
}

// LookupPhrase returns the intent ID owning an exact canonical phrase.
// The phrase is compared lowercased.
func (idx *Index) LookupPhrase(text string) (string, bool) {
	id, ok := idx.byPhrase[strings.ToLower(strings.TrimSpace(text))]
	return id, ok
}

// Defs returns all definitions in declaration order. The returned slice is
// shared; callers must not modify it.
func (idx *Index) Defs() []CommandDefinition { return idx.defs }

// Phrases returns every canonical phrase in the snapshot. The returned slice
// is shared; callers must not modify it.
func (idx *Index) Phrases() []Phrase { return idx.phrases }

// PhrasesIn returns the canonical phrases of one category, letting a matcher
// bound its scan when the router has already classified the utterance.
func (idx *Index) PhrasesIn(cat Category) []Phrase { return idx.byCategory[cat] }

// Templates returns all compiled grammar templates, most-specific-first.
// The returned slice is shared; callers must not modify it.
func (idx *Index) Templates() []Template { return idx.templates }

// Vocabulary exports the distinct canonical-phrase tokens as keyword-boost
// hints for the upstream transcriber. The result is sorted and deterministic
// for a given command set.
func (idx *Index) Vocabulary() []types.KeywordBoost { return idx.vocabulary }

// ─────────────────────────────────────────────────────────────────────────────
// Compilation helpers
// ─────────────────────────────────────────────────────────────────────────────

// compileTemplate compiles one template pattern and resolves its slot kinds
// from the owning definition.
func compileTemplate(def CommandDefinition, pattern string) (Template, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Template{}, err
	}

	slots := make(map[string]SlotKind)
	for _, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		kind, declared := def.Slots[name]
		if !declared {
			kind = SlotText
		}
		slots[name] = kind
	}

	spec, err := patternSpecificity(pattern)
	if err != nil {
		return Template{}, err
	}

	return Template{
		IntentID:    def.ID,
		Pattern:     re,
		Specificity: spec,
		Slots:       slots,
		Verbatim:    def.Verbatim,
	}, nil
}

// patternSpecificity counts the fixed literal characters a string must
// contain to match the pattern. Alternations contribute their cheapest
// branch and optional parts contribute nothing, so the count is a floor,
// which is exactly the ordering property template matching needs.
func patternSpecificity(pattern string) (int, error) {
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return 0, err
	}
	return literalFloor(re), nil
}

func literalFloor(re *syntax.Regexp) int {
	switch re.Op {
	case syntax.OpLiteral:
		return len(re.Rune)
	case syntax.OpConcat:
		sum := 0
		for _, sub := range re.Sub {
			sum += literalFloor(sub)
		}
		return sum
	case syntax.OpAlternate:
		min := -1
		for _, sub := range re.Sub {
			n := literalFloor(sub)
			if min < 0 || n < min {
				min = n
			}
		}
		if min < 0 {
			return 0
		}
		return min
	case syntax.OpCapture, syntax.OpPlus:
		return literalFloor(re.Sub[0])
	case syntax.OpRepeat:
		if re.Min > 0 {
			return literalFloor(re.Sub[0])
		}
		return 0
	default:
		// Character classes, anchors, and optional parts pin no literals.
		return 0
	}
}

// buildVocabulary flattens phrases into distinct keyword-boost entries.
// Single-character tokens carry no signal for a transcriber and are skipped.
func buildVocabulary(phrases []Phrase) []types.KeywordBoost {
	seen := make(map[string]struct{})
	for _, p := range phrases {
		for _, tok := range strings.Fields(p.Text) {
			if len(tok) < 2 {
				continue
			}
			seen[tok] = struct{}{}
		}
	}

	keywords := make([]string, 0, len(seen))
	for tok := range seen {
		keywords = append(keywords, tok)
	}
	sort.Strings(keywords)

	boosts := make([]types.KeywordBoost, len(keywords))
	for i, kw := range keywords {
		boosts[i] = types.KeywordBoost{Keyword: kw, Boost: defaultKeywordBoost}
	}
	return boosts
}
