// Package normalize cleans raw transcribed utterances before any matching
// stage sees them. The pipeline lowercases, extracts quoted spans, strips
// politeness and hesitation fillers, converts spoken number words in
// numeric-slot contexts, and collapses whitespace.
//
// Two guarantees hold for every input:
//
//   - Normalization is idempotent: feeding a normalized text back through
//     [Normalizer.Normalize] yields the same text.
//   - Dictation arguments survive untouched: when the utterance is a
//     verbatim-capture command ("type ...", "write ...", "enter ..."),
//     everything after the trigger verb is preserved exactly, including
//     words that elsewhere count as fillers.
//
// A [Normalizer] is safe for concurrent use.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// maxStripPasses bounds the filler fixpoint loop. Stripping one filler can
// expose another ("can quickly you" -> "can you"), so the pass repeats
// until the text stops changing.
const maxStripPasses = 4

// Result is the outcome of normalizing one utterance. Text and Tokens are
// stable under re-normalization; the literal fields are populated only on
// the pass that consumed their surface form (quote marks and number words
// are gone from the normalized text).
type Result struct {
	// Text is the cleaned, lowercased utterance. For verbatim captures the
	// trigger verb is lowercased but the argument keeps its original form.
	Text string

	// Tokens is Text split on whitespace. len(Tokens) drives the
	// confidence floor scaling downstream.
	Tokens []string

	// Verbatim reports that a dictation trigger guarded the tail of the
	// utterance and filler stripping was suppressed for it.
	Verbatim bool

	// Numbers holds every integer literal present in Text after
	// conversion, in order of appearance.
	Numbers []int

	// Ordinals holds the values that came from ordinal words
	// ("third" -> 3). They also appear in Text as digits.
	Ordinals []int

	// Quoted holds the contents of double-quoted spans with their
	// original casing. The spans stay quoted in Text, which keeps
	// re-normalization stable, but fillers inside them are never stripped.
	Quoted []string
}

// Normalizer applies the cleaning pipeline. Construct with [New]; the zero
// value is not usable.
type Normalizer struct {
	fillers      []*regexp.Regexp
	triggers     map[string]struct{}
	triggerRe    *regexp.Regexp
	numberCtx    map[string]struct{}
	extraPhrases []string
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithExtraFillers adds phrases to the default filler inventory. Phrases
// are matched case-insensitively on word boundaries.
func WithExtraFillers(phrases ...string) Option {
	return func(n *Normalizer) {
		n.extraPhrases = append(n.extraPhrases, phrases...)
	}
}

// WithVerbatimTriggers replaces the dictation verbs that protect their
// argument from stripping. Pass none to disable verbatim capture.
func WithVerbatimTriggers(verbs ...string) Option {
	return func(n *Normalizer) {
		n.triggers = make(map[string]struct{}, len(verbs))
		for _, v := range verbs {
			n.triggers[strings.ToLower(v)] = struct{}{}
		}
	}
}

// WithNumberContext replaces the tokens that mark a numeric-slot context
// for spoken-number conversion.
func WithNumberContext(words ...string) Option {
	return func(n *Normalizer) {
		n.numberCtx = make(map[string]struct{}, len(words))
		for _, w := range words {
			n.numberCtx[strings.ToLower(w)] = struct{}{}
		}
	}
}

// New builds a Normalizer with the default filler, trigger, and
// number-context inventories, then applies opts.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		triggers:  make(map[string]struct{}, len(defaultVerbatimTriggers)),
		numberCtx: make(map[string]struct{}, len(defaultNumberContext)),
	}
	for _, v := range defaultVerbatimTriggers {
		n.triggers[v] = struct{}{}
	}
	for _, w := range defaultNumberContext {
		n.numberCtx[w] = struct{}{}
	}
	for _, opt := range opts {
		opt(n)
	}
	n.compile()
	return n
}

func (n *Normalizer) compile() {
	phrases := make([]string, 0, len(fillerPhrases)+len(n.extraPhrases))
	phrases = append(phrases, fillerPhrases...)
	phrases = append(phrases, n.extraPhrases...)
	// Longest first so compound fillers win over their own prefixes.
	sort.SliceStable(phrases, func(i, j int) bool {
		return len(phrases[i]) > len(phrases[j])
	})
	n.fillers = make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		n.fillers = append(n.fillers, regexp.MustCompile(`\b`+regexp.QuoteMeta(p)+`\b`))
	}

	if len(n.triggers) > 0 {
		verbs := make([]string, 0, len(n.triggers))
		for v := range n.triggers {
			verbs = append(verbs, regexp.QuoteMeta(v))
		}
		sort.Strings(verbs)
		n.triggerRe = regexp.MustCompile(`\b(` + strings.Join(verbs, "|") + `)\b`)
	}
}

// Normalize runs the full pipeline over one utterance.
func (n *Normalizer) Normalize(text string) Result {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{}
	}
	lower := strings.ToLower(trimmed)

	if verb, tail, ok := n.verbatimTail(lower, trimmed); ok {
		out := verb
		if tail != "" {
			out += " " + tail
		}
		return Result{
			Text:     out,
			Tokens:   strings.Fields(out),
			Verbatim: true,
		}
	}

	working, quoted := extractQuoted(trimmed)
	working = strings.ToLower(working)
	working = n.stripFillers(working)

	tokens := strings.Fields(working)
	tokens = trimPunctuation(tokens)
	tokens, ordinals := n.convertNumbers(tokens)
	tokens = restoreQuoted(tokens, quoted)

	out := strings.Join(tokens, " ")
	return Result{
		Text:     out,
		Tokens:   tokens,
		Numbers:  collectNumbers(tokens),
		Ordinals: ordinals,
		Quoted:   quoted,
	}
}

// Clean is a convenience wrapper returning only the normalized text, using
// a shared default Normalizer.
func Clean(text string) string {
	return defaultNormalizer.Normalize(text).Text
}

var defaultNormalizer = New()

// verbatimTail reports whether the utterance is a dictation command whose
// argument must be preserved. The trigger may be preceded only by fillers;
// "press enter" is not a dictation of "enter" because "press" is no filler.
func (n *Normalizer) verbatimTail(lower, original string) (verb, tail string, ok bool) {
	if n.triggerRe == nil {
		return "", "", false
	}
	loc := n.triggerRe.FindStringIndex(lower)
	if loc == nil {
		return "", "", false
	}
	prefix := n.stripFillers(lower[:loc[0]])
	if strings.TrimSpace(prefix) != "" {
		return "", "", false
	}
	// Case folding can shift byte offsets for non-ASCII input; fall back
	// to the lowered text rather than slice out of range.
	src := original
	if len(lower) != len(original) {
		src = lower
	}
	tail = strings.TrimSpace(src[loc[1]:])
	if tail == "" {
		// A bare trigger with no argument is an ordinary utterance.
		return "", "", false
	}
	return lower[loc[0]:loc[1]], tail, true
}

// stripFillers removes filler phrases until the text stops changing, so a
// filler exposed by an earlier removal is caught too.
func (n *Normalizer) stripFillers(text string) string {
	for pass := 0; pass < maxStripPasses; pass++ {
		before := text
		for _, re := range n.fillers {
			text = re.ReplaceAllString(text, " ")
		}
		text = strings.Join(strings.Fields(text), " ")
		if text == before {
			break
		}
	}
	return text
}

// convertNumbers rewrites spoken number and ordinal words as digits when
// they sit next to a numeric-context token. Compounds like "twenty one"
// and "twenty first" are consumed as a unit.
func (n *Normalizer) convertNumbers(tokens []string) ([]string, []int) {
	out := make([]string, 0, len(tokens))
	var ordinals []int
	for i := 0; i < len(tokens); {
		val, isOrdinal, consumed := parseSpokenNumber(tokens, i)
		if consumed > 0 && n.inNumberContext(tokens, i, i+consumed) {
			out = append(out, strconv.Itoa(val))
			if isOrdinal {
				ordinals = append(ordinals, val)
			}
			i += consumed
			continue
		}
		out = append(out, tokens[i])
		i++
	}
	return out, ordinals
}

func (n *Normalizer) inNumberContext(tokens []string, start, end int) bool {
	if start > 0 {
		if _, ok := n.numberCtx[tokens[start-1]]; ok {
			return true
		}
	}
	if end < len(tokens) {
		if _, ok := n.numberCtx[tokens[end]]; ok {
			return true
		}
	}
	return false
}

// parseSpokenNumber recognizes a number or ordinal word starting at
// tokens[i]. consumed is 0 when tokens[i] is not a number word.
func parseSpokenNumber(tokens []string, i int) (val int, isOrdinal bool, consumed int) {
	word := tokens[i]
	if tens, ok := tensWords[word]; ok {
		if i+1 < len(tokens) {
			next := tokens[i+1]
			if unit, ok := unitWords[next]; ok && unit >= 1 && unit <= 9 {
				return tens + unit, false, 2
			}
			if ord, ok := ordinalWords[next]; ok && ord >= 1 && ord <= 9 {
				return tens + ord, true, 2
			}
		}
		return tens, false, 1
	}
	if unit, ok := unitWords[word]; ok {
		return unit, false, 1
	}
	if ord, ok := ordinalWords[word]; ok {
		return ord, true, 1
	}
	return 0, false, 0
}

// ─── Quoted spans ───────────────────────────────────────────────────────────

var quotedRe = regexp.MustCompile(`"([^"]*)"|“([^”]*)”`)

const quotePlaceholder = "\x00q\x00"

// extractQuoted pulls double-quoted spans out of text, replacing each with
// a placeholder token so fillers inside quotes are left alone. Returned
// spans keep their original casing.
func extractQuoted(text string) (string, []string) {
	var quoted []string
	replaced := quotedRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := quotedRe.FindStringSubmatch(m)
		span := sub[1]
		if span == "" {
			span = sub[2]
		}
		span = strings.TrimSpace(span)
		if span == "" {
			return " "
		}
		quoted = append(quoted, span)
		return " " + quotePlaceholder + " "
	})
	return replaced, quoted
}

// restoreQuoted substitutes extracted spans back in order, lowercased and
// re-quoted with ASCII quotes so the normalized text stays uniform.
func restoreQuoted(tokens []string, quoted []string) []string {
	if len(quoted) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens)+len(quoted))
	next := 0
	for _, tok := range tokens {
		if tok == quotePlaceholder && next < len(quoted) {
			span := strings.Fields(strings.ToLower(quoted[next]))
			next++
			if len(span) == 0 {
				continue
			}
			span[0] = `"` + span[0]
			span[len(span)-1] += `"`
			out = append(out, span...)
			continue
		}
		out = append(out, tok)
	}
	return out
}

// trimPunctuation strips sentence punctuation clinging to tokens
// ("notepad." -> "notepad") and drops tokens that were only punctuation.
func trimPunctuation(tokens []string) []string {
	out := tokens[:0]
	for _, tok := range tokens {
		if tok != quotePlaceholder {
			tok = strings.Trim(tok, ".,!?;:")
		}
		if tok == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func collectNumbers(tokens []string) []int {
	var nums []int
	for _, tok := range tokens {
		if v, err := strconv.Atoi(tok); err == nil {
			nums = append(nums, v)
		}
	}
	return nums
}
