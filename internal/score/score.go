// Package score merges per-method match candidates into one composite
// confidence per intent and ranks the intents best first.
//
// The composite is a weighted blend: each contributing method's score is
// multiplied by its weight and the sum is normalized against the maximum
// attainable for the methods that actually contributed, so an intent backed
// only by a grammar hit is not penalized for the stages that had nothing to
// say about it. Exact evidence short-circuits the blend. Learned phrase
// shortcuts count as exact-level evidence, promoted pronunciation
// corrections lift fuzzy and phonetic scores before normalization, and
// session-context affinity adds a weighted bonus after it, so context can
// raise a candidate but never drag one down.
//
// Selection applies a confidence floor that scales with utterance length and
// recognition confidence, then separates near-equal scores by method
// precedence and recency. The whole pass is deterministic: identical inputs
// produce an identical ranking.
package score

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/pkg/types"
)

var (
	// ErrNoCandidate means no stage proposed anything and no learned
	// shortcut applied. The utterance is unrecognized.
	ErrNoCandidate = errors.New("score: no candidate")

	// ErrBelowFloor means the best composite sits below the effective
	// confidence floor. The returned Result still carries the full ranking
	// so suggestion builders can offer the near misses.
	ErrBelowFloor = errors.New("score: best candidate below confidence floor")

	// ErrAmbiguousTie means the top two intents sit within the ambiguity
	// epsilon and neither method precedence nor recency separates them. The
	// returned Result still carries a usable Best; callers resolve it at
	// the confirm tier instead of executing outright.
	ErrAmbiguousTie = errors.New("score: ambiguous tie between top candidates")
)

const (
	defaultFloor   = 0.45
	defaultEpsilon = 0.05

	// boostCap bounds how much a promoted pronunciation correction may add
	// to a single fuzzy or phonetic score.
	boostCap = 0.25

	// bonusCap bounds the summed context bonus before weighting.
	bonusCap = 1.0

	// Floor scaling: utterances longer than floorFreeTokens raise the floor
	// by floorTokenStep per extra token up to floorLengthScaleCap, and a low
	// recognition confidence raises it further. The effective floor never
	// exceeds floorMax, so a strong match stays selectable on any input.
	floorFreeTokens     = 3
	floorTokenStep      = 0.05
	floorLengthScaleCap = 1.4
	floorSTTWeight      = 0.2
	floorMax            = 0.70
)

// methodPrecedence is both the deterministic blend order and the tie-break
// order: earlier methods are more trusted evidence. MethodContext ranks last
// so an intent carried only by context bonus never outranks a textual hit.
var methodPrecedence = []match.Method{
	match.MethodExact,
	match.MethodGrammar,
	match.MethodSemantic,
	match.MethodFuzzy,
	match.MethodPhonetic,
	match.MethodContext,
}

func precedence(m match.Method) int {
	for i, p := range methodPrecedence {
		if p == m {
			return i
		}
	}
	return len(methodPrecedence)
}

// Weights holds the per-method multipliers of the composite blend. A zero
// weight removes the method's contribution from both the numerator and the
// normalization denominator.
type Weights struct {
	Exact    float64
	Grammar  float64
	Fuzzy    float64
	Phonetic float64
	Semantic float64
	Context  float64
}

// DefaultWeights returns the calibrated multipliers.
func DefaultWeights() Weights {
	return Weights{
		Exact:    1.0,
		Grammar:  0.7,
		Fuzzy:    0.6,
		Phonetic: 0.5,
		Semantic: 0.8,
		Context:  0.3,
	}
}

func (w Weights) of(m match.Method) float64 {
	switch m {
	case match.MethodExact:
		return w.Exact
	case match.MethodGrammar:
		return w.Grammar
	case match.MethodFuzzy:
		return w.Fuzzy
	case match.MethodPhonetic:
		return w.Phonetic
	case match.MethodSemantic:
		return w.Semantic
	case match.MethodContext:
		return w.Context
	default:
		return 0
	}
}

// ContextState carries the session signals for one ranking pass. The
// resolver assembles it from the context tracker and the usage analytics;
// the zero value and nil maps are valid.
type ContextState struct {
	// Bonus maps intent id to its summed additive context bonus (mode
	// affinity, recency, frequency). Values are clamped to [0, 1] before
	// weighting.
	Bonus map[string]float64

	// LastUsed maps intent id to its most recent execution. Consulted only
	// to separate otherwise-equal candidates; the zero time means never.
	LastUsed map[string]time.Time
}

// AdaptState carries the learned biases for one ranking pass.
type AdaptState struct {
	// ShortcutIntent is the intent a learned phrase shortcut maps the whole
	// utterance to ("" when none matched). It scores as exact-level
	// evidence, exactly like a canonical phrase hit.
	ShortcutIntent string

	// Boost maps intent id to the lift earned by promoted pronunciation
	// corrections between the utterance and that intent's phrases. The lift
	// is added to the intent's fuzzy and phonetic scores before
	// normalization, and only amplifies evidence those stages already
	// produced.
	Boost map[string]float64
}

// CompositeScore is the merged, normalized confidence of one intent for one
// utterance.
type CompositeScore struct {
	// IntentID names the scored intent.
	IntentID string

	// Confidence is the composite in [0, 1].
	Confidence float64

	// Breakdown maps each contributing method to its share of the
	// confidence. Shares sum to Confidence unless clamping intervened.
	Breakdown map[match.Method]float64

	// PrimaryMethod is the matching method with the largest share.
	PrimaryMethod match.Method

	// Phrase is the canonical phrase behind the primary evidence. Empty for
	// a pure shortcut hit.
	Phrase string

	// Slots carries the grammar stage's extracted values, when any.
	Slots types.Slots
}

// Result is the outcome of one ranking pass.
type Result struct {
	// Scores holds every scored intent, best first. Populated even when
	// Rank returns ErrBelowFloor or ErrAmbiguousTie.
	Scores []CompositeScore

	// Best is Scores[0] whenever any intent was scored.
	Best CompositeScore

	// Ambiguous reports that the top two scores sit within the ambiguity
	// epsilon with no tie-break rule left to separate them.
	Ambiguous bool

	// Floor is the effective confidence floor after length and recognition
	// scaling.
	Floor float64
}

// Engine computes composite scores. It is immutable after construction and
// safe for concurrent use.
type Engine struct {
	weights Weights
	floor   float64
	epsilon float64
	logger  *slog.Logger
}

// Option configures an [Engine].
type Option func(*Engine)

// WithWeights overrides the per-method multipliers.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithFloor overrides the base confidence floor (default 0.45).
func WithFloor(floor float64) Option {
	return func(e *Engine) { e.floor = floor }
}

// WithEpsilon overrides the ambiguity epsilon (default 0.05).
func WithEpsilon(eps float64) Option {
	return func(e *Engine) { e.epsilon = eps }
}

// WithLogger sets the logger used for per-ranking debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New returns an Engine with the calibrated defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		weights: DefaultWeights(),
		floor:   defaultFloor,
		epsilon: defaultEpsilon,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rank merges candidates by intent id, computes each intent's composite
// confidence, and orders the result best first.
//
// tokenCount is the normalized utterance's token count and sttConf the
// upstream recognition confidence (zero when unreported); both scale the
// selection floor, never the scores themselves.
//
// The returned Result is meaningful even on error: ErrBelowFloor still
// carries the full ranking for suggestion building, and ErrAmbiguousTie a
// usable Best for confirm-tier handling. Only ErrNoCandidate leaves the
// ranking empty.
func (e *Engine) Rank(cands []match.Candidate, state ContextState, adapt AdaptState, tokenCount int, sttConf float64) (Result, error) {
	res := Result{Floor: e.effectiveFloor(tokenCount, sttConf)}

	entries := merge(cands, adapt.ShortcutIntent)
	if len(entries) == 0 {
		return res, ErrNoCandidate
	}

	res.Scores = make([]CompositeScore, 0, len(entries))
	for _, ent := range entries {
		res.Scores = append(res.Scores, e.composite(ent, state, adapt))
	}
	e.order(res.Scores, state)
	res.Best = res.Scores[0]

	if res.Best.Confidence < res.Floor {
		e.logger.Debug("best candidate below floor",
			"intent", res.Best.IntentID,
			"confidence", res.Best.Confidence,
			"floor", res.Floor)
		return res, ErrBelowFloor
	}
	if e.tied(res.Scores, state) {
		res.Ambiguous = true
		e.logger.Debug("ambiguous tie",
			"first", res.Scores[0].IntentID,
			"second", res.Scores[1].IntentID,
			"confidence", res.Best.Confidence)
		return res, ErrAmbiguousTie
	}

	e.logger.Debug("candidates ranked",
		"intent", res.Best.IntentID,
		"confidence", res.Best.Confidence,
		"method", string(res.Best.PrimaryMethod),
		"scored", len(res.Scores))
	return res, nil
}

// entry is one intent's evidence collected across methods.
type entry struct {
	intentID string
	scores   map[match.Method]float64
	phrases  map[match.Method]string
	slots    types.Slots
}

// merge collapses candidates into one entry per intent id, keeping the best
// score per method. A learned shortcut intent receives exact-level evidence
// whether or not any stage proposed it. The returned slice is ordered by
// intent id so downstream float summation is reproducible.
func merge(cands []match.Candidate, shortcutIntent string) []*entry {
	byIntent := make(map[string]*entry)
	get := func(id string) *entry {
		ent, ok := byIntent[id]
		if !ok {
			ent = &entry{
				intentID: id,
				scores:   make(map[match.Method]float64),
				phrases:  make(map[match.Method]string),
			}
			byIntent[id] = ent
		}
		return ent
	}

	for _, c := range cands {
		if c.IntentID == "" {
			continue
		}
		ent := get(c.IntentID)
		s := clamp01(c.Score)
		cur, seen := ent.scores[c.Method]
		if !seen || s > cur || (s == cur && c.Phrase < ent.phrases[c.Method]) {
			ent.scores[c.Method] = s
			ent.phrases[c.Method] = c.Phrase
		}
		if c.Method == match.MethodGrammar && len(c.Slots) > 0 && ent.slots == nil {
			ent.slots = c.Slots
		}
	}

	if shortcutIntent != "" {
		ent := get(shortcutIntent)
		ent.scores[match.MethodExact] = 1.0
	}

	ids := make([]string, 0, len(byIntent))
	for id := range byIntent {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, byIntent[id])
	}
	return entries
}

// composite turns one intent's evidence into a normalized confidence.
func (e *Engine) composite(ent *entry, state ContextState, adapt AdaptState) CompositeScore {
	cs := CompositeScore{
		IntentID:  ent.intentID,
		Breakdown: make(map[match.Method]float64),
		Slots:     ent.slots,
	}

	// Exact evidence is certainty: it short-circuits the blend and skips
	// the bonuses, which could only be clamped away.
	if s, ok := ent.scores[match.MethodExact]; ok && s > 0 {
		cs.Confidence = s
		cs.Breakdown[match.MethodExact] = s
		cs.PrimaryMethod = match.MethodExact
		cs.Phrase = ent.phrases[match.MethodExact]
		return cs
	}

	scores := make(map[match.Method]float64, len(ent.scores))
	for m, s := range ent.scores {
		scores[m] = s
	}
	if boost := math.Min(adapt.Boost[ent.intentID], boostCap); boost > 0 {
		for _, m := range []match.Method{match.MethodFuzzy, match.MethodPhonetic} {
			if s := scores[m]; s > 0 {
				scores[m] = math.Min(1, s+boost)
			}
		}
	}

	var sum, attainable float64
	for _, m := range methodPrecedence {
		if m == match.MethodContext {
			continue
		}
		s := scores[m]
		w := e.weights.of(m)
		if s <= 0 || w <= 0 {
			continue
		}
		sum += s * w
		attainable += w
	}

	var base float64
	if attainable > 0 {
		base = sum / attainable
		for _, m := range methodPrecedence {
			if s, w := scores[m], e.weights.of(m); s > 0 && w > 0 && m != match.MethodContext {
				cs.Breakdown[m] = s * w / attainable
			}
		}
	}

	if bonus := clamp(state.Bonus[ent.intentID], 0, bonusCap) * e.weights.Context; bonus > 0 {
		cs.Breakdown[match.MethodContext] = bonus
		base += bonus
	}
	cs.Confidence = clamp01(base)

	cs.PrimaryMethod = primaryMethod(cs.Breakdown)
	cs.Phrase = ent.phrases[cs.PrimaryMethod]
	return cs
}

// primaryMethod picks the matching method with the largest share, preferring
// higher-precedence methods on equal shares. Context is only primary when no
// matching method contributed at all.
func primaryMethod(breakdown map[match.Method]float64) match.Method {
	best := match.MethodContext
	bestShare := -1.0
	for _, m := range methodPrecedence {
		if m == match.MethodContext {
			continue
		}
		if share, ok := breakdown[m]; ok && share > bestShare {
			best = m
			bestShare = share
		}
	}
	return best
}

// order sorts best first: confidence, then method precedence, then most
// recent use, then intent id for a stable total order.
func (e *Engine) order(scores []CompositeScore, state ContextState) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		pa, pb := precedence(a.PrimaryMethod), precedence(b.PrimaryMethod)
		if pa != pb {
			return pa < pb
		}
		ta, tb := state.LastUsed[a.IntentID], state.LastUsed[b.IntentID]
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.IntentID < b.IntentID
	})
}

// tied reports whether the top two scores are an ambiguous tie: within
// epsilon of each other and not separated by method precedence or recency.
func (e *Engine) tied(scores []CompositeScore, state ContextState) bool {
	if len(scores) < 2 {
		return false
	}
	a, b := scores[0], scores[1]
	if a.Confidence-b.Confidence >= e.epsilon {
		return false
	}
	if precedence(a.PrimaryMethod) != precedence(b.PrimaryMethod) {
		return false
	}
	ta, tb := state.LastUsed[a.IntentID], state.LastUsed[b.IntentID]
	return ta.Equal(tb)
}

// effectiveFloor scales the base floor by utterance length, because longer
// strings accumulate matching noise, and by a low recognition confidence
// when the transcriber reported one.
func (e *Engine) effectiveFloor(tokenCount int, sttConf float64) float64 {
	floor := e.floor
	if tokenCount > floorFreeTokens {
		scale := 1 + floorTokenStep*float64(tokenCount-floorFreeTokens)
		if scale > floorLengthScaleCap {
			scale = floorLengthScaleCap
		}
		floor *= scale
	}
	if sttConf > 0 && sttConf < 1 {
		floor *= 1 + floorSTTWeight*(1-sttConf)
	}
	return math.Min(floor, floorMax)
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
