// Package resolver runs the full resolution pipeline for one utterance:
// normalize, route, match in parallel, score, decide a response tier, and
// hand confirm-tier results to the confirmation registry.
//
// The resolver never executes anything. It produces [types.Resolution]
// values; the caller submits executable ones to the dispatch pool. Soft
// outcomes (nothing matched, best below floor) are not errors — they come
// back as suggest-tier resolutions. The only error Resolve returns is the
// cold-start case where no command index has been published yet.
//
// Matching thresholds, method weights, and tier boundaries are
// hot-swappable via [Resolver.Reconfigure]; in-flight resolutions keep the
// pipeline snapshot they started with.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/earshot/internal/adapt"
	"github.com/MrWong99/earshot/internal/analytics"
	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/devctx"
	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/internal/normalize"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/policy"
	"github.com/MrWong99/earshot/internal/recovery"
	"github.com/MrWong99/earshot/internal/router"
	"github.com/MrWong99/earshot/internal/score"
	"github.com/MrWong99/earshot/internal/semindex"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	// semanticSkipScore is the raw stage score a local hit must reach, with
	// a confident route, before the semantic stage is skipped. Execution
	// grade: only an exact phrase or a near-perfect fuzzy hit qualifies.
	semanticSkipScore = 0.90

	// correctionBoost is the per-token lift a promoted pronunciation
	// correction adds toward intents whose phrases contain the corrected
	// token. The scoring engine caps the summed lift.
	correctionBoost = 0.15

	// Intent ids with pipeline-level semantics: they resolve against the
	// context history instead of naming an executor action directly.
	repeatIntentID = "repeat_last"
	undoIntentID   = "undo_last"
)

// pipeline is one immutable configuration of the matching stages. Resolve
// grabs the current pipeline once per pass; Reconfigure swaps in a new one.
type pipeline struct {
	exact    match.ExactMatcher
	grammar  *match.GrammarMatcher
	fuzzy    *match.FuzzyMatcher
	phonetic *match.PhoneticMatcher
	semantic *match.SemanticMatcher
	engine   *score.Engine
	policy   *policy.Policy
}

// Stats is a snapshot of the resolver's rolling counters.
type Stats struct {
	Resolutions     uint64            `json:"resolutions"`
	ByTier          map[string]uint64 `json:"by_tier"`
	Deferred        uint64            `json:"deferred"`
	SemanticSkips   uint64            `json:"semantic_skips"`
	StageErrors     uint64            `json:"stage_errors"`
	PronounRewrites uint64            `json:"pronoun_rewrites"`
	ShortcutHits    uint64            `json:"shortcut_hits"`
	Repeats         uint64            `json:"repeats"`
	Pending         int               `json:"pending"`
	Confirmed       uint64            `json:"confirmed"`
	Cancelled       uint64            `json:"cancelled"`
	Expired         uint64            `json:"expired"`
	AvgElapsedMs    float64           `json:"avg_elapsed_ms"`
}

// Resolver orchestrates the pipeline. Safe for concurrent use.
type Resolver struct {
	registry *command.Registry
	norm     *normalize.Normalizer
	router   *router.Router
	logger   *slog.Logger
	metrics  *observe.Metrics

	// Optional collaborators. A nil collaborator removes its signal from
	// the pipeline; resolution still works.
	context   *devctx.Tracker
	adapter   *adapt.Adapter
	usage     *analytics.Tracker
	suggester *recovery.Suggester

	// Semantic backend, nil when the stage is disabled outright.
	provider embeddings.Provider
	semIndex semindex.Index

	confirmTTL time.Duration

	mu       sync.RWMutex
	pipeline pipeline

	pmu     sync.Mutex
	pending map[string]*pendingConfirmation

	smu     sync.Mutex
	stats   Stats
	totalMs float64
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the OTel metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithContextTracker wires the desktop-context tracker: mode bonuses,
// pronoun resolution, repeat-last lookup, recency tie-breaks.
func WithContextTracker(t *devctx.Tracker) Option {
	return func(r *Resolver) { r.context = t }
}

// WithAdapter wires the learned-bias store: shortcuts, pronunciation
// rewrites, app-preference tie-breaks.
func WithAdapter(a *adapt.Adapter) Option {
	return func(r *Resolver) { r.adapter = a }
}

// WithAnalytics wires the usage tracker for recency/frequency bonuses.
func WithAnalytics(t *analytics.Tracker) Option {
	return func(r *Resolver) { r.usage = t }
}

// WithSuggester wires the below-floor suggestion builder.
func WithSuggester(s *recovery.Suggester) Option {
	return func(r *Resolver) { r.suggester = s }
}

// WithSemanticBackend wires the embedding provider and vector index behind
// the semantic stage. Without it the stage is disabled regardless of
// configuration.
func WithSemanticBackend(p embeddings.Provider, idx semindex.Index) Option {
	return func(r *Resolver) {
		r.provider = p
		r.semIndex = idx
	}
}

// WithConfirmationTTL sets how long a confirm-tier resolution waits for an
// answer before it cancels itself. Default 12s.
func WithConfirmationTTL(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.confirmTTL = d
		}
	}
}

// New builds a Resolver over the given registry with the matching
// configuration applied. Use the options to wire optional collaborators.
func New(registry *command.Registry, cfg config.MatchingConfig, opts ...Option) *Resolver {
	r := &Resolver{
		registry:   registry,
		norm:       normalize.New(),
		router:     router.New(),
		logger:     slog.Default(),
		metrics:    observe.DefaultMetrics(),
		confirmTTL: 12 * time.Second,
		pending:    make(map[string]*pendingConfirmation),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pipeline = r.buildPipeline(cfg)
	return r
}

// Reconfigure swaps the matching thresholds, weights, and tier boundaries.
// In-flight resolutions finish on the pipeline they started with.
func (r *Resolver) Reconfigure(cfg config.MatchingConfig) {
	p := r.buildPipeline(cfg)
	r.mu.Lock()
	r.pipeline = p
	r.mu.Unlock()
	r.logger.Info("resolver reconfigured",
		"fuzzy_threshold", cfg.FuzzyThreshold,
		"semantic_threshold", cfg.SemanticThreshold,
		"min_confidence", cfg.MinConfidence,
		"semantic", cfg.UseSemanticFallback && r.provider != nil,
		"grammar", cfg.UseGrammarPatterns)
}

func (r *Resolver) buildPipeline(cfg config.MatchingConfig) pipeline {
	p := pipeline{
		exact: match.NewExact(),
		fuzzy: match.NewFuzzy(
			match.WithFuzzyThreshold(cfg.FuzzyThreshold),
		),
		phonetic: match.NewPhonetic(),
		engine: score.New(
			score.WithWeights(score.Weights{
				Exact:    cfg.Weights.Exact,
				Fuzzy:    cfg.Weights.Fuzzy,
				Phonetic: cfg.Weights.Phonetic,
				Semantic: cfg.Weights.Semantic,
				Context:  cfg.Weights.Context,
				Grammar:  cfg.Weights.Grammar,
			}),
			score.WithFloor(cfg.MinConfidence),
			score.WithEpsilon(cfg.AmbiguityEpsilon),
			score.WithLogger(r.logger),
		),
		policy: policy.New(),
	}
	if cfg.UseGrammarPatterns {
		p.grammar = match.NewGrammar(match.WithGrammarLogger(r.logger))
	}
	if cfg.UseSemanticFallback && r.provider != nil && r.semIndex != nil {
		p.semantic = match.NewSemantic(r.provider, r.semIndex,
			match.WithSemanticThreshold(cfg.SemanticThreshold))
	}
	return p
}

func (r *Resolver) snapshot() pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipeline
}

// Resolve runs the full pipeline for one utterance.
//
// Every matched outcome, including "nothing matched", comes back as a
// resolution in one of the four tiers. The only error is the cold-start
// case: no command index has been published yet
// ([command.ErrIndexUnavailable]), in which case the utterance should be
// retried after the registry loads.
func (r *Resolver) Resolve(ctx context.Context, utt types.Utterance) (types.Resolution, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "resolver.Resolve")
	defer span.End()

	idx, err := r.registry.Snapshot()
	if err != nil {
		r.smu.Lock()
		r.stats.Deferred++
		r.smu.Unlock()
		r.logger.Info("resolution deferred, no command index yet", "utterance_id", utt.ID)
		return types.Resolution{}, fmt.Errorf("resolver: %w", err)
	}

	at := utt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	if res, handled := r.interceptConfirmation(utt, start); handled {
		return res, nil
	}

	norm := r.norm.Normalize(utt.Text)
	text := norm.Text

	if r.context != nil && !norm.Verbatim {
		if rewritten, ok := r.context.ResolvePronoun(text); ok {
			r.logger.Debug("pronoun resolved",
				"utterance_id", utt.ID, "from", text, "to", rewritten)
			norm = r.norm.Normalize(rewritten)
			text = norm.Text
			r.smu.Lock()
			r.stats.PronounRewrites++
			r.smu.Unlock()
		}
	}

	var adaptState score.AdaptState
	if r.adapter != nil {
		if intent, ok := r.adapter.ShortcutIntent(text); ok {
			adaptState.ShortcutIntent = intent
			r.smu.Lock()
			r.stats.ShortcutHits++
			r.smu.Unlock()
		}
		if rewritten, corrected := r.adapter.Rewrite(text); rewritten != "" {
			r.logger.Debug("pronunciation bias applied",
				"utterance_id", utt.ID, "from", text, "to", rewritten)
			norm = r.norm.Normalize(rewritten)
			text = norm.Text
			adaptState.Boost = boostFor(corrected, idx)
		}
	}

	route := r.router.Route(text)
	p := r.snapshot()
	cands := r.runMatchers(ctx, p, text, route, idx)

	state := r.contextState(cands, idx)
	result, rankErr := p.engine.Rank(cands, state, adaptState, len(norm.Tokens), utt.Confidence)

	if rankErr != nil && !errors.Is(rankErr, score.ErrAmbiguousTie) {
		// Below floor, or nothing to rank at all.
		return r.suggestResolution(ctx, utt, text, idx, at, start, rankErr), nil
	}
	if len(result.Scores) == 0 {
		return r.suggestResolution(ctx, utt, text, idx, at, start, nil), nil
	}

	if result.Ambiguous {
		r.breakAppTie(&result, idx, at)
	}

	best := result.Best
	danger := r.dangerOf(result, idx)
	dec := p.policy.Decide(best, result.Ambiguous, danger)

	res := types.Resolution{
		ID:          uuid.NewString(),
		UtteranceID: utt.ID,
		IntentID:    best.IntentID,
		Slots:       best.Slots,
		Tier:        dec.Tier,
		Confidence:  best.Confidence,
		Breakdown:   breakdownStrings(best.Breakdown),
		Danger:      danger,
		Ack:         dec.Ack,
		Elapsed:     time.Since(start),
	}

	res, confirmName := r.resolveHistoryIntents(res, idx)

	if res.Tier == types.TierConfirm {
		if confirmName == "" {
			confirmName = policy.SpokenName(best)
		}
		r.park(res, confirmName, text, best)
	}

	r.recordOutcome(ctx, res, best)
	r.logger.Info("utterance resolved",
		"utterance_id", utt.ID,
		"intent", res.IntentID,
		"tier", res.Tier.String(),
		"confidence", res.Confidence,
		"method", string(best.PrimaryMethod),
		"elapsed", res.Elapsed)
	return res, nil
}

// runMatchers evaluates the local stages in parallel, then the semantic
// stage unless a confident route plus execution-grade local evidence makes
// it redundant. Stage errors shrink the candidate set, never fail the pass.
func (r *Resolver) runMatchers(ctx context.Context, p pipeline, text string, route router.Result, idx *command.Index) []match.Candidate {
	stages := []match.Matcher{p.exact, p.fuzzy, p.phonetic}
	if p.grammar != nil {
		stages = append(stages, p.grammar)
	}

	results := make([][]match.Candidate, len(stages))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range stages {
		g.Go(func() error {
			stageStart := time.Now()
			cands, err := m.Match(gctx, text, idx)
			r.metrics.RecordMatchDuration(gctx, string(m.Method()), time.Since(stageStart).Seconds())
			if err != nil {
				r.stageError(m.Method(), err)
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	var cands []match.Candidate
	for _, rs := range results {
		cands = append(cands, rs...)
	}

	if p.semantic != nil {
		if route.SkipSemantic && bestRawScore(cands) >= semanticSkipScore {
			r.smu.Lock()
			r.stats.SemanticSkips++
			r.smu.Unlock()
		} else {
			stageStart := time.Now()
			semCands, err := p.semantic.Match(ctx, text, idx)
			r.metrics.RecordMatchDuration(ctx, string(match.MethodSemantic), time.Since(stageStart).Seconds())
			if err != nil {
				r.stageError(match.MethodSemantic, err)
			} else {
				cands = append(cands, semCands...)
			}
		}
	}

	if route.Routed() {
		r.checkRouteAgreement(route, cands, idx, text)
	}
	return cands
}

func (r *Resolver) stageError(method match.Method, err error) {
	r.smu.Lock()
	r.stats.StageErrors++
	r.smu.Unlock()
	r.logger.Warn("matching stage failed, continuing without it",
		"method", string(method), "error", err)
}

// checkRouteAgreement logs candidates that landed outside the routed
// category. A disagreement is a routing defect worth seeing in logs, but
// the candidate stands: matchers outrank the router.
func (r *Resolver) checkRouteAgreement(route router.Result, cands []match.Candidate, idx *command.Index, text string) {
	seen := make(map[string]bool)
	for _, c := range cands {
		if seen[c.IntentID] {
			continue
		}
		seen[c.IntentID] = true
		def, ok := idx.Lookup(c.IntentID)
		if ok && def.Category != route.Category {
			r.logger.Debug("candidate outside routed category",
				"text", text,
				"intent", c.IntentID,
				"candidate_category", string(def.Category),
				"routed_category", string(route.Category))
		}
	}
}

// bestRawScore is the highest stage-local score among exact, grammar, and
// fuzzy candidates. Phonetic evidence is too coarse to justify skipping the
// semantic stage on its own.
func bestRawScore(cands []match.Candidate) float64 {
	best := 0.0
	for _, c := range cands {
		switch c.Method {
		case match.MethodExact, match.MethodGrammar, match.MethodFuzzy:
			if c.Score > best {
				best = c.Score
			}
		}
	}
	return best
}

// contextState assembles the per-intent context bonuses for the candidates
// of this pass: desktop-mode affinity by category plus usage recency and
// frequency by intent.
func (r *Resolver) contextState(cands []match.Candidate, idx *command.Index) score.ContextState {
	var state score.ContextState
	if r.context == nil && r.usage == nil {
		return state
	}

	bonus := make(map[string]float64)
	seen := make(map[string]bool)
	for _, c := range cands {
		if seen[c.IntentID] {
			continue
		}
		seen[c.IntentID] = true
		b := 0.0
		if r.context != nil {
			if def, ok := idx.Lookup(c.IntentID); ok {
				b += r.context.Bonus(def.Category)
			}
		}
		if r.usage != nil {
			b += r.usage.ContextBonus(c.IntentID)
		}
		if b > 0 {
			bonus[c.IntentID] = b
		}
	}
	if len(bonus) > 0 {
		state.Bonus = bonus
	}
	if r.context != nil {
		state.LastUsed = r.context.LastUsed()
	}
	return state
}

// breakAppTie resolves an ambiguous tie between two app-control candidates
// using the learned time-of-day app preference. It is a tie-break only: it
// runs after every textual rule has failed to separate the pair.
func (r *Resolver) breakAppTie(result *score.Result, idx *command.Index, at time.Time) {
	if r.adapter == nil || len(result.Scores) < 2 {
		return
	}
	first, second := result.Scores[0], result.Scores[1]
	d1, ok1 := idx.Lookup(first.IntentID)
	d2, ok2 := idx.Lookup(second.IntentID)
	if !ok1 || !ok2 ||
		d1.Category != command.CategoryAppControl ||
		d2.Category != command.CategoryAppControl {
		return
	}
	pref, ok := r.adapter.PreferredApp(at)
	if !ok {
		return
	}
	m1 := mentionsApp(first, pref)
	m2 := mentionsApp(second, pref)
	if m1 == m2 {
		return
	}
	if m2 {
		result.Scores[0], result.Scores[1] = second, first
		result.Best = second
	}
	result.Ambiguous = false
	r.logger.Debug("ambiguous app tie broken by time-of-day preference",
		"preferred_app", pref, "winner", result.Best.IntentID)
}

func mentionsApp(s score.CompositeScore, app string) bool {
	return strings.Contains(s.IntentID, app) || strings.Contains(s.Phrase, app)
}

// dangerOf reports whether the winner, or either side of an ambiguous tie,
// carries the danger flag.
func (r *Resolver) dangerOf(result score.Result, idx *command.Index) bool {
	if def, ok := idx.Lookup(result.Best.IntentID); ok && def.Danger {
		return true
	}
	if result.Ambiguous && len(result.Scores) > 1 {
		if def, ok := idx.Lookup(result.Scores[1].IntentID); ok && def.Danger {
			return true
		}
	}
	return false
}

// resolveHistoryIntents rewrites the repeat and undo intents against the
// context history. The returned resolution names the concrete intent to run
// again (or the undo target); an empty history downgrades to a suggest-tier
// answer instead of executing nothing. The second return is the spoken name
// to confirm with when a dangerous repeat forces the confirm tier.
func (r *Resolver) resolveHistoryIntents(res types.Resolution, idx *command.Index) (types.Resolution, string) {
	if r.context == nil {
		return res, ""
	}
	var confirmName string
	switch res.IntentID {
	case repeatIntentID:
		rec, ok := r.context.Last()
		if !ok {
			res.IntentID = ""
			res.Slots = nil
			res.Tier = types.TierSuggest
			res.Ack = "Nothing to repeat yet."
			return res, ""
		}
		res.IntentID = rec.IntentID
		res.Slots = rec.Slots
		name := spokenPhrase(rec.IntentID, rec.Phrase)
		if def, defOK := idx.Lookup(rec.IntentID); defOK && def.Danger {
			res.Danger = true
			res.Tier = types.TierConfirm
			res.Ack = fmt.Sprintf("Should I repeat %s?", name)
			confirmName = name
		} else {
			res.Tier = types.TierAcknowledge
			res.Ack = policy.Acknowledgment(name)
		}
		r.smu.Lock()
		r.stats.Repeats++
		r.smu.Unlock()
		r.logger.Debug("repeat resolved from history", "intent", res.IntentID)

	case undoIntentID:
		rec, ok := r.context.LastUndoable()
		if !ok {
			res.IntentID = ""
			res.Slots = nil
			res.Tier = types.TierSuggest
			res.Ack = "Nothing to undo."
			return res, ""
		}
		if res.Slots == nil {
			res.Slots = types.Slots{}
		}
		res.Slots["target"] = rec.IntentID
		res.Tier = types.TierAcknowledge
		res.Ack = fmt.Sprintf("Undoing %s.", spokenPhrase(rec.IntentID, rec.Phrase))
		r.logger.Debug("undo resolved from history", "target", rec.IntentID)
	}
	return res, confirmName
}

func spokenPhrase(intentID, phrase string) string {
	if phrase != "" {
		return phrase
	}
	return strings.ReplaceAll(intentID, "_", " ")
}

// suggestResolution builds the below-floor answer: ranked near-misses plus
// a spoken hint.
func (r *Resolver) suggestResolution(ctx context.Context, utt types.Utterance, text string, idx *command.Index, at time.Time, start time.Time, cause error) types.Resolution {
	var suggestions []types.Suggestion
	if r.suggester != nil {
		suggestions = r.suggester.Suggest(ctx, text, idx, at)
	}

	reason := "no_candidate"
	if errors.Is(cause, score.ErrBelowFloor) {
		reason = "below_floor"
	}
	r.metrics.RecordResolutionFailure(ctx, reason)

	res := types.Resolution{
		ID:          uuid.NewString(),
		UtteranceID: utt.ID,
		Tier:        types.TierSuggest,
		Ack:         policy.SuggestPrompt(suggestions),
		Suggestions: suggestions,
		Elapsed:     time.Since(start),
	}
	r.recordOutcome(ctx, res, score.CompositeScore{})
	r.logger.Info("utterance not recognized",
		"utterance_id", utt.ID,
		"text", text,
		"reason", reason,
		"suggestions", len(suggestions))
	return res
}

func (r *Resolver) recordOutcome(ctx context.Context, res types.Resolution, best score.CompositeScore) {
	r.metrics.RecordResolution(ctx, res.Tier.String(), string(best.PrimaryMethod))

	r.smu.Lock()
	defer r.smu.Unlock()
	r.stats.Resolutions++
	if r.stats.ByTier == nil {
		r.stats.ByTier = make(map[string]uint64)
	}
	r.stats.ByTier[res.Tier.String()]++
	r.totalMs += res.Elapsed.Seconds() * 1000
	r.stats.AvgElapsedMs = r.totalMs / float64(r.stats.Resolutions)
}

// Stats returns a snapshot of the rolling counters.
func (r *Resolver) Stats() Stats {
	r.pmu.Lock()
	pending := len(r.pending)
	r.pmu.Unlock()

	r.smu.Lock()
	defer r.smu.Unlock()
	s := r.stats
	s.Pending = pending
	s.ByTier = make(map[string]uint64, len(r.stats.ByTier))
	for k, v := range r.stats.ByTier {
		s.ByTier[k] = v
	}
	return s
}

// Summary returns a one-line operator view.
func (r *Resolver) Summary() string {
	s := r.Stats()
	return fmt.Sprintf("resolutions=%d deferred=%d semantic_skips=%d pending_confirmations=%d avg_ms=%.1f",
		s.Resolutions, s.Deferred, s.SemanticSkips, s.Pending, s.AvgElapsedMs)
}

// boostFor spreads the corrected-token lift over the intents whose phrases
// contain a corrected token. Only those intents had their fuzzy and
// phonetic evidence distorted by the original mispronunciation.
func boostFor(corrected []string, idx *command.Index) map[string]float64 {
	if len(corrected) == 0 {
		return nil
	}
	boost := make(map[string]float64)
	for _, p := range idx.Phrases() {
		for _, tok := range corrected {
			if containsToken(p.Text, tok) {
				boost[p.IntentID] += correctionBoost
				break
			}
		}
	}
	if len(boost) == 0 {
		return nil
	}
	return boost
}

func containsToken(phrase, tok string) bool {
	for _, w := range strings.Fields(phrase) {
		if w == tok {
			return true
		}
	}
	return false
}

func breakdownStrings(in map[match.Method]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for m, v := range in {
		out[string(m)] = v
	}
	return out
}
