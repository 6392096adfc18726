// Package adapt is the learned-bias layer: it remembers how this user
// mispronounces things, which phrases they want bound to intents, and which
// applications they reach for at which time of day.
//
// Three record kinds exist, all append-or-increment:
//
//   - corrections: a misrecognized utterance paired with what the user
//     actually meant. A correction becomes an active pronunciation bias
//     only after it repeats a configurable number of times (default 2),
//     and only for word-aligned token pairs.
//   - shortcuts: a full phrase bound directly to an intent id. Active
//     immediately; the resolver scores a shortcut hit at exact-match level.
//   - app usage: per-(application, time-of-day bucket) counters. Read only
//     to break ties between otherwise equal app candidates, never to
//     override a clear textual match.
//
// State is rebuilt on startup by replaying the backing [Store]. Writes go
// through one writer at a time; resolution passes read concurrently.
package adapt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Kind discriminates the record union persisted by a [Store].
type Kind string

const (
	KindCorrection Kind = "correction"
	KindShortcut   Kind = "shortcut"
	KindAppUsage   Kind = "app_usage"
)

// Bucket is a coarse time-of-day slot for app-usage statistics.
type Bucket string

const (
	BucketMorning   Bucket = "morning"   // 05:00–11:59
	BucketAfternoon Bucket = "afternoon" // 12:00–16:59
	BucketEvening   Bucket = "evening"   // 17:00–21:59
	BucketNight     Bucket = "night"     // 22:00–04:59
)

// BucketOf returns the time-of-day bucket for t (local hour).
func BucketOf(t time.Time) Bucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 12:
		return BucketMorning
	case h >= 12 && h < 17:
		return BucketAfternoon
	case h >= 17 && h < 22:
		return BucketEvening
	default:
		return BucketNight
	}
}

// Record is one persisted adaptation event. Which fields are set depends on
// Kind. Count and FirstAt are only populated by stores that replay
// aggregated state (a zero Count replays as one occurrence).
type Record struct {
	Kind     Kind      `json:"kind"`
	Wrong    string    `json:"wrong,omitempty"`
	Correct  string    `json:"correct,omitempty"`
	Phrase   string    `json:"phrase,omitempty"`
	IntentID string    `json:"intent_id,omitempty"`
	App      string    `json:"app,omitempty"`
	Bucket   Bucket    `json:"bucket,omitempty"`
	Count    int       `json:"count,omitempty"`
	At       time.Time `json:"at"`
	FirstAt  time.Time `json:"first_at,omitzero"`
}

// Store persists adaptation records across sessions.
type Store interface {
	// Append durably records one event.
	Append(ctx context.Context, rec Record) error

	// Replay streams every persisted record, oldest first, into fn.
	Replay(ctx context.Context, fn func(Record) error) error

	// Close releases the store.
	Close() error
}

// Correction is the aggregated view of one (wrong, correct) pair.
type Correction struct {
	Wrong     string
	Correct   string
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// DefaultRepeatThreshold is how often the same correction must repeat
// before it is promoted to an active pronunciation bias.
const DefaultRepeatThreshold = 2

// Adapter holds the live adaptation state and funnels writes through the
// backing store. Safe for concurrent use.
type Adapter struct {
	store     Store
	threshold int
	logger    *slog.Logger

	mu             sync.RWMutex
	corrections    map[string]*Correction // "wrong|correct"
	pronunciations map[string]string      // spoken token → corrected token
	shortcuts      map[string]string      // phrase → intent id
	appStats       map[Bucket]map[string]int
}

// Option configures an [Adapter].
type Option func(*Adapter)

// WithRepeatThreshold sets the promotion threshold for corrections
// (default [DefaultRepeatThreshold]). Values below 1 are ignored.
func WithRepeatThreshold(n int) Option {
	return func(a *Adapter) {
		if n >= 1 {
			a.threshold = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// SetRepeatThreshold changes the promotion threshold for corrections
// observed from now on. Already-promoted pronunciations stay promoted.
// Values below 1 are ignored.
func (a *Adapter) SetRepeatThreshold(n int) {
	if n < 1 {
		return
	}
	a.mu.Lock()
	a.threshold = n
	a.mu.Unlock()
}

// New builds an Adapter and replays the store into memory. A nil store
// keeps all state in memory only, which loses it on restart.
func New(ctx context.Context, store Store, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		store:          store,
		threshold:      DefaultRepeatThreshold,
		logger:         slog.Default(),
		corrections:    make(map[string]*Correction),
		pronunciations: make(map[string]string),
		shortcuts:      make(map[string]string),
		appStats:       make(map[Bucket]map[string]int),
	}
	for _, opt := range opts {
		opt(a)
	}

	if store != nil {
		err := store.Replay(ctx, func(rec Record) error {
			a.apply(rec)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("adapt: replay: %w", err)
		}
	}

	a.logger.Info("adaptation state loaded",
		"pronunciations", len(a.pronunciations),
		"shortcuts", len(a.shortcuts),
		"corrections", len(a.corrections))
	return a, nil
}

// apply folds one record into the in-memory state. Callers hold mu (or, at
// construction time, exclusive ownership).
func (a *Adapter) apply(rec Record) {
	switch rec.Kind {
	case KindCorrection:
		key := rec.Wrong + "|" + rec.Correct
		c := a.corrections[key]
		if c == nil {
			c = &Correction{Wrong: rec.Wrong, Correct: rec.Correct}
			a.corrections[key] = c
		}
		n := rec.Count
		if n <= 0 {
			n = 1
		}
		c.Count += n
		first := rec.FirstAt
		if first.IsZero() {
			first = rec.At
		}
		if c.FirstSeen.IsZero() || first.Before(c.FirstSeen) {
			c.FirstSeen = first
		}
		if rec.At.After(c.LastSeen) {
			c.LastSeen = rec.At
		}
		if c.Count >= a.threshold {
			a.promote(rec.Wrong, rec.Correct)
		}
	case KindShortcut:
		a.shortcuts[rec.Phrase] = rec.IntentID
	case KindAppUsage:
		bucket := rec.Bucket
		if bucket == "" {
			bucket = BucketOf(rec.At)
		}
		stats := a.appStats[bucket]
		if stats == nil {
			stats = make(map[string]int)
			a.appStats[bucket] = stats
		}
		n := rec.Count
		if n <= 0 {
			n = 1
		}
		stats[rec.App] += n
	}
}

// promote activates per-token pronunciation biases for a repeated
// correction. Only word-aligned pairs promote, and only for tokens longer
// than two characters, so "open crome" → "open chrome" teaches
// crome→chrome without touching "open".
func (a *Adapter) promote(wrong, correct string) {
	ww := strings.Fields(wrong)
	cw := strings.Fields(correct)
	if len(ww) != len(cw) {
		return
	}
	for i := range ww {
		if ww[i] == cw[i] || len(ww[i]) <= 2 {
			continue
		}
		if a.pronunciations[ww[i]] != cw[i] {
			a.pronunciations[ww[i]] = cw[i]
			a.logger.Info("promoted pronunciation", "spoken", ww[i], "correct", cw[i])
		}
	}
}

// ─── writes ─────────────────────────────────────────────────────────────────

// RecordCorrection records that the user corrected wrong to correct.
// Identical or empty pairs are dropped.
func (a *Adapter) RecordCorrection(ctx context.Context, wrong, correct string) error {
	wrong = strings.ToLower(strings.TrimSpace(wrong))
	correct = strings.ToLower(strings.TrimSpace(correct))
	if wrong == "" || correct == "" || wrong == correct {
		return nil
	}

	rec := Record{Kind: KindCorrection, Wrong: wrong, Correct: correct, At: time.Now().UTC()}
	a.mu.Lock()
	a.apply(rec)
	count := a.corrections[wrong+"|"+correct].Count
	a.mu.Unlock()

	a.logger.Debug("recorded correction", "wrong", wrong, "correct", correct, "count", count)
	return a.append(ctx, rec)
}

// AddShortcut binds a full phrase to an intent id, active immediately.
func (a *Adapter) AddShortcut(ctx context.Context, phrase, intentID string) error {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" || intentID == "" {
		return fmt.Errorf("adapt: shortcut needs phrase and intent id")
	}

	rec := Record{Kind: KindShortcut, Phrase: phrase, IntentID: intentID, At: time.Now().UTC()}
	a.mu.Lock()
	a.apply(rec)
	a.mu.Unlock()

	a.logger.Info("added shortcut", "phrase", phrase, "intent", intentID)
	return a.append(ctx, rec)
}

// RecordAppUsage counts one use of app in the time-of-day bucket of at.
func (a *Adapter) RecordAppUsage(ctx context.Context, app string, at time.Time) error {
	app = strings.ToLower(strings.TrimSpace(app))
	if app == "" {
		return nil
	}

	rec := Record{Kind: KindAppUsage, App: app, Bucket: BucketOf(at), At: at.UTC()}
	a.mu.Lock()
	a.apply(rec)
	a.mu.Unlock()

	return a.append(ctx, rec)
}

func (a *Adapter) append(ctx context.Context, rec Record) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("adapt: append %s: %w", rec.Kind, err)
	}
	return nil
}

// ─── reads ──────────────────────────────────────────────────────────────────

// ShortcutIntent returns the intent id a phrase is bound to, if any.
func (a *Adapter) ShortcutIntent(text string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.shortcuts[strings.ToLower(strings.TrimSpace(text))]
	return id, ok
}

// Rewrite substitutes promoted pronunciation biases token-wise and returns
// the rewritten text plus the corrected tokens now present in it. The
// second return is nil when nothing changed.
func (a *Adapter) Rewrite(text string) (string, []string) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.pronunciations) == 0 {
		return text, nil
	}

	words := strings.Fields(strings.ToLower(text))
	var corrected []string
	for i, w := range words {
		if c, ok := a.pronunciations[w]; ok {
			words[i] = c
			corrected = append(corrected, c)
		}
	}
	if corrected == nil {
		return text, nil
	}

	out := strings.Join(words, " ")
	a.logger.Debug("applied pronunciations", "from", text, "to", out)
	return out, corrected
}

// PreferredApp returns the most used app in the time-of-day bucket of at.
// Equal counts break lexicographically so the answer is stable.
func (a *Adapter) PreferredApp(at time.Time) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var best string
	bestN := 0
	for app, n := range a.appStats[BucketOf(at)] {
		if n > bestN || (n == bestN && n > 0 && (best == "" || app < best)) {
			best, bestN = app, n
		}
	}
	return best, bestN > 0
}

// Pronunciations returns a copy of the active pronunciation biases.
func (a *Adapter) Pronunciations() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.pronunciations))
	for k, v := range a.pronunciations {
		out[k] = v
	}
	return out
}

// Shortcuts returns a copy of the phrase → intent bindings.
func (a *Adapter) Shortcuts() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.shortcuts))
	for k, v := range a.shortcuts {
		out[k] = v
	}
	return out
}

// Corrections returns the aggregated corrections, most repeated first.
func (a *Adapter) Corrections() []Correction {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Correction, 0, len(a.corrections))
	for _, c := range a.corrections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Wrong < out[j].Wrong
	})
	return out
}

// Summary returns a one-line description for health detail and the startup
// log.
func (a *Adapter) Summary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return fmt.Sprintf("pronunciations=%d shortcuts=%d corrections=%d app_buckets=%d",
		len(a.pronunciations), len(a.shortcuts), len(a.corrections), len(a.appStats))
}
