// Package analytics tracks how commands are actually used during a daemon
// run: per-intent execution counts and outcomes, response times, hour-of-day
// patterns, a bounded most-recent list, and misrecognition pairs.
//
// Everything lives in memory and stays on the machine. The tracker feeds
// two consumers: the resolver reads recency/frequency bonuses as part of
// the context signal during scoring, and the recovery layer reads hour
// affinity to order otherwise-equal suggestions. Durable learned biases
// belong to the adapt package; this tracker is the per-run usage signal.
package analytics

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// recencyCap bounds the most-recent intent list.
	recencyCap = 20

	// recencyWindow is how many of the newest entries earn the recency
	// bonus.
	recencyWindow = 5

	// recencyBoost is granted when an intent appears in the recency
	// window.
	recencyBoost = 0.15

	// frequencyBoostFull is granted after more than five executions,
	// frequencyBoostHalf after more than two.
	frequencyBoostFull = 0.10
	frequencyBoostHalf = 0.05

	// priorityBoostCap bounds the usage-proportional priority boost.
	priorityBoostCap = 0.2

	// sessionsCap bounds the retained session list.
	sessionsCap = 100

	// failureMinSamples is the minimum execution count before a command
	// shows up in failure-rate rankings.
	failureMinSamples = 3
)

// CommandStats is the aggregated usage of one intent.
type CommandStats struct {
	IntentID      string
	Count         int
	Success       int
	Fail          int
	AvgResponseMs float64
	LastUsed      time.Time
	Hours         [24]int
}

// SessionStats summarizes one daemon session.
type SessionStats struct {
	Start           time.Time
	End             time.Time
	Commands        int
	Succeeded       int
	Failed          int
	TotalResponseMs float64
}

// CorrectionCount is one observed misrecognition target with its count.
type CorrectionCount struct {
	Correct string
	Count   int
}

// HourCount is one hour-of-day bucket with its total executions.
type HourCount struct {
	Hour  int
	Count int
}

// FailureRate is one intent's failure ratio.
type FailureRate struct {
	IntentID string
	Rate     float64
}

// Tracker collects usage analytics. Safe for concurrent use.
type Tracker struct {
	logger *slog.Logger

	mu              sync.RWMutex
	commands        map[string]*CommandStats
	recent          []string // newest last
	hourly          [24]int
	misrecognitions map[string]map[string]int
	sessions        []SessionStats
	current         *SessionStats
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New returns an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		logger:          slog.Default(),
		commands:        make(map[string]*CommandStats),
		misrecognitions: make(map[string]map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSession opens a new session window.
func (t *Tracker) StartSession(at time.Time) {
	t.mu.Lock()
	t.current = &SessionStats{Start: at}
	t.mu.Unlock()
	t.logger.Debug("analytics session started")
}

// EndSession closes the current session and retains it, oldest evicted
// beyond the cap.
func (t *Tracker) EndSession(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return
	}
	t.current.End = at
	t.sessions = append(t.sessions, *t.current)
	if len(t.sessions) > sessionsCap {
		t.sessions = t.sessions[len(t.sessions)-sessionsCap:]
	}
	t.current = nil
}

// RecordExecution records one completed execution of an intent.
func (t *Tracker) RecordExecution(intentID string, success bool, elapsed time.Duration, at time.Time) {
	if intentID == "" {
		return
	}
	ms := elapsed.Seconds() * 1000

	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.commands[intentID]
	if stats == nil {
		stats = &CommandStats{IntentID: intentID}
		t.commands[intentID] = stats
	}
	stats.Count++
	if success {
		stats.Success++
	} else {
		stats.Fail++
	}
	stats.AvgResponseMs += (ms - stats.AvgResponseMs) / float64(stats.Count)
	stats.LastUsed = at
	stats.Hours[at.Hour()]++
	t.hourly[at.Hour()]++

	t.recent = append(t.recent, intentID)
	if len(t.recent) > recencyCap {
		t.recent = t.recent[len(t.recent)-recencyCap:]
	}

	if t.current != nil {
		t.current.Commands++
		if success {
			t.current.Succeeded++
		} else {
			t.current.Failed++
		}
		t.current.TotalResponseMs += ms
	}
}

// RecordMisrecognition records that wrong was resolved when the user meant
// correct. Identical pairs are dropped.
func (t *Tracker) RecordMisrecognition(wrong, correct string) {
	if wrong == "" || correct == "" || wrong == correct {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.misrecognitions[wrong]
	if m == nil {
		m = make(map[string]int)
		t.misrecognitions[wrong] = m
	}
	m[correct]++
}

// ─── scoring inputs ─────────────────────────────────────────────────────────

// RecencyBoost returns the bonus for an intent executed within the last
// few commands.
func (t *Tracker) RecencyBoost(intentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	window := t.recent
	if len(window) > recencyWindow {
		window = window[len(window)-recencyWindow:]
	}
	for _, id := range window {
		if id == intentID {
			return recencyBoost
		}
	}
	return 0
}

// FrequencyBoost returns the bonus for an often-executed intent.
func (t *Tracker) FrequencyBoost(intentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := t.commands[intentID]
	if stats == nil {
		return 0
	}
	switch {
	case stats.Count > 5:
		return frequencyBoostFull
	case stats.Count > 2:
		return frequencyBoostHalf
	default:
		return 0
	}
}

// ContextBonus is the combined usage signal fed into scoring alongside the
// mode bonus. The scoring engine clamps and weights the total.
func (t *Tracker) ContextBonus(intentID string) float64 {
	return t.RecencyBoost(intentID) + t.FrequencyBoost(intentID)
}

// PriorityBoost returns a usage-proportional boost in [0, 0.2], scaled
// against the most-used intent.
func (t *Tracker) PriorityBoost(intentID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := t.commands[intentID]
	if stats == nil {
		return 0
	}
	maxCount := 0
	for _, s := range t.commands {
		if s.Count > maxCount {
			maxCount = s.Count
		}
	}
	if maxCount == 0 {
		return 0
	}
	boost := float64(stats.Count) / float64(maxCount) * priorityBoostCap
	if boost > priorityBoostCap {
		boost = priorityBoostCap
	}
	return boost
}

// HourAffinity returns the share of an intent's executions that fell in the
// given hour, in [0, 1].
func (t *Tracker) HourAffinity(intentID string, hour int) float64 {
	if hour < 0 || hour > 23 {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := t.commands[intentID]
	if stats == nil || stats.Count == 0 {
		return 0
	}
	return float64(stats.Hours[hour]) / float64(stats.Count)
}

// ─── introspection ──────────────────────────────────────────────────────────

// Stats returns a copy of one intent's aggregated usage.
func (t *Tracker) Stats(intentID string) (CommandStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := t.commands[intentID]
	if stats == nil {
		return CommandStats{}, false
	}
	return *stats, true
}

// TopCommands returns the n most executed intents, ties broken by id.
func (t *Tracker) TopCommands(n int) []CommandStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CommandStats, 0, len(t.commands))
	for _, s := range t.commands {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IntentID < out[j].IntentID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// FailureProne returns the n intents with the highest failure rate, skipping
// those with fewer than three executions.
func (t *Tracker) FailureProne(n int) []FailureRate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FailureRate, 0, len(t.commands))
	for _, s := range t.commands {
		if s.Count < failureMinSamples {
			continue
		}
		out = append(out, FailureRate{
			IntentID: s.IntentID,
			Rate:     float64(s.Fail) / float64(s.Count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rate != out[j].Rate {
			return out[i].Rate > out[j].Rate
		}
		return out[i].IntentID < out[j].IntentID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// PeakHours returns the n busiest hours of day.
func (t *Tracker) PeakHours(n int) []HourCount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]HourCount, 0, 24)
	for h, c := range t.hourly {
		if c > 0 {
			out = append(out, HourCount{Hour: h, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour < out[j].Hour
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Misrecognitions returns the observed targets for one wrong utterance,
// most frequent first.
func (t *Tracker) Misrecognitions(wrong string) []CorrectionCount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.misrecognitions[wrong]
	out := make([]CorrectionCount, 0, len(m))
	for correct, count := range m {
		out = append(out, CorrectionCount{Correct: correct, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Correct < out[j].Correct
	})
	return out
}

// Summary returns a one-line description for health detail and the startup
// log.
func (t *Tracker) Summary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total, success := 0, 0
	for _, s := range t.commands {
		total += s.Count
		success += s.Success
	}
	rate := 0.0
	if total > 0 {
		rate = float64(success) / float64(total) * 100
	}
	return fmt.Sprintf("intents=%d executions=%d success_rate=%.0f%% sessions=%d",
		len(t.commands), total, rate, len(t.sessions))
}
