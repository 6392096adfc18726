package resolver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/internal/policy"
	"github.com/MrWong99/earshot/internal/score"
	"github.com/MrWong99/earshot/pkg/types"
)

// ErrNoPendingConfirmation is returned by [Resolver.Confirm] and
// [Resolver.Cancel] when the id names no live confirmation. Expired and
// already-answered confirmations are gone, not failed.
var ErrNoPendingConfirmation = errors.New("resolver: no pending confirmation with that id")

// affirmations and negations are matched against the raw utterance after
// light cleanup only. The full normalizer strips "okay" as greeting noise,
// which is exactly the word a confirmation needs to hear.
var (
	affirmations = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true,
		"sure": true, "okay": true, "ok": true,
		"confirm": true, "confirmed": true, "affirmative": true,
		"do it": true, "go ahead": true, "yes please": true,
	}
	negations = map[string]bool{
		"no": true, "nope": true, "negative": true,
		"cancel": true, "stop": true,
		"never mind": true, "nevermind": true,
		"do not": true, "don't": true,
	}
)

// PendingInfo describes one parked confirmation for status surfaces.
type PendingInfo struct {
	ID        string    `json:"id"`
	IntentID  string    `json:"intent_id"`
	Question  string    `json:"question"`
	ExpiresAt time.Time `json:"expires_at"`
}

// pendingConfirmation is one confirm-tier resolution waiting for an answer.
type pendingConfirmation struct {
	res        types.Resolution
	spokenName string
	utterance  string // normalized text that produced the match
	best       score.CompositeScore
	createdAt  time.Time
	deadline   time.Time
	timer      *time.Timer
}

// park registers a confirm-tier resolution and arms its deadline. The
// resolution's own ID is the confirmation key. The normalized utterance and
// the winning score travel along so an acceptance can be learned from.
func (r *Resolver) park(res types.Resolution, spokenName, utterance string, best score.CompositeScore) {
	now := time.Now()

	r.pmu.Lock()
	ttl := r.confirmTTL
	p := &pendingConfirmation{
		res:        res,
		spokenName: spokenName,
		utterance:  utterance,
		best:       best,
		createdAt:  now,
		deadline:   now.Add(ttl),
	}
	p.timer = time.AfterFunc(ttl, func() { r.expire(res.ID) })
	r.pending[res.ID] = p
	r.pmu.Unlock()

	r.logger.Debug("confirmation parked",
		"resolution_id", res.ID,
		"intent", res.IntentID,
		"deadline", p.deadline)
}

// expire drops a confirmation whose deadline passed unanswered.
func (r *Resolver) expire(id string) {
	r.pmu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.pmu.Unlock()
	if !ok {
		return
	}

	r.smu.Lock()
	r.stats.Expired++
	r.smu.Unlock()
	r.logger.Info("confirmation expired unanswered",
		"resolution_id", id, "intent", p.res.IntentID)
}

// interceptConfirmation handles an utterance arriving while confirmations
// are outstanding. An affirmative answer releases the parked resolution at
// the acknowledge tier; a negative answer cancels it; anything else cancels
// every outstanding confirmation and lets the utterance resolve normally.
func (r *Resolver) interceptConfirmation(utt types.Utterance, start time.Time) (types.Resolution, bool) {
	r.pmu.Lock()
	if len(r.pending) == 0 {
		r.pmu.Unlock()
		return types.Resolution{}, false
	}

	answer := cleanAnswer(utt.Text)
	switch {
	case affirmations[answer]:
		p := r.popNewestLocked()
		r.pmu.Unlock()
		res := r.release(p)
		r.logger.Info("confirmation accepted",
			"resolution_id", res.ID, "intent", res.IntentID, "answer", answer)
		return res, true

	case negations[answer]:
		p := r.popNewestLocked()
		r.pmu.Unlock()
		p.timer.Stop()
		r.smu.Lock()
		r.stats.Cancelled++
		r.smu.Unlock()
		r.logger.Info("confirmation declined",
			"resolution_id", p.res.ID, "intent", p.res.IntentID, "answer", answer)
		return types.Resolution{
			ID:          uuid.NewString(),
			UtteranceID: utt.ID,
			Tier:        types.TierSuggest,
			Ack:         "Cancelled.",
			Elapsed:     time.Since(start),
		}, true

	default:
		// A new command supersedes the question. No partial execution:
		// everything parked is dropped before the new utterance resolves.
		dropped := len(r.pending)
		for id, p := range r.pending {
			p.timer.Stop()
			delete(r.pending, id)
		}
		r.pmu.Unlock()
		r.smu.Lock()
		r.stats.Cancelled += uint64(dropped)
		r.smu.Unlock()
		r.logger.Info("pending confirmations cancelled by new utterance",
			"dropped", dropped)
		return types.Resolution{}, false
	}
}

// popNewestLocked removes and returns the most recently parked
// confirmation. Callers hold pmu. There is normally exactly one.
func (r *Resolver) popNewestLocked() *pendingConfirmation {
	var (
		newest   *pendingConfirmation
		newestID string
	)
	for id, p := range r.pending {
		if newest == nil || p.createdAt.After(newest.createdAt) {
			newest = p
			newestID = id
		}
	}
	delete(r.pending, newestID)
	return newest
}

// release upgrades a parked resolution for execution: acknowledge tier with
// a spoken progress phrase instead of the original question. An accepted
// confirmation doubles as a labeled example and feeds the adaptation store.
func (r *Resolver) release(p *pendingConfirmation) types.Resolution {
	p.timer.Stop()
	res := p.res
	res.Tier = types.TierAcknowledge
	res.Ack = policy.Acknowledgment(p.spokenName)

	r.smu.Lock()
	r.stats.Confirmed++
	r.smu.Unlock()

	r.learnFromAcceptance(p)
	return res
}

// learnFromAcceptance feeds an accepted confirmation back into the
// adaptation store. Accepting "Did you mean X?" is ground truth: a fuzzy or
// phonetic match means the utterance was a mishearing of the canonical
// phrase, and a semantic match means it was a new phrasing worth a shortcut.
// Verbatim danger confirmations carry no signal — the utterance and the
// phrase are equal.
func (r *Resolver) learnFromAcceptance(p *pendingConfirmation) {
	utt, phrase := p.utterance, p.best.Phrase
	if utt == "" || phrase == "" || utt == phrase {
		return
	}

	// The answer arrives on its own request context, or none at all for
	// API accepts; the learned pair must land regardless.
	ctx := context.Background()

	switch p.best.PrimaryMethod {
	case match.MethodFuzzy, match.MethodPhonetic:
		if r.usage != nil {
			r.usage.RecordMisrecognition(utt, phrase)
		}
		if r.adapter == nil {
			return
		}
		if err := r.adapter.RecordCorrection(ctx, utt, phrase); err != nil {
			r.logger.Warn("correction not recorded",
				"heard", utt, "meant", phrase, "error", err)
		}

	case match.MethodSemantic:
		// A shortcut replays neither slots nor a history rewrite, so
		// only a plain paraphrase of the resolved intent binds.
		if r.adapter == nil || len(p.best.Slots) > 0 || p.res.IntentID != p.best.IntentID {
			return
		}
		if err := r.adapter.AddShortcut(ctx, utt, p.best.IntentID); err != nil {
			r.logger.Warn("shortcut not recorded",
				"phrase", utt, "intent", p.best.IntentID, "error", err)
		}
	}
}

// Confirm releases the confirmation with the given id for execution. The
// returned resolution is executable; the caller submits it to dispatch.
func (r *Resolver) Confirm(id string) (types.Resolution, error) {
	r.pmu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.pmu.Unlock()
	if !ok {
		return types.Resolution{}, ErrNoPendingConfirmation
	}

	res := r.release(p)
	r.logger.Info("confirmation accepted via api",
		"resolution_id", res.ID, "intent", res.IntentID)
	return res, nil
}

// Cancel drops the confirmation with the given id.
func (r *Resolver) Cancel(id string) error {
	r.pmu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.pmu.Unlock()
	if !ok {
		return ErrNoPendingConfirmation
	}

	p.timer.Stop()
	r.smu.Lock()
	r.stats.Cancelled++
	r.smu.Unlock()
	r.logger.Info("confirmation cancelled via api",
		"resolution_id", p.res.ID, "intent", p.res.IntentID)
	return nil
}

// SetConfirmationTTL changes the answer deadline for confirmations parked
// from now on. Already-parked confirmations keep their original deadline.
// Non-positive values are ignored.
func (r *Resolver) SetConfirmationTTL(d time.Duration) {
	if d <= 0 {
		return
	}
	r.pmu.Lock()
	r.confirmTTL = d
	r.pmu.Unlock()
}

// Pending lists the outstanding confirmations, soonest deadline first.
func (r *Resolver) Pending() []PendingInfo {
	r.pmu.Lock()
	defer r.pmu.Unlock()

	out := make([]PendingInfo, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, PendingInfo{
			ID:        p.res.ID,
			IntentID:  p.res.IntentID,
			Question:  p.res.Ack,
			ExpiresAt: p.deadline,
		})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ExpiresAt.Before(out[j-1].ExpiresAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// cleanAnswer lowers and trims an utterance for yes/no comparison without
// running the filler stripper.
func cleanAnswer(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = strings.Trim(text, ".,!?")
	return strings.Join(strings.Fields(text), " ")
}
