// Package devctx tracks the session context the scoring engine draws on: the
// current desktop mode, a bounded history of executed commands, and the
// entities those commands touched.
//
// The tracker never observes the operating system itself. Mode transitions
// arrive as external signals (the foreground application changed), history
// entries are pushed by the dispatcher after a command completes, and both
// are read during the next resolution for context bonuses, pronoun
// resolution, and repeat-last lookup. Mutation is serialized against reads,
// so an in-flight resolution always sees a consistent snapshot.
package devctx

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/pkg/types"
)

// Mode is the coarse desktop activity the user is in, derived from the
// foreground application.
type Mode string

const (
	// ModeUnknown means no foreground signal has arrived yet. No category
	// earns a bonus in this mode.
	ModeUnknown Mode = ""

	// ModeBrowsing means a web browser holds the foreground.
	ModeBrowsing Mode = "browsing"

	// ModeCoding means an editor, IDE, or terminal holds the foreground.
	ModeCoding Mode = "coding"

	// ModeChatting means a messenger holds the foreground.
	ModeChatting Mode = "chatting"

	// ModeSystem means a system surface (settings, task manager) holds the
	// foreground.
	ModeSystem Mode = "system"

	// ModeFileManager means a file manager holds the foreground.
	ModeFileManager Mode = "file_manager"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeBrowsing, ModeCoding, ModeChatting, ModeSystem, ModeFileManager:
		return true
	default:
		return false
	}
}

// modeAffinity is the bonus a category earns when the current mode favours
// it.
const modeAffinity = 0.2

// modeBonuses maps each mode to the command categories it favours.
var modeBonuses = map[Mode]map[command.Category]float64{
	ModeBrowsing: {
		command.CategorySearch:     modeAffinity,
		command.CategoryNavigation: modeAffinity,
	},
	ModeCoding: {
		command.CategoryFileOperation: modeAffinity,
		command.CategoryClipboard:     modeAffinity,
		command.CategorySelection:     modeAffinity,
		command.CategoryDeveloper:     modeAffinity,
	},
	ModeChatting: {
		command.CategoryTyping: modeAffinity,
	},
	ModeSystem: {
		command.CategorySystem: modeAffinity,
	},
	ModeFileManager: {
		command.CategoryFileOperation: modeAffinity,
		command.CategoryNavigation:    modeAffinity,
	},
}

// appModes maps foreground application names to modes. Lookups strip a
// trailing ".exe" and lowercase first.
var appModes = map[string]Mode{
	"chrome":     ModeBrowsing,
	"firefox":    ModeBrowsing,
	"msedge":     ModeBrowsing,
	"edge":       ModeBrowsing,
	"safari":     ModeBrowsing,
	"brave":      ModeBrowsing,
	"code":       ModeCoding,
	"vscode":     ModeCoding,
	"goland":     ModeCoding,
	"intellij":   ModeCoding,
	"vim":        ModeCoding,
	"nvim":       ModeCoding,
	"terminal":   ModeCoding,
	"cmd":        ModeCoding,
	"powershell": ModeCoding,
	"slack":      ModeChatting,
	"discord":    ModeChatting,
	"teams":      ModeChatting,
	"telegram":   ModeChatting,
	"whatsapp":   ModeChatting,
	"explorer":   ModeFileManager,
	"finder":     ModeFileManager,
	"nautilus":   ModeFileManager,
	"taskmgr":    ModeSystem,
	"settings":   ModeSystem,
}

// EntityKind classifies what a history entity refers to, so pronoun
// resolution can bind "it" to the most recent entity of a compatible kind
// rather than the most recent record overall.
type EntityKind string

const (
	EntityApp    EntityKind = "app"
	EntityFolder EntityKind = "folder"
	EntityWindow EntityKind = "window"
)

// Entity is a concrete thing a command touched: an application name, a
// folder, a window.
type Entity struct {
	Kind  EntityKind
	Value string
}

// UndoFunc reverses an executed command.
type UndoFunc func(ctx context.Context) error

// Record is one executed command remembered by the tracker.
type Record struct {
	// IntentID names the executed intent.
	IntentID string

	// Phrase is the resolved utterance or canonical phrase, kept for
	// repeat-last and entity derivation.
	Phrase string

	// Slots carries the extracted slot values, when any.
	Slots types.Slots

	// Entity is what the command touched. Derived from Phrase and Slots
	// when left zero.
	Entity Entity

	// At is the completion time. Defaults to the push time when zero.
	At time.Time

	// Undo reverses the command when the executor supports that. May be
	// nil.
	Undo UndoFunc
}

// Tracker is the session context state machine. Safe for concurrent use.
type Tracker struct {
	logger   *slog.Logger
	capacity int

	mu      sync.RWMutex
	mode    Mode
	history []Record // oldest first
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithCapacity bounds the history ring (default 20). Oldest entries are
// evicted first.
func WithCapacity(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.capacity = n
		}
	}
}

// WithLogger sets the logger for mode transitions and history pushes.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker returns a Tracker in [ModeUnknown] with an empty history.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		logger:   slog.Default(),
		capacity: 20,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetCapacity rebounds the history ring, evicting oldest entries when the
// new capacity is smaller. Values below 1 are ignored.
func (t *Tracker) SetCapacity(n int) {
	if n < 1 {
		return
	}
	t.mu.Lock()
	t.capacity = n
	if len(t.history) > n {
		t.history = t.history[len(t.history)-n:]
	}
	t.mu.Unlock()
}

// SetMode records an externally observed mode transition. Invalid modes are
// ignored.
func (t *Tracker) SetMode(mode Mode) {
	if !mode.Valid() {
		t.logger.Warn("ignoring invalid mode", "mode", string(mode))
		return
	}
	t.mu.Lock()
	prev := t.mode
	t.mode = mode
	t.mu.Unlock()
	if prev != mode {
		t.logger.Info("mode transition", "from", string(prev), "to", string(mode))
	}
}

// ObserveApp records a foreground application change and transitions the
// mode when the application is a known one. It returns the mode in effect
// afterwards.
func (t *Tracker) ObserveApp(app string) Mode {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(app), ".exe"))
	if mode, ok := appModes[name]; ok {
		t.SetMode(mode)
	}
	return t.Mode()
}

// Mode returns the current mode.
func (t *Tracker) Mode() Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

// Bonus returns the context bonus the current mode grants a category.
func (t *Tracker) Bonus(cat command.Category) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return modeBonuses[t.mode][cat]
}

// Push appends an executed command to the history, evicting the oldest
// entry beyond capacity. A zero At is stamped with the current time and a
// zero Entity is derived from the phrase and slots.
func (t *Tracker) Push(rec Record) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	if rec.Entity.Kind == "" {
		rec.Entity = DeriveEntity(rec.Phrase, rec.Slots)
	}

	t.mu.Lock()
	t.history = append(t.history, rec)
	if len(t.history) > t.capacity {
		t.history = t.history[len(t.history)-t.capacity:]
	}
	t.mu.Unlock()

	t.logger.Debug("context history push",
		"intent", rec.IntentID,
		"entity_kind", string(rec.Entity.Kind),
		"entity", rec.Entity.Value)
}

// Last returns the most recent record, which a repeat/again intent replays.
func (t *Tracker) Last() (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.history) == 0 {
		return Record{}, false
	}
	return t.history[len(t.history)-1], true
}

// LastUndoable returns the most recent record carrying an undo handler.
func (t *Tracker) LastUndoable() (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.history) - 1; i >= 0; i-- {
		if t.history[i].Undo != nil {
			return t.history[i], true
		}
	}
	return Record{}, false
}

// LastUsed returns the most recent execution time per intent id, the
// recency input of the scoring tie-break.
func (t *Tracker) LastUsed() map[string]time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	used := make(map[string]time.Time, len(t.history))
	for _, rec := range t.history {
		if cur, ok := used[rec.IntentID]; !ok || rec.At.After(cur) {
			used[rec.IntentID] = rec.At
		}
	}
	return used
}

// History returns a copy of the history, oldest first.
func (t *Tracker) History() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Record, len(t.history))
	copy(out, t.history)
	return out
}

// Len returns the current history length.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.history)
}

// Summary returns a one-line description of the tracker state for health
// detail and the startup log.
func (t *Tracker) Summary() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mode := string(t.mode)
	if mode == "" {
		mode = "unknown"
	}
	if app, ok := t.latestEntityLocked(EntityApp); ok {
		return fmt.Sprintf("mode=%s last_app=%s history=%d", mode, app, len(t.history))
	}
	return fmt.Sprintf("mode=%s history=%d", mode, len(t.history))
}

// ─── pronoun resolution ─────────────────────────────────────────────────────

// Pronoun phrase sets. Keys are normalized utterances; each set binds to the
// entity kinds listed in its resolver case.
var (
	pronounClose = map[string]bool{
		"close it":   true,
		"close that": true,
		"close this": true,
	}
	pronounOpen = map[string]bool{
		"open it":         true,
		"open it again":   true,
		"reopen it":       true,
		"open that again": true,
	}
	pronounFolder = map[string]bool{
		"open last project": true,
		"open last folder":  true,
	}
	pronounWindow = map[string]bool{
		"minimize it":   true,
		"minimize that": true,
		"maximize it":   true,
		"maximize that": true,
		"restore it":    true,
	}
)

// ResolvePronoun rewrites a pronoun utterance ("close it") into a concrete
// one ("close chrome") by binding to the most recent history entity of a
// compatible kind. The rewritten utterance goes back through the normal
// matching pipeline. false means the text is not a pronoun phrase or no
// compatible entity exists yet.
func (t *Tracker) ResolvePronoun(text string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(text))

	switch {
	case pronounClose[key]:
		if app, ok := t.latestEntity(EntityApp); ok {
			return "close " + app, true
		}
	case pronounOpen[key]:
		if app, ok := t.latestEntity(EntityApp); ok {
			return "open " + app, true
		}
	case pronounFolder[key]:
		if folder, ok := t.latestEntity(EntityFolder); ok {
			return "open " + folder, true
		}
	case pronounWindow[key]:
		// A window is named by its application, so either kind binds.
		verb := strings.Fields(key)[0]
		if win, ok := t.latestEntity(EntityWindow, EntityApp); ok {
			return verb + " " + win, true
		}
	}
	return "", false
}

// latestEntity returns the newest history entity matching any of the kinds.
func (t *Tracker) latestEntity(kinds ...EntityKind) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latestEntityLocked(kinds...)
}

func (t *Tracker) latestEntityLocked(kinds ...EntityKind) (string, bool) {
	for i := len(t.history) - 1; i >= 0; i-- {
		for _, kind := range kinds {
			if t.history[i].Entity.Kind == kind && t.history[i].Entity.Value != "" {
				return t.history[i].Entity.Value, true
			}
		}
	}
	return "", false
}

// ─── entity derivation ──────────────────────────────────────────────────────

var (
	openRe   = regexp.MustCompile(`^(?:open|launch|start)\s+(.+)$`)
	closeRe  = regexp.MustCompile(`^close\s+(.+)$`)
	windowRe = regexp.MustCompile(`^(?:minimize|maximize|restore)\s+(.+)$`)

	// folderNames are open targets that are folders, not applications.
	folderNames = map[string]bool{
		"downloads": true,
		"documents": true,
		"desktop":   true,
	}
)

// DeriveEntity extracts the touched entity from a command phrase and its
// slots. [Tracker.Push] applies it automatically; callers that need the
// entity before pushing (say, to credit app usage) can run it themselves.
func DeriveEntity(phrase string, slots types.Slots) Entity {
	if app := slots["app"]; app != "" {
		return Entity{Kind: EntityApp, Value: strings.ToLower(app)}
	}
	if folder := slots["folder"]; folder != "" {
		return Entity{Kind: EntityFolder, Value: strings.ToLower(folder)}
	}

	key := strings.ToLower(strings.TrimSpace(phrase))
	if m := openRe.FindStringSubmatch(key); m != nil {
		name := strings.TrimSpace(m[1])
		if folderNames[name] {
			return Entity{Kind: EntityFolder, Value: name}
		}
		return Entity{Kind: EntityApp, Value: name}
	}
	if m := closeRe.FindStringSubmatch(key); m != nil {
		return Entity{Kind: EntityApp, Value: strings.TrimSpace(m[1])}
	}
	if m := windowRe.FindStringSubmatch(key); m != nil {
		return Entity{Kind: EntityWindow, Value: strings.TrimSpace(m[1])}
	}
	return Entity{}
}
