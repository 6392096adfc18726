package devctx_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/devctx"
	"github.com/MrWong99/earshot/pkg/types"
)

func newTracker(opts ...devctx.Option) *devctx.Tracker {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return devctx.NewTracker(append([]devctx.Option{devctx.WithLogger(quiet)}, opts...)...)
}

// ── modes ───────────────────────────────────────────────────────────────────

func TestTracker_ModeDefaultsToUnknown(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	if got := tr.Mode(); got != devctx.ModeUnknown {
		t.Errorf("Mode() = %q, want %q", got, devctx.ModeUnknown)
	}
}

func TestTracker_SetMode(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.SetMode(devctx.ModeCoding)
	if got := tr.Mode(); got != devctx.ModeCoding {
		t.Errorf("Mode() = %q, want %q", got, devctx.ModeCoding)
	}
}

func TestTracker_SetModeIgnoresInvalid(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.SetMode(devctx.ModeBrowsing)
	tr.SetMode(devctx.Mode("gaming"))
	if got := tr.Mode(); got != devctx.ModeBrowsing {
		t.Errorf("Mode() = %q, want %q", got, devctx.ModeBrowsing)
	}
}

func TestTracker_ObserveApp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		app  string
		want devctx.Mode
	}{
		{name: "browser", app: "chrome", want: devctx.ModeBrowsing},
		{name: "exe suffix stripped", app: "Code.exe", want: devctx.ModeCoding},
		{name: "uppercase", app: "SLACK", want: devctx.ModeChatting},
		{name: "file manager", app: "explorer", want: devctx.ModeFileManager},
		{name: "system surface", app: "taskmgr", want: devctx.ModeSystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := newTracker()
			if got := tr.ObserveApp(tt.app); got != tt.want {
				t.Errorf("ObserveApp(%q) = %q, want %q", tt.app, got, tt.want)
			}
		})
	}
}

func TestTracker_ObserveAppUnknownKeepsMode(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.SetMode(devctx.ModeCoding)
	if got := tr.ObserveApp("solitaire"); got != devctx.ModeCoding {
		t.Errorf("ObserveApp(unknown) = %q, want %q", got, devctx.ModeCoding)
	}
}

// ── bonuses ─────────────────────────────────────────────────────────────────

func TestTracker_Bonus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mode devctx.Mode
		cat  command.Category
		want float64
	}{
		{name: "browsing favours search", mode: devctx.ModeBrowsing, cat: command.CategorySearch, want: 0.2},
		{name: "browsing favours navigation", mode: devctx.ModeBrowsing, cat: command.CategoryNavigation, want: 0.2},
		{name: "browsing ignores typing", mode: devctx.ModeBrowsing, cat: command.CategoryTyping, want: 0},
		{name: "coding favours file ops", mode: devctx.ModeCoding, cat: command.CategoryFileOperation, want: 0.2},
		{name: "coding favours clipboard", mode: devctx.ModeCoding, cat: command.CategoryClipboard, want: 0.2},
		{name: "chatting favours typing", mode: devctx.ModeChatting, cat: command.CategoryTyping, want: 0.2},
		{name: "system favours system", mode: devctx.ModeSystem, cat: command.CategorySystem, want: 0.2},
		{name: "file manager favours navigation", mode: devctx.ModeFileManager, cat: command.CategoryNavigation, want: 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := newTracker()
			tr.SetMode(tt.mode)
			if got := tr.Bonus(tt.cat); got != tt.want {
				t.Errorf("Bonus(%q) in %q = %v, want %v", tt.cat, tt.mode, got, tt.want)
			}
		})
	}
}

func TestTracker_BonusUnknownModeIsZero(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	if got := tr.Bonus(command.CategorySearch); got != 0 {
		t.Errorf("Bonus() before any signal = %v, want 0", got)
	}
}

// ── history ─────────────────────────────────────────────────────────────────

func TestTracker_PushEvictsOldest(t *testing.T) {
	t.Parallel()

	tr := newTracker(devctx.WithCapacity(3))
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tr.Push(devctx.Record{IntentID: id})
	}

	hist := tr.History()
	if len(hist) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(hist))
	}
	for i, want := range []string{"c", "d", "e"} {
		if hist[i].IntentID != want {
			t.Errorf("History()[%d].IntentID = %q, want %q", i, hist[i].IntentID, want)
		}
	}
}

func TestTracker_PushStampsTime(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	before := time.Now()
	tr.Push(devctx.Record{IntentID: "open_app"})

	last, ok := tr.Last()
	if !ok {
		t.Fatal("Last() reported empty history after push")
	}
	if last.At.Before(before) {
		t.Errorf("Last().At = %v, want >= %v", last.At, before)
	}
}

func TestTracker_PushDerivesEntity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rec  devctx.Record
		want devctx.Entity
	}{
		{
			name: "open app",
			rec:  devctx.Record{IntentID: "open_app", Phrase: "open chrome"},
			want: devctx.Entity{Kind: devctx.EntityApp, Value: "chrome"},
		},
		{
			name: "launch app",
			rec:  devctx.Record{IntentID: "open_app", Phrase: "launch spotify"},
			want: devctx.Entity{Kind: devctx.EntityApp, Value: "spotify"},
		},
		{
			name: "open folder",
			rec:  devctx.Record{IntentID: "open_folder", Phrase: "open downloads"},
			want: devctx.Entity{Kind: devctx.EntityFolder, Value: "downloads"},
		},
		{
			name: "close app",
			rec:  devctx.Record{IntentID: "close_app", Phrase: "close slack"},
			want: devctx.Entity{Kind: devctx.EntityApp, Value: "slack"},
		},
		{
			name: "window verb",
			rec:  devctx.Record{IntentID: "minimize_window", Phrase: "minimize spotify"},
			want: devctx.Entity{Kind: devctx.EntityWindow, Value: "spotify"},
		},
		{
			name: "app slot wins",
			rec:  devctx.Record{IntentID: "open_app", Phrase: "fire up the browser", Slots: types.Slots{"app": "Firefox"}},
			want: devctx.Entity{Kind: devctx.EntityApp, Value: "firefox"},
		},
		{
			name: "no entity",
			rec:  devctx.Record{IntentID: "volume_up", Phrase: "volume up"},
			want: devctx.Entity{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := newTracker()
			tr.Push(tt.rec)
			last, _ := tr.Last()
			if last.Entity != tt.want {
				t.Errorf("derived entity = %+v, want %+v", last.Entity, tt.want)
			}
		})
	}
}

func TestTracker_PushKeepsExplicitEntity(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	explicit := devctx.Entity{Kind: devctx.EntityWindow, Value: "main"}
	tr.Push(devctx.Record{IntentID: "open_app", Phrase: "open chrome", Entity: explicit})

	last, _ := tr.Last()
	if last.Entity != explicit {
		t.Errorf("entity = %+v, want explicit %+v", last.Entity, explicit)
	}
}

func TestTracker_LastUndoable(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.Push(devctx.Record{IntentID: "open_app"})
	tr.Push(devctx.Record{
		IntentID: "type_text",
		Undo:     func(context.Context) error { return nil },
	})
	tr.Push(devctx.Record{IntentID: "volume_up"})

	rec, ok := tr.LastUndoable()
	if !ok {
		t.Fatal("LastUndoable() found nothing, want type_text")
	}
	if rec.IntentID != "type_text" {
		t.Errorf("LastUndoable().IntentID = %q, want %q", rec.IntentID, "type_text")
	}
}

func TestTracker_LastUndoableEmpty(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.Push(devctx.Record{IntentID: "open_app"})
	if _, ok := tr.LastUndoable(); ok {
		t.Error("LastUndoable() = true, want false without undo handlers")
	}
}

func TestTracker_LastUsed(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(5 * time.Minute)
	tr.Push(devctx.Record{IntentID: "open_app", At: early})
	tr.Push(devctx.Record{IntentID: "new_tab", At: early.Add(time.Minute)})
	tr.Push(devctx.Record{IntentID: "open_app", At: late})

	used := tr.LastUsed()
	if got := used["open_app"]; !got.Equal(late) {
		t.Errorf("LastUsed()[open_app] = %v, want %v", got, late)
	}
	if got := used["new_tab"]; !got.Equal(early.Add(time.Minute)) {
		t.Errorf("LastUsed()[new_tab] = %v, want %v", got, early.Add(time.Minute))
	}
}

// ── pronouns ────────────────────────────────────────────────────────────────

func TestTracker_ResolvePronoun(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.Push(devctx.Record{IntentID: "open_folder", Phrase: "open downloads"})
	tr.Push(devctx.Record{IntentID: "open_app", Phrase: "open chrome"})

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "close it", text: "close it", want: "close chrome"},
		{name: "close that", text: "Close That", want: "close chrome"},
		{name: "reopen", text: "open it again", want: "open chrome"},
		{name: "last folder", text: "open last folder", want: "open downloads"},
		{name: "minimize binds app", text: "minimize it", want: "minimize chrome"},
		{name: "maximize binds app", text: "maximize it", want: "maximize chrome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := tr.ResolvePronoun(tt.text)
			if !ok {
				t.Fatalf("ResolvePronoun(%q) found no binding", tt.text)
			}
			if got != tt.want {
				t.Errorf("ResolvePronoun(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestTracker_ResolvePronounKindCompatibility(t *testing.T) {
	t.Parallel()

	// The newest record is a folder. "close it" must reach past it to the
	// newest app.
	tr := newTracker()
	tr.Push(devctx.Record{IntentID: "open_app", Phrase: "open spotify"})
	tr.Push(devctx.Record{IntentID: "open_folder", Phrase: "open documents"})

	got, ok := tr.ResolvePronoun("close it")
	if !ok {
		t.Fatal("ResolvePronoun(close it) found no binding")
	}
	if want := "close spotify"; got != want {
		t.Errorf("ResolvePronoun(close it) = %q, want %q", got, want)
	}
}

func TestTracker_ResolvePronounNoHistory(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	if _, ok := tr.ResolvePronoun("close it"); ok {
		t.Error("ResolvePronoun() = true with empty history, want false")
	}
}

func TestTracker_ResolvePronounIgnoresPlainText(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.Push(devctx.Record{IntentID: "open_app", Phrase: "open chrome"})

	for _, text := range []string{"close chrome", "go back", "open downloads", "scroll down"} {
		if _, ok := tr.ResolvePronoun(text); ok {
			t.Errorf("ResolvePronoun(%q) = true, want false for non-pronoun text", text)
		}
	}
}

// ── summary ─────────────────────────────────────────────────────────────────

func TestTracker_Summary(t *testing.T) {
	t.Parallel()

	tr := newTracker()
	tr.SetMode(devctx.ModeBrowsing)
	tr.Push(devctx.Record{IntentID: "open_app", Phrase: "open chrome"})

	got := tr.Summary()
	for _, want := range []string{"mode=browsing", "last_app=chrome", "history=1"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, want it to contain %q", got, want)
		}
	}
}
