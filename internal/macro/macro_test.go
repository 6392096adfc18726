package macro_test

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/macro"
)

func newRegistry(t *testing.T) *command.Registry {
	t.Helper()
	r := command.NewRegistry()
	_, err := r.SetCommands([]command.CommandDefinition{
		{
			ID:       "open_chrome",
			Category: command.CategoryAppControl,
			Phrases:  []string{"open chrome"},
		},
	})
	if err != nil {
		t.Fatalf("SetCommands: %v", err)
	}
	return r
}

func newManager(t *testing.T, path string, r *command.Registry) *macro.Manager {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	m, err := macro.NewManager(path, r, macro.WithLogger(quiet))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

// ── save ────────────────────────────────────────────────────────────────────

func TestManager_SavePublishesIntoIndex(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), r)

	msg, err := m.Save("Focus Mode", []string{"open vscode", "open chrome"})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if want := "Macro 'focus mode' saved with 2 steps: open vscode, open chrome."; msg != want {
		t.Errorf("Save() message = %q, want %q", msg, want)
	}

	idx, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	def, ok := idx.Lookup("macro_focus_mode")
	if !ok {
		t.Fatal("index has no macro_focus_mode after save")
	}
	if def.Category != command.CategoryMacro {
		t.Errorf("macro category = %q, want %q", def.Category, command.CategoryMacro)
	}
	if len(def.Phrases) != 1 || def.Phrases[0] != "focus mode" {
		t.Errorf("macro phrases = %v, want [focus mode]", def.Phrases)
	}
}

func TestManager_SaveReplacesExisting(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), r)

	if _, err := m.Save("focus mode", []string{"open vscode"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := m.Save("focus mode", []string{"open vscode", "open terminal"}); err != nil {
		t.Fatalf("Save() replace error: %v", err)
	}

	mac, ok := m.Get("focus mode")
	if !ok {
		t.Fatal("Get(focus mode) not found after replace")
	}
	if len(mac.Steps) != 2 {
		t.Errorf("steps after replace = %v, want 2 entries", mac.Steps)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManager_SaveValidates(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), r)

	if _, err := m.Save("", []string{"open chrome"}); err == nil {
		t.Error("Save() with empty name succeeded, want error")
	}
	if _, err := m.Save("focus mode", nil); err == nil {
		t.Error("Save() with no steps succeeded, want error")
	}
	if _, err := m.Save("focus mode", []string{"  "}); err == nil {
		t.Error("Save() with blank step succeeded, want error")
	}
}

// ── delete ──────────────────────────────────────────────────────────────────

func TestManager_Delete(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), r)

	if _, err := m.Save("focus mode", []string{"open vscode"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	msg, err := m.Delete("Focus Mode")
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if want := "Macro 'focus mode' has been deleted."; msg != want {
		t.Errorf("Delete() message = %q, want %q", msg, want)
	}

	idx, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := idx.Lookup("macro_focus_mode"); ok {
		t.Error("index still contains macro_focus_mode after delete")
	}
}

func TestManager_DeleteUnknown(t *testing.T) {
	t.Parallel()

	r := newRegistry(t)
	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), r)

	_, err := m.Delete("never saved")
	if !errors.Is(err, macro.ErrNotFound) {
		t.Errorf("Delete(unknown) error = %v, want ErrNotFound", err)
	}
}

// ── persistence ─────────────────────────────────────────────────────────────

func TestManager_ReloadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "macros.json")

	first := newManager(t, path, newRegistry(t))
	if _, err := first.Save("focus mode", []string{"open vscode", "open chrome"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// A fresh registry simulates a daemon restart; loading must republish
	// the macro into the index.
	r := newRegistry(t)
	second := newManager(t, path, r)

	mac, ok := second.Get("focus mode")
	if !ok {
		t.Fatal("Get(focus mode) not found after reload")
	}
	if len(mac.Steps) != 2 || mac.Steps[0] != "open vscode" {
		t.Errorf("reloaded steps = %v, want [open vscode open chrome]", mac.Steps)
	}

	idx, err := r.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, ok := idx.Lookup("macro_focus_mode"); !ok {
		t.Error("reloaded index has no macro_focus_mode")
	}
}

// ── lookups ─────────────────────────────────────────────────────────────────

func TestManager_Steps(t *testing.T) {
	t.Parallel()

	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), newRegistry(t))
	if _, err := m.Save("focus mode", []string{"open vscode", "mute"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	steps, ok := m.Steps("macro_focus_mode")
	if !ok {
		t.Fatal("Steps(macro_focus_mode) not found")
	}
	if len(steps) != 2 || steps[1] != "mute" {
		t.Errorf("Steps() = %v, want [open vscode mute]", steps)
	}
	if _, ok := m.Steps("macro_unknown"); ok {
		t.Error("Steps(macro_unknown) = true, want false")
	}
}

func TestManager_ListSorted(t *testing.T) {
	t.Parallel()

	m := newManager(t, filepath.Join(t.TempDir(), "macros.json"), newRegistry(t))
	for _, name := range []string{"zen mode", "focus mode", "meeting mode"} {
		if _, err := m.Save(name, []string{"mute"}); err != nil {
			t.Fatalf("Save(%q) error: %v", name, err)
		}
	}

	got := m.List()
	want := []string{"focus mode", "meeting mode", "zen mode"}
	if len(got) != len(want) {
		t.Fatalf("len(List()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("List()[%d].Name = %q, want %q", i, got[i].Name, want[i])
		}
	}
}

func TestIntentID(t *testing.T) {
	t.Parallel()

	if got := macro.IntentID("Focus Mode"); got != "macro_focus_mode" {
		t.Errorf("IntentID(Focus Mode) = %q, want macro_focus_mode", got)
	}
}
