// Package macro manages user-recorded command sequences: a trigger phrase
// bound to an ordered list of command steps.
//
// Saving a macro persists it to a JSON file and projects it into the live
// command index as a definition with category macro, so the trigger phrase
// is matched by every stage like any built-in intent. The daemon never
// replays the steps itself; the external executor queries them by intent id
// (or over the macros endpoint) when a macro intent resolves.
package macro

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/internal/command"
)

// ErrNotFound is returned when deleting or fetching a macro that does not
// exist.
var ErrNotFound = errors.New("macro: not found")

// Macro is one saved trigger → steps binding.
type Macro struct {
	Name  string    `json:"name"`
	Steps []string  `json:"steps"`
	Added time.Time `json:"added"`
}

// IntentID returns the command index id for a macro name
// ("focus mode" → "macro_focus_mode").
func IntentID(name string) string {
	return "macro_" + strings.ReplaceAll(normalize(name), " ", "_")
}

// Definition converts a macro into the command definition projected into
// the index. The steps double as the semantic description so paraphrased
// triggers can still land on the macro.
func Definition(m Macro) command.CommandDefinition {
	return command.CommandDefinition{
		ID:          IntentID(m.Name),
		Category:    command.CategoryMacro,
		Phrases:     []string{normalize(m.Name)},
		Description: "run the saved steps: " + strings.Join(m.Steps, ", "),
	}
}

// Manager owns the saved macros, their JSON file, and their projection into
// the command registry. Safe for concurrent use.
type Manager struct {
	path     string
	registry *command.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	macros map[string]Macro // normalized name → macro
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager loads the macro file at path (a missing file starts empty) and
// registers every stored macro with the registry.
func NewManager(path string, registry *command.Registry, opts ...Option) (*Manager, error) {
	m := &Manager{
		path:     path,
		registry: registry,
		logger:   slog.Default(),
		macros:   make(map[string]Macro),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.load(); err != nil {
		return nil, err
	}
	for name, mac := range m.macros {
		if _, err := registry.AddMacro(Definition(mac)); err != nil {
			return nil, fmt.Errorf("macro: register %q: %w", name, err)
		}
	}

	m.logger.Info("macros loaded", "count", len(m.macros), "path", path)
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("macro: read %s: %w", m.path, err)
	}
	if err := json.Unmarshal(data, &m.macros); err != nil {
		return fmt.Errorf("macro: decode %s: %w", m.path, err)
	}
	return nil
}

// save persists the macro map. Callers hold mu.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.macros, "", "  ")
	if err != nil {
		return fmt.Errorf("macro: marshal: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("macro: write %s: %w", m.path, err)
	}
	return nil
}

// Save records a macro and publishes it into the command index. Saving an
// existing name replaces its steps. It returns the spoken confirmation.
func (m *Manager) Save(name string, steps []string) (string, error) {
	name = normalize(name)
	if name == "" {
		return "", fmt.Errorf("macro: name must not be empty")
	}
	if len(steps) == 0 {
		return "", fmt.Errorf("macro: %q needs at least one step", name)
	}
	normalized := make([]string, len(steps))
	for i, s := range steps {
		normalized[i] = normalize(s)
		if normalized[i] == "" {
			return "", fmt.Errorf("macro: %q has an empty step", name)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mac := Macro{Name: name, Steps: normalized, Added: time.Now().UTC()}
	if _, exists := m.macros[name]; exists {
		if _, err := m.registry.RemoveMacro(IntentID(name)); err != nil {
			return "", fmt.Errorf("macro: replace %q: %w", name, err)
		}
	}
	if _, err := m.registry.AddMacro(Definition(mac)); err != nil {
		return "", fmt.Errorf("macro: register %q: %w", name, err)
	}

	m.macros[name] = mac
	if err := m.save(); err != nil {
		return "", err
	}

	m.logger.Info("macro saved", "name", name, "steps", len(normalized))
	return fmt.Sprintf("Macro '%s' saved with %d steps: %s.",
		name, len(normalized), strings.Join(normalized, ", ")), nil
}

// Delete removes a macro and retires its index entry. It returns the spoken
// confirmation, or [ErrNotFound].
func (m *Manager) Delete(name string) (string, error) {
	name = normalize(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.macros[name]; !exists {
		return "", fmt.Errorf("macro: delete %q: %w", name, ErrNotFound)
	}
	if _, err := m.registry.RemoveMacro(IntentID(name)); err != nil {
		return "", fmt.Errorf("macro: retire %q: %w", name, err)
	}

	delete(m.macros, name)
	if err := m.save(); err != nil {
		return "", err
	}

	m.logger.Info("macro deleted", "name", name)
	return fmt.Sprintf("Macro '%s' has been deleted.", name), nil
}

// Get returns a saved macro by name.
func (m *Manager) Get(name string) (Macro, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mac, ok := m.macros[normalize(name)]
	return mac, ok
}

// Steps returns the step list for a macro intent id, the lookup the
// executor performs when a macro intent resolves.
func (m *Manager) Steps(intentID string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mac := range m.macros {
		if IntentID(mac.Name) == intentID {
			out := make([]string, len(mac.Steps))
			copy(out, mac.Steps)
			return out, true
		}
	}
	return nil, false
}

// List returns all macros sorted by name.
func (m *Manager) List() []Macro {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Macro, 0, len(m.macros))
	for _, mac := range m.macros {
		out = append(out, mac)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of saved macros.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.macros)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
