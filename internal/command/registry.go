package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/earshot/internal/observe"
)

// ErrIndexUnavailable is returned by [Registry.Snapshot] before the first
// command set has been published. Cold start only: once a snapshot exists,
// one always exists.
var ErrIndexUnavailable = errors.New("command index not yet built")

// ErrDuplicateID is returned by [Registry.AddMacro] when the macro's ID
// collides with an existing command or macro.
var ErrDuplicateID = errors.New("command with that ID already exists")

// ErrNotFound is returned by [Registry.RemoveMacro] when no macro with that
// ID exists.
var ErrNotFound = errors.New("command not found")

// Registry owns the live command set and publishes immutable [Index]
// snapshots. Snapshot reads are lock-free; rebuilds (file reload, macro
// save/delete) are serialized and swap the published index atomically, so a
// resolution that grabbed a snapshot keeps a consistent view for its whole
// pass.
type Registry struct {
	current atomic.Pointer[Index]

	mu         sync.Mutex // serializes rebuilds
	generation uint64
	commands   []CommandDefinition
	macros     map[string]CommandDefinition
}

// NewRegistry returns an empty [Registry]. Until [Registry.SetCommands]
// publishes the first snapshot, [Registry.Snapshot] reports
// [ErrIndexUnavailable] and resolutions should be deferred.
func NewRegistry() *Registry {
	return &Registry{macros: make(map[string]CommandDefinition)}
}

// Snapshot returns the current index. The returned snapshot is immutable and
// stays valid after later swaps. Returns [ErrIndexUnavailable] before the
// first publish.
func (r *Registry) Snapshot() (*Index, error) {
	idx := r.current.Load()
	if idx == nil {
		return nil, ErrIndexUnavailable
	}
	return idx, nil
}

// SetCommands replaces the file-loaded portion of the command set and
// publishes a fresh snapshot. Runtime-saved macros survive the reload. On a
// validation error the previous snapshot stays published.
func (r *Registry) SetCommands(defs []CommandDefinition) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.rebuildLocked(defs, r.macros)
	if err != nil {
		return nil, err
	}
	r.commands = append([]CommandDefinition(nil), defs...)
	return idx, nil
}

// AddMacro adds a runtime-recorded macro command and publishes a fresh
// snapshot. Returns [ErrDuplicateID] if the ID collides with an existing
// command or macro.
func (r *Registry) AddMacro(def CommandDefinition) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.macros[def.ID]; exists {
		return nil, fmt.Errorf("command: add macro %q: %w", def.ID, ErrDuplicateID)
	}
	for _, existing := range r.commands {
		if existing.ID == def.ID {
			return nil, fmt.Errorf("command: add macro %q: %w", def.ID, ErrDuplicateID)
		}
	}

	next := cloneMacros(r.macros)
	next[def.ID] = def

	idx, err := r.rebuildLocked(r.commands, next)
	if err != nil {
		return nil, err
	}
	r.macros = next
	return idx, nil
}

// RemoveMacro deletes a runtime-recorded macro and publishes a fresh
// snapshot. Returns [ErrNotFound] when no macro with that ID exists;
// file-loaded commands cannot be removed this way.
func (r *Registry) RemoveMacro(id string) (*Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.macros[id]; !exists {
		return nil, fmt.Errorf("command: remove macro %q: %w", id, ErrNotFound)
	}

	next := cloneMacros(r.macros)
	delete(next, id)

	idx, err := r.rebuildLocked(r.commands, next)
	if err != nil {
		return nil, err
	}
	r.macros = next
	return idx, nil
}

// Macros returns the runtime-saved macro definitions, in no particular
// order.
func (r *Registry) Macros() []CommandDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CommandDefinition, 0, len(r.macros))
	for _, def := range r.macros {
		out = append(out, def)
	}
	return out
}

// rebuildLocked compiles and publishes a new snapshot from the union of
// file commands and macros. Callers must hold r.mu.
func (r *Registry) rebuildLocked(commands []CommandDefinition, macros map[string]CommandDefinition) (*Index, error) {
	union := make([]CommandDefinition, 0, len(commands)+len(macros))
	union = append(union, commands...)
	for _, def := range macros {
		union = append(union, def)
	}

	idx, err := NewIndex(union)
	if err != nil {
		return nil, err
	}

	r.generation++
	idx.generation = r.generation

	prev := r.current.Swap(idx)

	m := observe.DefaultMetrics()
	ctx := context.Background()
	m.IndexRebuilds.Add(ctx, 1)
	prevLen := 0
	if prev != nil {
		prevLen = prev.Len()
	}
	m.IndexedCommands.Add(ctx, int64(idx.Len()-prevLen))

	return idx, nil
}

func cloneMacros(in map[string]CommandDefinition) map[string]CommandDefinition {
	out := make(map[string]CommandDefinition, len(in)+1)
	for id, def := range in {
		out[id] = def
	}
	return out
}
