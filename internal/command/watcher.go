package command

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors the commands file and republishes the registry's index
// when the file changes. Same polling discipline as the config watcher:
// cheap mtime probe first, sha256 to rule out touch-only updates, and an
// invalid or unparseable edit never replaces the published snapshot.
type Watcher struct {
	path     string
	interval time.Duration
	registry *Registry
	onSwap   func(old, new *Index)

	mu        sync.Mutex
	done      chan struct{}
	stopOnce  sync.Once
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithOnSwap registers a callback invoked after each successful reload with
// the previous and the freshly published snapshot. The previous snapshot is
// nil on the initial load.
func WithOnSwap(fn func(old, new *Index)) WatcherOption {
	return func(w *Watcher) {
		w.onSwap = fn
	}
}

// NewWatcher loads the commands file into registry immediately — failing
// fast on a broken file — and starts polling it in a background goroutine.
func NewWatcher(path string, registry *Registry, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		registry: registry,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	idx, hash, mtime, err := w.loadAndPublish()
	if err != nil {
		return nil, fmt.Errorf("command: watcher initial load: %w", err)
	}
	w.lastHash = hash
	w.lastMtime = mtime

	if w.onSwap != nil {
		w.onSwap(nil, idx)
	}

	go w.poll()
	return w, nil
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("command watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	old, _ := w.registry.Snapshot()

	idx, hash, newMtime, err := w.loadAndPublishIfChanged()
	if err != nil {
		slog.Warn("command watcher: failed to reload commands, keeping previous index", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastMtime = newMtime
	if idx == nil {
		// Touched but content identical.
		w.mu.Unlock()
		return
	}
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("command watcher: command set reloaded",
		"path", w.path, "commands", idx.Len(), "generation", idx.Generation())

	if w.onSwap != nil {
		w.onSwap(old, idx)
	}
}

// loadAndPublish reads, parses, and publishes the commands file, returning
// the new snapshot with the file's hash and mtime.
func (w *Watcher) loadAndPublish() (*Index, [sha256.Size]byte, time.Time, error) {
	data, mtime, err := w.readFile()
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}

	cf, err := LoadCommandsFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}

	idx, err := w.registry.SetCommands(cf.Commands)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return idx, sha256.Sum256(data), mtime, nil
}

// loadAndPublishIfChanged is loadAndPublish with a content-hash
// short-circuit: a nil index with a nil error means the file content is
// unchanged and nothing was published.
func (w *Watcher) loadAndPublishIfChanged() (*Index, [sha256.Size]byte, time.Time, error) {
	data, mtime, err := w.readFile()
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}

	hash := sha256.Sum256(data)

	w.mu.Lock()
	unchanged := hash == w.lastHash
	w.mu.Unlock()
	if unchanged {
		return nil, hash, mtime, nil
	}

	cf, err := LoadCommandsFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}

	idx, err := w.registry.SetCommands(cf.Commands)
	if err != nil {
		return nil, [sha256.Size]byte{}, time.Time{}, err
	}
	return idx, hash, mtime, nil
}

func (w *Watcher) readFile() ([]byte, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, time.Time{}, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, time.Time{}, err
	}
	return data, info.ModTime(), nil
}
