package semindex

import (
	"context"
	"sort"
	"sync"
)

// Memory is the in-process [Index]. Search is a brute-force scan, which is
// plenty for command sets in the hundreds; installations that want ANN
// search over large macro libraries use the postgres implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Index = (*Memory)(nil)

// NewMemory returns an empty in-process index.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

// Upsert implements [Index].
func (m *Memory) Upsert(_ context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.entries[e.ID] = e
	}
	return nil
}

// Search implements [Index].
func (m *Memory) Search(_ context.Context, vector []float32, topK int) ([]Hit, error) {
	m.mu.RLock()
	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		hits = append(hits, Hit{Entry: e, Score: Cosine(vector, e.Vector)})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entry.ID < hits[j].Entry.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Clear implements [Index].
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
	return nil
}

// Count implements [Index].
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
