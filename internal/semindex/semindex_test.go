package semindex_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/semindex"
	"github.com/MrWong99/earshot/pkg/provider/embeddings/mock"
)

func testSnapshot(t *testing.T) *command.Index {
	t.Helper()
	idx, err := command.NewIndex([]command.CommandDefinition{
		{
			ID:          "open_chrome",
			Category:    command.CategoryAppControl,
			Phrases:     []string{"open chrome", "launch chrome"},
			Description: "open the google chrome web browser",
		},
		{
			ID:       "close_window",
			Category: command.CategoryAppControl,
			Phrases:  []string{"close window"},
		},
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

// ── memory index ────────────────────────────────────────────────────────────

func TestMemory_SearchOrdering(t *testing.T) {
	t.Parallel()
	m := semindex.NewMemory()
	ctx := context.Background()

	err := m.Upsert(ctx, []semindex.Entry{
		{ID: "a#p0", IntentID: "a", Text: "alpha", Kind: semindex.KindPhrase, Vector: []float32{1, 0}},
		{ID: "b#p0", IntentID: "b", Text: "beta", Kind: semindex.KindPhrase, Vector: []float32{0, 1}},
		{ID: "c#p0", IntentID: "c", Text: "gamma", Kind: semindex.KindPhrase, Vector: []float32{0.7, 0.7}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Entry.IntentID != "a" {
		t.Errorf("top hit = %q, want a", hits[0].Entry.IntentID)
	}
	if hits[1].Entry.IntentID != "c" {
		t.Errorf("second hit = %q, want c", hits[1].Entry.IntentID)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("hits not ordered: %v then %v", hits[0].Score, hits[1].Score)
	}
}

func TestMemory_UpsertReplaces(t *testing.T) {
	t.Parallel()
	m := semindex.NewMemory()
	ctx := context.Background()

	entry := semindex.Entry{ID: "a#p0", IntentID: "a", Text: "alpha", Vector: []float32{1, 0}}
	if err := m.Upsert(ctx, []semindex.Entry{entry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	entry.Vector = []float32{0, 1}
	if err := m.Upsert(ctx, []semindex.Entry{entry}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	n, err := m.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1 after same-ID upsert", n)
	}

	hits, err := m.Search(ctx, []float32{0, 1}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if math.Abs(hits[0].Score-1) > 1e-9 {
		t.Errorf("replaced vector score = %v, want 1", hits[0].Score)
	}
}

func TestMemory_Clear(t *testing.T) {
	t.Parallel()
	m := semindex.NewMemory()
	ctx := context.Background()

	_ = m.Upsert(ctx, []semindex.Entry{{ID: "a#p0", Vector: []float32{1}}})
	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := m.Count(ctx); n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
	hits, err := m.Search(ctx, []float32{1}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Search after Clear returned %d hits, want 0", len(hits))
	}
}

// ── rebuild ─────────────────────────────────────────────────────────────────

func TestRebuild(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{
		EmbedFunc: func(text string) ([]float32, error) {
			// Deterministic per-text vector keyed on length.
			return []float32{float32(len(text)), 1}, nil
		},
		DimensionsValue: 2,
		ModelIDValue:    "test-embed-v1",
	}
	index := semindex.NewMemory()
	ctx := context.Background()

	if err := semindex.Rebuild(ctx, index, testSnapshot(t), provider); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// Two open_chrome phrases, one description, one close_window phrase.
	n, err := index.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	// A second rebuild of the same snapshot must not grow the index.
	if err := semindex.Rebuild(ctx, index, testSnapshot(t), provider); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if n, _ = index.Count(ctx); n != 4 {
		t.Errorf("Count after second rebuild = %d, want 4", n)
	}
}

func TestRebuild_EmbedFailure(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{EmbedBatchErr: errors.New("model offline")}
	index := semindex.NewMemory()
	ctx := context.Background()

	// Seed the index so we can verify a failed rebuild leaves it intact.
	_ = index.Upsert(ctx, []semindex.Entry{{ID: "old#p0", IntentID: "old", Vector: []float32{1}}})

	err := semindex.Rebuild(ctx, index, testSnapshot(t), provider)
	if err == nil {
		t.Fatal("Rebuild returned nil error, want embed failure")
	}
	if n, _ := index.Count(ctx); n != 1 {
		t.Errorf("Count after failed rebuild = %d, want 1 (old contents kept)", n)
	}
}

// ── cosine ──────────────────────────────────────────────────────────────────

func TestCosine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := semindex.Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
