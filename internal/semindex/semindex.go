// Package semindex maintains the vector index over canonical command
// phrases and intent descriptions that backs the semantic matching stage.
//
// Entries carry pre-computed embeddings; [Rebuild] embeds every phrase and
// description of a command snapshot in batches and republishes the index, so
// a resolution never waits on an embedding call for anything but its own
// utterance. Two implementations exist: the in-process [Memory] index and
// the pgvector-backed one in the postgres subpackage.
//
// Scores are cosine similarity in [-1, 1]; the semantic stage only surfaces
// hits above its threshold, so negative scores never leave this package in
// practice.
//
// Implementations must be safe for concurrent use.
package semindex

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// rebuildBatchSize bounds how many texts go into one EmbedBatch call.
const rebuildBatchSize = 128

// EntryKind distinguishes what text an entry embedded.
type EntryKind string

const (
	// KindPhrase is a canonical trigger phrase.
	KindPhrase EntryKind = "phrase"

	// KindDescription is an intent's natural-language description. Embedding
	// it lets paraphrases ("launch the web browser") land on the intent
	// without matching any phrase.
	KindDescription EntryKind = "description"
)

// Entry is one embedded text in the index.
type Entry struct {
	// ID is stable across rebuilds of the same command set
	// ("open_chrome#p0", "open_chrome#d"), which makes persistent
	// implementations upsert cleanly.
	ID string

	// IntentID is the command this entry proposes when it matches.
	IntentID string

	// Text is the embedded source text.
	Text string

	// Kind reports whether Text is a phrase or a description.
	Kind EntryKind

	// Vector is the embedding of Text.
	Vector []float32
}

// Hit pairs an entry with its cosine similarity to a query vector.
type Hit struct {
	Entry Entry

	// Score is the cosine similarity, higher is more similar.
	Score float64
}

// Index is a vector index over command entries.
type Index interface {
	// Upsert inserts entries, replacing any existing entry with the same ID.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns the topK entries most similar to vector, best first.
	// It returns an empty (non-nil) slice when the index is empty.
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Count reports how many entries are indexed.
	Count(ctx context.Context) (int, error)
}

// Rebuild re-embeds every phrase and description of the snapshot and
// replaces the contents of index. It is called at startup and from the
// command watcher whenever a new snapshot is published.
func Rebuild(ctx context.Context, index Index, snapshot *command.Index, provider embeddings.Provider) error {
	entries := collectEntries(snapshot)

	start := time.Now()
	for lo := 0; lo < len(entries); lo += rebuildBatchSize {
		hi := min(lo+rebuildBatchSize, len(entries))
		texts := make([]string, 0, hi-lo)
		for _, e := range entries[lo:hi] {
			texts = append(texts, e.Text)
		}
		vectors, err := provider.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("semindex: embed batch %d-%d: %w", lo, hi, err)
		}
		for i := range vectors {
			entries[lo+i].Vector = vectors[i]
		}
	}

	if err := index.Clear(ctx); err != nil {
		return fmt.Errorf("semindex: clear: %w", err)
	}
	if err := index.Upsert(ctx, entries); err != nil {
		return fmt.Errorf("semindex: upsert: %w", err)
	}

	slog.Info("semantic index rebuilt",
		"entries", len(entries),
		"model", provider.ModelID(),
		"generation", snapshot.Generation(),
		"elapsed", time.Since(start))
	return nil
}

func collectEntries(snapshot *command.Index) []Entry {
	var entries []Entry
	for _, def := range snapshot.Defs() {
		for i, phrase := range def.Phrases {
			entries = append(entries, Entry{
				ID:       fmt.Sprintf("%s#p%d", def.ID, i),
				IntentID: def.ID,
				Text:     phrase,
				Kind:     KindPhrase,
			})
		}
		if def.Description != "" {
			entries = append(entries, Entry{
				ID:       def.ID + "#d",
				IntentID: def.ID,
				Text:     def.Description,
				Kind:     KindDescription,
			})
		}
	}
	return entries
}

// Cosine is the similarity between two vectors. Mismatched dimensions or a
// zero-norm side score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
