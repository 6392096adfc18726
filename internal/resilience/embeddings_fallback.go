package resilience

import (
	"context"

	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with automatic
// failover across multiple embedding backends. Each backend has its own
// circuit breaker; when the primary fails or its breaker is open, the next
// healthy fallback is tried.
//
// Every provider in a chain must produce vectors of the same
// dimensionality. Mixing models breaks cosine similarity against the stored
// intent vectors, so a typical chain pairs a remote model with the local
// feature hasher configured to the same dimension count.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embeddings provider as a fallback.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed computes the vector via the first healthy provider.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes the vectors via the first healthy provider. The whole
// batch goes to one backend; failover never splits a batch across models.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector length. This does not participate
// in failover because dimensionality is static metadata shared by every
// entry in the chain.
func (f *EmbeddingsFallback) Dimensions() int {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Dimensions()
	}
	return 0
}

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.ModelID()
	}
	return ""
}

// Snapshots reports the breaker state of every backend in try order.
func (f *EmbeddingsFallback) Snapshots() []Snapshot {
	return f.group.Snapshots()
}
