// Package local provides a dependency-free embeddings provider based on
// token feature hashing.
//
// The vectors are not learned — they are a deterministic projection of token
// unigrams, bigrams, and character positions into a fixed-size space. Two
// texts that share tokens land close together under cosine similarity, which
// is enough for the semantic stage to rank short command phrases when no real
// embedding model is reachable. It is the fallback of last resort in the
// provider chain: always available, never network-bound, and stable across
// process restarts (the same text always produces the same vector).
//
// Do not mix vectors from this provider with vectors from a model-backed
// provider; the spaces are unrelated.
package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/MrWong99/earshot/pkg/provider/embeddings"
)

// DefaultDimensions matches the smallest common sentence-embedding size so a
// memory index sized for a real model does not balloon when falling back.
const DefaultDimensions = 384

// ModelID is the fixed identifier reported by this provider.
const ModelID = "feature-hash-v1"

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with deterministic feature hashing.
// It is safe for concurrent use; it holds no mutable state.
type Provider struct {
	dims int
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithDimensions overrides the output vector length. Values below 8 are
// rejected by New; very small spaces collide too readily to rank anything.
func WithDimensions(dims int) Option {
	return func(p *Provider) {
		p.dims = dims
	}
}

// New constructs a feature-hash Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{dims: DefaultDimensions}
	for _, o := range opts {
		o(p)
	}
	if p.dims < 8 {
		return nil, fmt.Errorf("local embeddings: dimensions must be >= 8, got %d", p.dims)
	}
	return p, nil
}

// Embed implements embeddings.Provider. It never fails and ignores ctx beyond
// the initial cancellation check; the computation is a few microseconds.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.hashEmbed(text), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.hashEmbed(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return p.dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return ModelID
}

// hashEmbed projects text into the vector space. Token unigrams carry most of
// the weight, token bigrams encode adjacency, and character positions give a
// weak order signal so "chrome open" and "open chrome" do not collide
// exactly. The result is L2-normalized so cosine similarity reduces to a dot
// product.
func (p *Provider) hashEmbed(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := tokenize(text)

	for i, tok := range tokens {
		spread(vec, tok, 1.0)
		if i > 0 {
			spread(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	// Positional character features: a weak order-sensitive signal.
	lower := strings.ToLower(strings.TrimSpace(text))
	for i, r := range lower {
		if unicode.IsSpace(r) {
			continue
		}
		idx := (int(r)*7 + i*11) % p.dims
		if idx < 0 {
			idx = -idx
		}
		vec[idx] += float32(r%64) / 512.0
	}

	normalize(vec)
	return vec
}

// spread distributes one feature across three buckets derived from its hash.
// Multiple buckets per feature soften collisions in small spaces.
func spread(vec []float32, feature string, weight float32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	dims := uint32(len(vec))
	for j := uint32(0); j < 3; j++ {
		idx := (sum + j*2654435761) % dims
		vec[idx] += weight
	}
}

// tokenize lowercases and splits on any non-letter, non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales vec to unit length in place. Zero vectors stay zero.
func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
