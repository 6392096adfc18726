package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidEmbeddingsProviders lists known embeddings provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidEmbeddingsProviders = []string{"openai", "ollama", "local"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Threshold and weight violations are deliberately fatal: a miscalibrated
// engine silently misfires, which is worse than refusing to start.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Command registry
	if cfg.CommandsFile == "" {
		errs = append(errs, errors.New("commands_file is required"))
	}

	// Matching thresholds
	m := cfg.Matching
	if m.FuzzyThreshold < 0 || m.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("matching.fuzzy_threshold %.2f is out of range [0, 1]", m.FuzzyThreshold))
	}
	if m.SemanticThreshold < 0 || m.SemanticThreshold > 1 {
		errs = append(errs, fmt.Errorf("matching.semantic_threshold %.2f is out of range [0, 1]", m.SemanticThreshold))
	}
	if m.MinConfidence < 0 || m.MinConfidence >= 1 {
		errs = append(errs, fmt.Errorf("matching.min_confidence %.2f is out of range [0, 1)", m.MinConfidence))
	}
	if m.AmbiguityEpsilon < 0 || m.AmbiguityEpsilon > 0.2 {
		errs = append(errs, fmt.Errorf("matching.ambiguity_epsilon %.2f is out of range [0, 0.2]", m.AmbiguityEpsilon))
	}

	// Weights: individually non-negative, and at least one genuine matching
	// method must carry weight, otherwise nothing could ever be resolved.
	w := m.Weights
	for _, entry := range []struct {
		name  string
		value float64
	}{
		{"exact", w.Exact},
		{"fuzzy", w.Fuzzy},
		{"phonetic", w.Phonetic},
		{"semantic", w.Semantic},
		{"context", w.Context},
		{"grammar", w.Grammar},
	} {
		if entry.value < 0 {
			errs = append(errs, fmt.Errorf("matching.weights.%s %.2f must not be negative", entry.name, entry.value))
		}
	}
	if w.Exact+w.Fuzzy+w.Phonetic+w.Semantic+w.Grammar <= 0 {
		errs = append(errs, errors.New("matching.weights: at least one of exact/fuzzy/phonetic/semantic/grammar must be positive"))
	}

	// Adaptation
	if cfg.Adaptation.RepeatThreshold < 1 {
		errs = append(errs, fmt.Errorf("adaptation.repeat_threshold %d must be >= 1", cfg.Adaptation.RepeatThreshold))
	}
	if cfg.Adaptation.Store != "" && !cfg.Adaptation.Store.IsValid() {
		errs = append(errs, fmt.Errorf("adaptation.store %q is invalid; valid values: file, postgres", cfg.Adaptation.Store))
	}
	if cfg.Adaptation.Store == StorePostgres && cfg.Adaptation.PostgresDSN == "" {
		errs = append(errs, errors.New("adaptation.postgres_dsn is required when adaptation.store is postgres"))
	}

	// Context
	if cfg.Context.HistoryCapacity < 1 {
		errs = append(errs, fmt.Errorf("context.history_capacity %d must be >= 1", cfg.Context.HistoryCapacity))
	}

	// Embeddings
	validateEmbeddingsProvider(cfg.Embeddings.Provider)
	if cfg.Embeddings.Index != "" && !cfg.Embeddings.Index.IsValid() {
		errs = append(errs, fmt.Errorf("embeddings.index %q is invalid; valid values: memory, postgres", cfg.Embeddings.Index))
	}
	if cfg.Embeddings.Index == IndexPostgres && cfg.Embeddings.PostgresDSN == "" {
		errs = append(errs, errors.New("embeddings.postgres_dsn is required when embeddings.index is postgres"))
	}
	if cfg.Embeddings.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("embeddings.dimensions %d must not be negative", cfg.Embeddings.Dimensions))
	}
	if !m.UseSemanticFallback && cfg.Embeddings.Index == IndexPostgres {
		slog.Warn("embeddings.index is postgres but matching.use_semantic_fallback is false; the index will not be queried")
	}

	// Dispatch
	if cfg.Dispatch.Workers < 1 {
		errs = append(errs, fmt.Errorf("dispatch.workers %d must be >= 1", cfg.Dispatch.Workers))
	}
	if cfg.Dispatch.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("dispatch.queue_size %d must be >= 1", cfg.Dispatch.QueueSize))
	}

	// Confirmation
	if cfg.Confirmation.Timeout.AsDuration() <= 0 {
		errs = append(errs, errors.New("confirmation.timeout must be positive"))
	}

	return errors.Join(errs...)
}

// validateEmbeddingsProvider logs a warning if name is non-empty and not found
// in [ValidEmbeddingsProviders].
func validateEmbeddingsProvider(name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidEmbeddingsProviders, name) {
		return
	}
	slog.Warn("unknown embeddings provider name — may be a typo or third-party provider",
		"name", name,
		"known", ValidEmbeddingsProviders,
	)
}
