// Package config provides the configuration schema, loader, file watcher, and
// embeddings provider registry for the Earshot command resolution engine.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Earshot daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreKind selects a persistence backend for learned adaptation state.
type StoreKind string

const (
	// StoreFile keeps adaptation records in an append-only JSONL file.
	StoreFile StoreKind = "file"

	// StorePostgres keeps adaptation records in PostgreSQL.
	StorePostgres StoreKind = "postgres"
)

// IsValid reports whether s is a recognised store kind.
func (s StoreKind) IsValid() bool {
	return s == StoreFile || s == StorePostgres
}

// IndexKind selects where intent embeddings for the semantic stage live.
type IndexKind string

const (
	// IndexMemory scans an in-process vector table. Rebuilt on every index swap.
	IndexMemory IndexKind = "memory"

	// IndexPostgres persists vectors in PostgreSQL via pgvector, surviving
	// restarts and avoiding re-embedding an unchanged command registry.
	IndexPostgres IndexKind = "postgres"
)

// IsValid reports whether i is a recognised index kind.
func (i IndexKind) IsValid() bool {
	return i == IndexMemory || i == IndexPostgres
}

// Duration wraps time.Duration so durations can be written as strings
// ("12s", "1m30s") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"12s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// AsDuration returns d as a time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for Earshot.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader];
// both start from [Default] so omitted fields keep their documented defaults.
type Config struct {
	Server ServerConfig `yaml:"server"`

	// CommandsFile is the path to the YAML command registry (the whitelist of
	// intents the engine may resolve to). Required.
	CommandsFile string `yaml:"commands_file"`

	// DataDir is where learned state (adaptation records, macros, cached
	// intent embeddings) is kept when file-backed stores are used.
	DataDir string `yaml:"data_dir"`

	// Watch enables hot reloading of this file and the command registry.
	Watch bool `yaml:"watch"`

	Matching     MatchingConfig     `yaml:"matching"`
	Adaptation   AdaptationConfig   `yaml:"adaptation"`
	Context      ContextConfig      `yaml:"context"`
	Embeddings   EmbeddingsConfig   `yaml:"embeddings"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
}

// ServerConfig holds network and logging settings for the Earshot daemon.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP/WebSocket server listens on.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// MatchingConfig holds the thresholds and weights of the scoring pipeline.
// Every value here is hot-reloadable.
type MatchingConfig struct {
	// FuzzyThreshold is the minimum similarity ratio for a fuzzy candidate.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`

	// SemanticThreshold is the minimum cosine similarity for a semantic
	// candidate.
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// MinConfidence is the composite-score floor below which no candidate is
	// selectable. The effective floor scales up with utterance length.
	MinConfidence float64 `yaml:"min_confidence"`

	// UseSemanticFallback enables the embedding-based matching stage.
	UseSemanticFallback bool `yaml:"use_semantic_fallback"`

	// UseGrammarPatterns enables the template matching stage.
	UseGrammarPatterns bool `yaml:"use_grammar_patterns"`

	// AmbiguityEpsilon is the composite-score distance within which two top
	// candidates are treated as an ambiguous tie (forcing the confirm tier).
	AmbiguityEpsilon float64 `yaml:"ambiguity_epsilon"`

	// Weights assigns the per-method multipliers of the composite score.
	Weights WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds one multiplier per matching method. A zero weight
// removes the method's contribution from both the numerator and the
// normalization denominator.
type WeightsConfig struct {
	Exact    float64 `yaml:"exact"`
	Fuzzy    float64 `yaml:"fuzzy"`
	Phonetic float64 `yaml:"phonetic"`
	Semantic float64 `yaml:"semantic"`
	Context  float64 `yaml:"context"`
	Grammar  float64 `yaml:"grammar"`
}

// AdaptationConfig holds settings for the learned-bias store.
type AdaptationConfig struct {
	// RepeatThreshold is how many times the same correction must be observed
	// before it becomes an active pronunciation bias.
	RepeatThreshold int `yaml:"repeat_threshold"`

	// Store selects the persistence backend.
	Store StoreKind `yaml:"store"`

	// PostgresDSN is required when Store is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ContextConfig holds settings for the conversational context tracker.
type ContextConfig struct {
	// HistoryCapacity bounds the executed-command history ring. Oldest
	// entries are evicted first.
	HistoryCapacity int `yaml:"history_capacity"`
}

// EmbeddingsConfig selects and configures the embeddings provider used by the
// semantic matching stage.
type EmbeddingsConfig struct {
	// Provider selects a registered provider implementation
	// ("openai", "ollama", "local"). Empty falls back to "local".
	Provider string `yaml:"provider"`

	// APIKey authenticates against hosted providers. Ignored by ollama/local.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the embedding model (e.g. "text-embedding-3-small",
	// "all-minilm").
	Model string `yaml:"model"`

	// Dimensions overrides the vector length for providers that support it.
	Dimensions int `yaml:"dimensions"`

	// Index selects where intent embeddings are stored.
	Index IndexKind `yaml:"index"`

	// PostgresDSN is required when Index is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DispatchConfig holds settings for the execution worker pool.
type DispatchConfig struct {
	// Workers is the number of concurrent executor workers.
	Workers int `yaml:"workers"`

	// QueueSize bounds the pending-job queue. Submissions beyond this are
	// rejected rather than blocking resolution.
	QueueSize int `yaml:"queue_size"`
}

// ConfirmationConfig holds settings for confirm-tier resolutions.
type ConfirmationConfig struct {
	// Timeout is how long a confirm-tier resolution waits for an answer
	// before it is cancelled.
	Timeout Duration `yaml:"timeout"`
}

// Default returns a Config populated with the documented defaults. Loaders
// decode user YAML over this value, so explicit zero values (e.g. disabling
// the semantic stage) survive.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8465",
			LogLevel:   LogInfo,
		},
		DataDir: "data",
		Matching: MatchingConfig{
			FuzzyThreshold:      0.70,
			SemanticThreshold:   0.65,
			MinConfidence:       0.45,
			UseSemanticFallback: true,
			UseGrammarPatterns:  true,
			AmbiguityEpsilon:    0.05,
			Weights: WeightsConfig{
				Exact:    1.0,
				Fuzzy:    0.6,
				Phonetic: 0.5,
				Semantic: 0.8,
				Context:  0.3,
				Grammar:  0.7,
			},
		},
		Adaptation: AdaptationConfig{
			RepeatThreshold: 2,
			Store:           StoreFile,
		},
		Context: ContextConfig{
			HistoryCapacity: 20,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "local",
			Index:    IndexMemory,
		},
		Dispatch: DispatchConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Confirmation: ConfirmationConfig{
			Timeout: Duration(12 * time.Second),
		},
	}
}
