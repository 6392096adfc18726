// Command earshot is the voice-command resolution daemon.
//
// It loads the command whitelist, replays learned adaptation state, builds
// the resolution pipeline, and serves the HTTP/WebSocket API until
// interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/earshot/internal/adapt"
	adaptpg "github.com/MrWong99/earshot/internal/adapt/postgres"
	"github.com/MrWong99/earshot/internal/analytics"
	"github.com/MrWong99/earshot/internal/command"
	"github.com/MrWong99/earshot/internal/config"
	"github.com/MrWong99/earshot/internal/devctx"
	"github.com/MrWong99/earshot/internal/dispatch"
	"github.com/MrWong99/earshot/internal/health"
	"github.com/MrWong99/earshot/internal/macro"
	"github.com/MrWong99/earshot/internal/match"
	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/recovery"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/internal/resolver"
	"github.com/MrWong99/earshot/internal/semindex"
	semindexpg "github.com/MrWong99/earshot/internal/semindex/postgres"
	"github.com/MrWong99/earshot/internal/server"
	"github.com/MrWong99/earshot/pkg/provider/embeddings"
	localembed "github.com/MrWong99/earshot/pkg/provider/embeddings/local"
	ollamaembed "github.com/MrWong99/earshot/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/earshot/pkg/provider/embeddings/openai"
	"github.com/MrWong99/earshot/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "earshot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Command registry ──────────────────────────────────────────────────────
	registry := command.NewRegistry()
	cmdFile, err := command.LoadCommandsFile(cfg.CommandsFile)
	if err != nil {
		slog.Error("failed to load command set", "path", cfg.CommandsFile, "err", err)
		return 1
	}
	idx, err := registry.SetCommands(cmdFile.Commands)
	if err != nil {
		slog.Error("invalid command set", "path", cfg.CommandsFile, "err", err)
		return 1
	}
	metrics.IndexedCommands.Add(ctx, int64(idx.Len()))
	slog.Info("command set loaded",
		"name", cmdFile.Set.Name,
		"commands", idx.Len(),
		"keywords", len(idx.Vocabulary()),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data dir", "path", cfg.DataDir, "err", err)
		return 1
	}

	// ── Embeddings provider ───────────────────────────────────────────────────
	embReg := config.NewRegistry()
	registerBuiltinEmbeddings(embReg)
	provider, err := buildEmbeddings(cfg.Embeddings, embReg)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Semantic index ────────────────────────────────────────────────────────
	semIdx, closeSemIdx, err := buildSemanticIndex(ctx, cfg.Embeddings, provider)
	if err != nil {
		slog.Error("failed to open semantic index", "err", err)
		return 1
	}
	if closeSemIdx != nil {
		defer closeSemIdx()
	}
	if cfg.Matching.UseSemanticFallback {
		start := time.Now()
		if err := semindex.Rebuild(ctx, semIdx, idx, provider); err != nil {
			slog.Warn("semantic index rebuild failed, semantic stage degraded", "err", err)
		} else {
			count, _ := semIdx.Count(ctx)
			slog.Info("semantic index ready", "entries", count, "elapsed", time.Since(start))
		}
	}

	// ── Adaptation store ──────────────────────────────────────────────────────
	store, err := buildAdaptStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open adaptation store", "err", err)
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("adaptation store close error", "err", err)
		}
	}()
	adapter, err := adapt.New(ctx, store,
		adapt.WithRepeatThreshold(cfg.Adaptation.RepeatThreshold),
		adapt.WithLogger(logger),
	)
	if err != nil {
		slog.Error("failed to replay adaptation store", "err", err)
		return 1
	}

	// ── Session state ─────────────────────────────────────────────────────────
	tracker := devctx.NewTracker(
		devctx.WithCapacity(cfg.Context.HistoryCapacity),
		devctx.WithLogger(logger),
	)
	usage := analytics.New(analytics.WithLogger(logger))
	usage.StartSession(time.Now())

	macros, err := macro.NewManager(filepath.Join(cfg.DataDir, "macros.json"), registry,
		macro.WithLogger(logger))
	if err != nil {
		slog.Error("failed to load macros", "err", err)
		return 1
	}

	// ── Suggestions ───────────────────────────────────────────────────────────
	suggestOpts := []recovery.Option{
		recovery.WithBaseThreshold(cfg.Matching.FuzzyThreshold),
		recovery.WithUsage(usage),
		recovery.WithLogger(logger),
	}
	if cfg.Matching.UseSemanticFallback {
		suggestOpts = append(suggestOpts, recovery.WithSemantic(
			match.NewSemantic(provider, semIdx,
				match.WithSemanticThreshold(cfg.Matching.SemanticThreshold)),
		))
	}
	suggester := recovery.New(
		match.NewFuzzy(match.WithFuzzyThreshold(cfg.Matching.FuzzyThreshold)),
		suggestOpts...,
	)

	// ── Resolver ──────────────────────────────────────────────────────────────
	res := resolver.New(registry, cfg.Matching,
		resolver.WithLogger(logger),
		resolver.WithMetrics(metrics),
		resolver.WithContextTracker(tracker),
		resolver.WithAdapter(adapter),
		resolver.WithAnalytics(usage),
		resolver.WithSuggester(suggester),
		resolver.WithSemanticBackend(provider, semIdx),
		resolver.WithConfirmationTTL(cfg.Confirmation.Timeout.AsDuration()),
	)

	// ── Dispatch pool ─────────────────────────────────────────────────────────
	exec := &executor{logger: logger, macros: macros}
	pool := dispatch.New(exec,
		dispatch.WithWorkers(cfg.Dispatch.Workers),
		dispatch.WithQueueSize(cfg.Dispatch.QueueSize),
		dispatch.WithLogger(logger),
		dispatch.WithCallback(func(r dispatch.Result) {
			recordOutcome(r, tracker, usage, adapter)
		}),
	)
	exec.resolver = res
	exec.submit = pool.Submit
	pool.Start(ctx)
	defer pool.Stop()

	// ── Hot reload ────────────────────────────────────────────────────────────
	if cfg.Watch {
		cfgWatcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(old, new, res, adapter, tracker, logLevel)
		})
		if err != nil {
			slog.Warn("config watcher unavailable", "err", err)
		} else {
			defer cfgWatcher.Stop()
		}

		cmdWatcher, err := command.NewWatcher(cfg.CommandsFile, registry,
			command.WithOnSwap(func(old, new *command.Index) {
				metrics.IndexedCommands.Add(ctx, int64(new.Len()-old.Len()))
				if cfg.Matching.UseSemanticFallback {
					if err := semindex.Rebuild(ctx, semIdx, new, provider); err != nil {
						slog.Warn("semantic re-embed after reload failed", "err", err)
					}
				}
			}))
		if err != nil {
			slog.Warn("command watcher unavailable", "err", err)
		} else {
			defer cmdWatcher.Stop()
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	app := server.New(res, registry,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithMacros(macros),
		server.WithDispatch(pool),
		server.WithContextTracker(tracker),
		server.WithHealth(health.New(healthCheckers(registry, semIdx, provider, cfg)...)),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, cmdFile, macros.Len())
	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("http server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	usage.EndSession(time.Now())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Executor ──────────────────────────────────────────────────────────────────

// executor is the built-in dispatch executor. The engine never performs OS
// actions itself; regular intents are logged at the execution boundary for
// the desktop agent consuming the callback stream, while macro intents are
// expanded into their recorded steps and fed back through the resolver.
type executor struct {
	logger   *slog.Logger
	macros   *macro.Manager
	resolver *resolver.Resolver
	submit   func(types.Resolution, dispatch.Priority) (string, error)
}

func (e *executor) Execute(ctx context.Context, res types.Resolution) error {
	if steps, ok := e.macros.Steps(res.IntentID); ok {
		return e.runMacro(ctx, res, steps)
	}
	e.logger.Info("intent ready",
		"intent", res.IntentID,
		"slots", res.Slots,
		"tier", res.Tier.String(),
		"confidence", res.Confidence,
	)
	return nil
}

// runMacro resolves each recorded step as its own utterance and queues the
// executable ones at low priority. Steps that resolve to another macro are
// skipped: one level of expansion keeps a mis-saved macro from recursing.
func (e *executor) runMacro(ctx context.Context, res types.Resolution, steps []string) error {
	for i, step := range steps {
		utt := types.Utterance{
			ID:         uuid.NewString(),
			Text:       step,
			Confidence: 1,
			Timestamp:  time.Now(),
		}
		stepRes, err := e.resolver.Resolve(ctx, utt)
		if err != nil {
			return fmt.Errorf("macro %s step %d %q: %w", res.IntentID, i+1, step, err)
		}
		if _, nested := e.macros.Steps(stepRes.IntentID); nested {
			e.logger.Warn("nested macro step skipped",
				"macro", res.IntentID, "step", step)
			continue
		}
		if !stepRes.Tier.Executable() {
			if stepRes.Tier == types.TierConfirm {
				// A macro step is not a user utterance; nobody will answer.
				_ = e.resolver.Cancel(stepRes.ID)
			}
			e.logger.Warn("macro step did not resolve to an executable intent",
				"macro", res.IntentID, "step", step, "tier", stepRes.Tier.String())
			continue
		}
		if _, err := e.submit(stepRes, dispatch.PriorityLow); err != nil {
			return fmt.Errorf("macro %s step %q: %w", res.IntentID, step, err)
		}
	}
	return nil
}

// recordOutcome folds one completed job into session state: history for
// pronoun and repeat resolution, analytics for usage boosts, and app usage
// for time-of-day preferences. Failures only count against the intent.
func recordOutcome(r dispatch.Result, tracker *devctx.Tracker, usage *analytics.Tracker, adapter *adapt.Adapter) {
	now := time.Now()
	usage.RecordExecution(r.Resolution.IntentID, r.Err == nil, r.Elapsed, now)
	if r.Err != nil {
		return
	}

	phrase := strings.ReplaceAll(r.Resolution.IntentID, "_", " ")
	tracker.Push(devctx.Record{
		IntentID: r.Resolution.IntentID,
		Phrase:   phrase,
		Slots:    r.Resolution.Slots,
		At:       now,
	})

	if ent := devctx.DeriveEntity(phrase, r.Resolution.Slots); ent.Kind == devctx.EntityApp {
		// Callbacks can outlive the signal context during drain; the record
		// must still land.
		if err := adapter.RecordAppUsage(context.Background(), ent.Value, now); err != nil {
			slog.Warn("app usage record failed", "app", ent.Value, "err", err)
		}
	}
}

// ── Embeddings wiring ─────────────────────────────────────────────────────────

// registerBuiltinEmbeddings wires the embeddings provider factories that ship
// with Earshot into reg.
func registerBuiltinEmbeddings(reg *config.Registry) {
	reg.RegisterEmbeddings("openai", func(ec config.EmbeddingsConfig) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if ec.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(ec.BaseURL))
		}
		if ec.Dimensions > 0 {
			opts = append(opts, oaembed.WithDimensions(ec.Dimensions))
		}
		return oaembed.New(ec.APIKey, ec.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(ec config.EmbeddingsConfig) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if ec.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(ec.Dimensions))
		}
		return ollamaembed.New(ec.BaseURL, ec.Model, opts...)
	})

	reg.RegisterEmbeddings("local", func(ec config.EmbeddingsConfig) (embeddings.Provider, error) {
		var opts []localembed.Option
		if ec.Dimensions > 0 {
			opts = append(opts, localembed.WithDimensions(ec.Dimensions))
		}
		return localembed.New(opts...)
	})
}

// buildEmbeddings instantiates the configured provider. Remote providers are
// wrapped in a circuit-breaker fallback chain ending at the local hash
// embedder, so the semantic stage survives network loss.
func buildEmbeddings(ec config.EmbeddingsConfig, reg *config.Registry) (embeddings.Provider, error) {
	name := ec.Provider
	if name == "" {
		name = "local"
		ec.Provider = name
	}

	primary, err := reg.CreateEmbeddings(ec)
	if err != nil {
		return nil, fmt.Errorf("embeddings provider %q: %w", name, err)
	}
	if name == "local" {
		return primary, nil
	}

	fallbackLocal, err := localembed.New(localembed.WithDimensions(primary.Dimensions()))
	if err != nil {
		return nil, fmt.Errorf("local fallback embedder: %w", err)
	}
	fb := resilience.NewEmbeddingsFallback(primary, name, resilience.FallbackConfig{})
	fb.AddFallback("local", fallbackLocal)
	slog.Info("embeddings fallback chain ready", "primary", name, "fallback", "local")
	return fb, nil
}

// buildSemanticIndex opens the configured vector index. The returned close
// function is nil for the in-memory index.
func buildSemanticIndex(ctx context.Context, ec config.EmbeddingsConfig, provider embeddings.Provider) (semindex.Index, func(), error) {
	if ec.Index == config.IndexPostgres {
		pg, err := semindexpg.NewStore(ctx, ec.PostgresDSN, provider.Dimensions())
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector index: %w", err)
		}
		return pg, pg.Close, nil
	}
	return semindex.NewMemory(), nil, nil
}

// buildAdaptStore opens the configured adaptation persistence backend.
func buildAdaptStore(ctx context.Context, cfg *config.Config) (adapt.Store, error) {
	if cfg.Adaptation.Store == config.StorePostgres {
		return adaptpg.NewStore(ctx, cfg.Adaptation.PostgresDSN)
	}
	return adapt.NewFileStore(filepath.Join(cfg.DataDir, "adaptation.jsonl")), nil
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable parts of a changed config and
// logs what needs a restart.
func applyConfigChange(old, new *config.Config, res *resolver.Resolver, adapter *adapt.Adapter, tracker *devctx.Tracker, logLevel *slog.LevelVar) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	slog.Info("config file changed", "summary", d.Describe())

	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.MatchingChanged {
		res.Reconfigure(new.Matching)
	}
	if d.RepeatThresholdChanged {
		adapter.SetRepeatThreshold(new.Adaptation.RepeatThreshold)
	}
	if d.HistoryCapacityChanged {
		tracker.SetCapacity(new.Context.HistoryCapacity)
	}
	if d.ConfirmationTimeoutChanged {
		res.SetConfirmationTTL(new.Confirmation.Timeout.AsDuration())
	}
	for _, path := range d.RestartRequired {
		slog.Warn("config change requires restart to take effect", "field", path)
	}
}

// ── Health ────────────────────────────────────────────────────────────────────

func healthCheckers(registry *command.Registry, semIdx semindex.Index, provider embeddings.Provider, cfg *config.Config) []health.Checker {
	checkers := []health.Checker{
		{
			Name: "command_index",
			Check: func(context.Context) error {
				_, err := registry.Snapshot()
				return err
			},
		},
	}
	if cfg.Matching.UseSemanticFallback {
		checkers = append(checkers, health.Checker{
			Name: "semantic_index",
			Check: func(ctx context.Context) error {
				_, err := semIdx.Count(ctx)
				return err
			},
		})
	}
	if fb, ok := provider.(*resilience.EmbeddingsFallback); ok {
		checkers = append(checkers, health.Checker{
			Name: "embeddings",
			Check: func(context.Context) error {
				snaps := fb.Snapshots()
				for _, s := range snaps {
					if s.State != resilience.StateOpen.String() {
						return nil
					}
				}
				return fmt.Errorf("all %d embeddings providers have open circuit breakers", len(snaps))
			},
		})
	}
	return checkers
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, set *command.CommandsFile, macroCount int) {
	embName := cfg.Embeddings.Provider
	if embName == "" {
		embName = "local"
	}
	if cfg.Embeddings.Model != "" {
		embName += " / " + cfg.Embeddings.Model
	}
	semantic := "off"
	if cfg.Matching.UseSemanticFallback {
		semantic = "on / " + string(cfg.Embeddings.Index)
	}
	grammar := "off"
	if cfg.Matching.UseGrammarPatterns {
		grammar = "on"
	}
	watch := "disabled"
	if cfg.Watch {
		watch = "enabled"
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Earshot — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Command set", set.Set.Name)
	printRow("Commands", strconv.Itoa(len(set.Commands)))
	printRow("Macros", strconv.Itoa(macroCount))
	printRow("Embeddings", embName)
	printRow("Semantic", semantic)
	printRow("Grammar", grammar)
	printRow("Adaptation", string(cfg.Adaptation.Store))
	printRow("Dispatch", fmt.Sprintf("%dw / %dq", cfg.Dispatch.Workers, cfg.Dispatch.QueueSize))
	printRow("Hot reload", watch)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity without a restart.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	return logger, lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
