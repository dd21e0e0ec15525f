// Command fateweaver is the main entry point for the Fateweaver game server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/fateweaver/internal/app"
	"github.com/MrWong99/fateweaver/internal/config"
	"github.com/MrWong99/fateweaver/internal/game"
	gamepostgres "github.com/MrWong99/fateweaver/internal/game/postgres"
	gameredis "github.com/MrWong99/fateweaver/internal/game/redis"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/resilience"
	"github.com/MrWong99/fateweaver/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/fateweaver/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/fateweaver/pkg/provider/embeddings/openai"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/fateweaver/pkg/provider/llm/openai"
	"github.com/MrWong99/fateweaver/pkg/vector"
	"github.com/MrWong99/fateweaver/pkg/vector/chromem"
	"github.com/MrWong99/fateweaver/pkg/vector/pgvector"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", false, "reload retrieval tunables and log level when the config file changes")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fateweaver " + version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "fateweaver: config file %q not found (copy configs/example.yaml to get started)\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "fateweaver: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("fateweaver starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "fateweaver",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend registry ──────────────────────────────────────────────────────
	var backendClosers []func() error
	defer func() {
		for i := len(backendClosers) - 1; i >= 0; i-- {
			if err := backendClosers[i](); err != nil {
				slog.Warn("backend close error", "index", i, "err", err)
			}
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinBackends(reg, &backendClosers)

	// ── Instantiate backends ──────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	if providers.Vectors != nil {
		backendClosers = append(backendClosers, providers.Vectors.Close)
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	appOpts := []app.Option{
		app.WithVersion(version),
		app.WithLogControl(logLevel),
	}
	if *watch {
		appOpts = append(appOpts, app.WithConfigWatch(*configPath))
	}

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// builtinBackends maps backend category names to the implementations that
// ship with Fateweaver. Used for startup logging.
var builtinBackends = map[string][]string{
	"llm":        {"openai", "anyllm"},
	"embeddings": {"openai", "ollama"},
	"vector":     {"chromem", "pgvector"},
	"state":      {"memory", "postgres", "redis"},
}

// registerBuiltinBackends wires all built-in factories into reg. Factories
// that open their own connections (postgres, redis) append close functions
// to closers; the caller runs them in reverse order on exit.
func registerBuiltinBackends(reg *config.Registry, closers *[]func() error) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai talks to the OpenAI chat completions API directly.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm is the gateway to every other vendor; entry.Provider names the
	// upstream (anthropic, deepseek, ollama, ...).
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Provider, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Vector stores ─────────────────────────────────────────────────────────

	reg.RegisterVector(config.VectorChromem, func(_ context.Context, vc config.VectorConfig, embedder embeddings.Provider) (vector.Store, error) {
		var opts []chromem.Option
		if vc.PersistPath != "" {
			opts = append(opts, chromem.WithPersistPath(vc.PersistPath))
		}
		return chromem.New(embedder, opts...)
	})

	reg.RegisterVector(config.VectorPgvector, func(ctx context.Context, vc config.VectorConfig, embedder embeddings.Provider) (vector.Store, error) {
		return pgvector.New(ctx, vc.PostgresDSN, embedder)
	})

	// ── State stores ──────────────────────────────────────────────────────────

	reg.RegisterState(config.StateMemory, func(context.Context, config.StateConfig) (game.Store, error) {
		return game.NewMemStore(), nil
	})

	reg.RegisterState(config.StatePostgres, func(ctx context.Context, sc config.StateConfig) (game.Store, error) {
		store, err := gamepostgres.NewStore(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, func() error {
			store.Close()
			return nil
		})
		return store, nil
	})

	reg.RegisterState(config.StateRedis, func(ctx context.Context, sc config.StateConfig) (game.Store, error) {
		client := goredis.NewClient(&goredis.Options{Addr: sc.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", sc.RedisAddr, err)
		}
		*closers = append(*closers, client.Close)

		var opts []gameredis.Option
		if ttl := sc.TTL(); ttl > 0 {
			opts = append(opts, gameredis.WithTTL(ttl))
		}
		return gameredis.NewStore(client, opts...), nil
	})

	// Debug log of all registered backends.
	for kind, names := range builtinBackends {
		for _, name := range names {
			slog.Debug("registered backend", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the backends named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. The primary model and every configured fallback are chained
// behind one failover wrapper.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	// ── LLM + failover chain ──────────────────────────────────────────────────
	primaryName := cfg.Providers.LLM.Name
	if primaryName == "" {
		return nil, errors.New("providers.llm.name is required to run the server")
	}
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", primaryName, err)
	}
	failover := resilience.NewLLMFailover(primary, providerLabel(cfg.Providers.LLM), resilience.FallbackConfig{})
	for i, fb := range cfg.Providers.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback provider %q (index %d): %w", fb.Name, i, err)
		}
		failover.AddFallback(providerLabel(fb), p)
	}
	ps.LLM = failover
	slog.Info("llm provider ready",
		"name", primaryName,
		"model", cfg.Providers.LLM.Model,
		"fallbacks", len(cfg.Providers.Fallbacks),
	)

	// ── Embeddings ────────────────────────────────────────────────────────────
	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("embeddings provider ready", "name", name, "model", cfg.Providers.Embeddings.Model)
	}

	// ── Vector store (needs an embedder) ──────────────────────────────────────
	if ps.Embeddings != nil {
		store, err := reg.CreateVector(ctx, cfg.Vector, ps.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create vector store %q: %w", cfg.Vector.Backend, err)
		}
		ps.Vectors = store
		slog.Info("vector store ready", "backend", cfg.Vector.Backend)

		if want := cfg.Vector.Dimensions; want > 0 {
			if got := ps.Embeddings.Dimensions(); got != 0 && got != want {
				slog.Warn("embedding model dimensions differ from vector.dimensions",
					"model", ps.Embeddings.ModelID(), "model_dims", got, "configured", want)
			}
		}
	}

	// ── State store ───────────────────────────────────────────────────────────
	states, err := reg.CreateState(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("create state store %q: %w", cfg.State.Backend, err)
	}
	ps.States = states
	slog.Info("state store ready", "backend", cfg.State.Backend)

	return ps, nil
}

// providerLabel is the name a model backend carries in metrics and breaker
// state: gateway entries include the upstream vendor.
func providerLabel(e config.ProviderEntry) string {
	if e.Provider != "" {
		return e.Name + "/" + e.Provider
	}
	return e.Name
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║       Fateweaver startup summary       ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Providers.Fallbacks))
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	vectorLabel := string(cfg.Vector.Backend)
	if cfg.Providers.Embeddings.Name == "" {
		vectorLabel = "(disabled)"
	}
	fmt.Printf("║  Vector store    : %-19s ║\n", vectorLabel)
	fmt.Printf("║  State store     : %-19s ║\n", string(cfg.State.Backend))
	fmt.Printf("║  World packs     : %-19d ║\n", len(cfg.Worlds.Packs))
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	tlsLabel := "(plain http)"
	if cfg.Server.TLS != nil {
		tlsLabel = "enabled"
	}
	fmt.Printf("║  TLS             : %-19s ║\n", tlsLabel)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger and returns the level var behind it so
// config reloads can adjust verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.SlogLevel())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. Returns 0 if the
// map is nil, the key is absent, or the value is not numeric. YAML decodes
// whole numbers as int; JSON as float64.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
