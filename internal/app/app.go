// Package app wires all Fateweaver subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects every
// subsystem from the configuration, Run serves HTTP until the context is
// cancelled, and Shutdown tears the session manager and the remaining
// subsystems down in order.
//
// Backends (model providers, vector store, state store) are constructed by
// the caller, typically main.go via the config registry, and passed in
// through [Providers]. Tests inject mocks the same way.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/config"
	"github.com/MrWong99/fateweaver/internal/coordinator"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/health"
	"github.com/MrWong99/fateweaver/internal/lore"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/resilience"
	"github.com/MrWong99/fateweaver/internal/scene"
	"github.com/MrWong99/fateweaver/internal/server"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/provider/embeddings"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

// drainTimeout bounds the HTTP listener shutdown inside Run. Live WebSocket
// sessions are closed separately by [App.Shutdown] through the session
// manager.
const drainTimeout = 10 * time.Second

// Providers holds the backends the application runs on. Populated by main.go
// via the config registry; tests fill it with mocks.
type Providers struct {
	// LLM is the narrative model behind the failover chain. Required.
	LLM *resilience.LLMFailover

	// Embeddings powers lore vector search and NPC memory recall. Nil
	// degrades retrieval to keyword-only.
	Embeddings embeddings.Provider

	// Vectors stores lore and NPC memory embeddings. Nil disables the
	// vector pass and memory persistence.
	Vectors vector.Store

	// States persists session snapshots. Nil falls back to an in-process
	// store, losing sessions on restart.
	States game.Store
}

// App owns all subsystem lifetimes for one Fateweaver server process.
type App struct {
	cfg       *config.Config
	providers *Providers

	version  string
	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	packs      *worldpack.Cache
	retrievers map[string]*lore.Retriever
	coord      *coordinator.Coordinator
	manager    *server.Manager
	health     *health.Handler

	watchPath string

	// closers are called in order during Shutdown, after the session
	// manager has drained.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithVersion sets the version string reported by the health endpoints.
// Defaults to "dev".
func WithVersion(v string) Option {
	return func(a *App) {
		if v != "" {
			a.version = v
		}
	}
}

// WithLogControl hands the app the level var behind the process logger so
// config reloads can change verbosity without a restart.
func WithLogControl(lvl *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lvl }
}

// WithConfigWatch starts a watcher on the config file at path and applies
// hot-reloadable changes through [App.ApplyConfig].
func WithConfigWatch(path string) Option {
	return func(a *App) { a.watchPath = path }
}

// WithMetrics routes instrument recording to m instead of the process
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) {
		if m != nil {
			a.metrics = m
		}
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together: world packs, lore
// retrievers, the agent registry, the turn coordinator and the session
// manager. The providers struct comes from main.go (populated via the config
// registry).
//
// New performs all initialisation synchronously: pack loading and
// validation, lore indexing, NPC memory seeding and manager construction, so
// a misconfigured server fails before it accepts a single connection.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required (providers.llm)")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		version:   "dev",
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if a.providers.States == nil {
		a.providers.States = game.NewMemStore()
	}
	if a.providers.Embeddings != nil {
		slog.Info("embeddings ready", "model", a.providers.Embeddings.ModelID())
	}

	// ── 1. World packs ───────────────────────────────────────────────────
	if err := a.initPacks(); err != nil {
		return nil, fmt.Errorf("app: init packs: %w", err)
	}

	// ── 2. Lore retrievers ───────────────────────────────────────────────
	if err := a.initRetrievers(ctx); err != nil {
		return nil, fmt.Errorf("app: init retrievers: %w", err)
	}

	// ── 3. Agents + coordinator ──────────────────────────────────────────
	a.initCoordinator()

	// ── 4. NPC memory seeding ────────────────────────────────────────────
	if err := a.seedMemories(ctx); err != nil {
		return nil, fmt.Errorf("app: seed npc memories: %w", err)
	}

	// ── 5. Session manager ───────────────────────────────────────────────
	if err := a.initManager(); err != nil {
		return nil, fmt.Errorf("app: init manager: %w", err)
	}

	// ── 6. Health endpoints ──────────────────────────────────────────────
	a.initHealth()

	// ── 7. Config watcher (optional) ─────────────────────────────────────
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.ApplyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.closers = append(a.closers, func() error {
			w.Stop()
			return nil
		})
		slog.Info("config watcher started", "path", a.watchPath)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initPacks loads and validates every configured world pack.
func (a *App) initPacks() error {
	a.packs = worldpack.NewCache()
	for _, path := range a.cfg.Worlds.Packs {
		if _, err := a.packs.Register(path); err != nil {
			return fmt.Errorf("register world pack %q: %w", path, err)
		}
	}
	return nil
}

// initRetrievers builds one lore retriever per pack and indexes the lore
// when a vector store is configured, so store problems surface at startup
// instead of on the first player question.
func (a *App) initRetrievers(ctx context.Context) error {
	tun := a.cfg.Retrieval.Tunables()
	a.retrievers = make(map[string]*lore.Retriever)
	for _, id := range a.packs.IDs() {
		pack, err := a.packs.Get(id)
		if err != nil {
			return err
		}
		rt := lore.New(pack, a.providers.Vectors, lore.WithTunables(tun))
		if a.providers.Vectors != nil {
			if err := rt.Index(ctx); err != nil {
				return fmt.Errorf("index lore for pack %q: %w", id, err)
			}
		}
		a.retrievers[id] = rt
	}
	return nil
}

// initCoordinator registers the agents and builds the turn coordinator over
// them.
func (a *App) initCoordinator() {
	registry := agent.NewRegistry()
	registry.Register(agent.NewLibrarian(a.retrievers))

	roleplayOpts := []agent.RoleplayOption{
		agent.WithMemoryTopK(a.cfg.Engine.MemoryTopK),
	}
	if a.providers.Vectors != nil {
		roleplayOpts = append(roleplayOpts, agent.WithMemoryStore(a.providers.Vectors))
	}
	registry.Register(agent.NewRoleplayer(a.providers.LLM, roleplayOpts...))
	registry.Register(agent.NewRule(a.providers.LLM))

	coordOpts := []coordinator.Option{
		coordinator.WithMaxIterations(a.cfg.Engine.MaxIterations),
		coordinator.WithHistoryLength(a.cfg.Engine.HistoryLength),
		coordinator.WithLLMTimeout(a.cfg.Engine.LLMTimeout()),
		coordinator.WithTurnBudget(a.cfg.Engine.TurnBudget()),
		coordinator.WithMetrics(a.metrics),
	}
	if a.providers.Vectors != nil {
		coordOpts = append(coordOpts, coordinator.WithMemoryStore(a.providers.Vectors))
	}
	if a.cfg.Server.EmitProcessingPhase {
		coordOpts = append(coordOpts, coordinator.WithProcessingPhase())
	}

	a.coord = coordinator.New(a.providers.LLM, registry, a.packs,
		scene.NewAssembler(a.packs), coordOpts...)
}

// seedMemories loads each pack's baked-in NPC memories into the vector
// store. A no-op without one.
func (a *App) seedMemories(ctx context.Context) error {
	if a.providers.Vectors == nil {
		return nil
	}
	for _, id := range a.packs.IDs() {
		pack, err := a.packs.Get(id)
		if err != nil {
			return err
		}
		if err := a.coord.SeedNPCMemories(ctx, pack); err != nil {
			return err
		}
	}
	return nil
}

// initManager builds the WebSocket session manager.
func (a *App) initManager() error {
	m, err := server.NewManager(server.Config{
		Coordinator:   a.coord,
		Packs:         a.packs,
		Store:         a.providers.States,
		Metrics:       a.metrics,
		ChannelBuffer: a.cfg.Server.ChannelBuffer,
		IdleTTL:       a.cfg.Server.SessionIdleTTL(),
		DefaultLang:   a.cfg.Engine.DefaultLang,
	})
	if err != nil {
		return err
	}
	a.manager = m
	return nil
}

// initHealth assembles the readiness checkers over the wired backends.
func (a *App) initHealth() {
	checkers := []health.Checker{
		{
			Name: "state_store",
			Check: func(ctx context.Context) error {
				_, err := a.providers.States.List(ctx)
				return err
			},
		},
		{
			Name:  "llm",
			Check: a.checkLLM,
		},
	}

	// Vector stores expose connectivity checks only when there is a remote
	// to lose; the embedded store needs none.
	if p, ok := a.providers.Vectors.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checkers = append(checkers, health.Checker{Name: "vector_store", Check: p.Ping})
	}

	a.health = health.New(a.version, checkers...)
}

// checkLLM reports failure only when every model backend's circuit breaker
// is open: a session can still run turns as long as one backend is healthy.
func (a *App) checkLLM(_ context.Context) error {
	states := a.providers.LLM.States()
	open := 0
	for _, st := range states {
		if st == resilience.StateOpen {
			open++
		}
	}
	if len(states) > 0 && open == len(states) {
		return fmt.Errorf("all %d model backends have open circuit breakers", open)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the WebSocket endpoint, the health probes and the Prometheus
// metrics until ctx is cancelled. When ctx is done, Run drains the HTTP
// listener and returns context.Canceled (or the listen error, if the server
// never came up).
func (a *App) Run(ctx context.Context) error {
	ops := http.NewServeMux()
	a.health.Register(ops)
	ops.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.Handle("/", observe.Middleware(a.metrics)(ops))
	mux.HandleFunc("GET /ws", a.manager.ServeWS)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	slog.Info("server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"packs", len(a.packs.IDs()),
	)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Stop accepting new connections. Live WebSocket sessions are hijacked
	// from the listener and closed later by Shutdown via the manager.
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	<-errCh

	return ctx.Err()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change: the log
// level and the retrieval tunables. Every other changed key is logged as
// requiring a restart. The config watcher calls it on each file change; it
// is safe to call directly, for example from a SIGHUP handler.
func (a *App) ApplyConfig(oldCfg, newCfg *config.Config) {
	d := config.Diff(oldCfg, newCfg)
	if d.Empty() {
		slog.Debug("config reloaded with no effective changes")
		return
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		} else {
			slog.Warn("log level change ignored, no level control wired")
		}
	}

	if d.RetrievalChanged {
		for id, rt := range a.retrievers {
			rt.SetTunables(d.Retrieval)
			slog.Info("retrieval tunables updated", "pack", id)
		}
	}

	for _, key := range d.RestartRequired {
		slog.Warn("config change needs a restart to take effect", "key", key)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown drains in-flight turns, snapshots live sessions and tears down
// the remaining subsystems in order. It respects the context deadline: if
// ctx expires, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.manager.Close(ctx); err != nil {
			slog.Warn("session manager close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
