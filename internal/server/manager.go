package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/fateweaver/internal/coordinator"
	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/protocol"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// Config assembles a [Manager].
type Config struct {
	// Coordinator runs turns. Required.
	Coordinator *coordinator.Coordinator

	// Packs resolves world packs for new sessions. Required.
	Packs coordinator.Packs

	// Store persists session snapshots. Optional: without it sessions live
	// only in memory and rebinding after a restart is impossible.
	Store game.Store

	// Metrics receives server instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// ChannelBuffer caps each session's outbound queue. Defaults to 64.
	ChannelBuffer int

	// IdleTTL evicts sessions idle longer than this. Zero or negative
	// disables eviction.
	IdleTTL time.Duration

	// SweepInterval is how often idle sessions are checked. Defaults to
	// one minute.
	SweepInterval time.Duration

	// DefaultLang is the session language when the client names none.
	// Defaults to [types.LangCN].
	DefaultLang types.Lang
}

// Manager owns every live session: creation, rebinding, the busy gate,
// persistence and idle eviction. One Manager serves all WebSocket
// connections of the process.
type Manager struct {
	coord       *coordinator.Coordinator
	packs       coordinator.Packs
	store       game.Store
	metrics     *observe.Metrics
	bufCap      int
	idleTTL     time.Duration
	sweepEvery  time.Duration
	defaultLang types.Lang

	mu       sync.Mutex
	sessions map[string]*session
	draining bool

	// turns counts in-flight turn goroutines so Close can drain them.
	turns sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

// NewManager validates cfg and starts the idle sweeper when eviction is
// enabled.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("server: coordinator is required")
	}
	if cfg.Packs == nil {
		return nil, errors.New("server: packs is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 64
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DefaultLang == "" {
		cfg.DefaultLang = types.LangCN
	}
	if !cfg.DefaultLang.IsValid() {
		return nil, fmt.Errorf("server: unsupported default language %q", cfg.DefaultLang)
	}

	m := &Manager{
		coord:       cfg.Coordinator,
		packs:       cfg.Packs,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		bufCap:      cfg.ChannelBuffer,
		idleTTL:     cfg.IdleTTL,
		sweepEvery:  cfg.SweepInterval,
		defaultLang: cfg.DefaultLang,
		sessions:    make(map[string]*session),
		done:        make(chan struct{}),
	}
	if m.idleTTL > 0 {
		go m.sweepLoop()
	}
	return m, nil
}

// open resolves a session_open frame into a live session. It returns the
// session, or a short stable error phrase for the client when the open is
// invalid. The connection itself stays usable after a failed open.
func (m *Manager) open(ctx context.Context, req protocol.SessionOpen) (*session, string) {
	if req.SessionID != "" {
		return m.rebind(ctx, req.SessionID)
	}
	return m.create(ctx, req)
}

// rebind looks up an existing session, falling back to the snapshot store
// for sessions evicted from memory.
func (m *Manager) rebind(ctx context.Context, sessionID string) (*session, string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		return s, ""
	}

	if m.store == nil {
		return nil, "unknown session"
	}
	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, game.ErrSessionNotFound) {
			return nil, "unknown session"
		}
		slog.Error("session load failed", "session_id", sessionID, "err", err)
		return nil, "session load failed"
	}
	if _, err := m.packs.Get(snap.WorldPackID); err != nil {
		slog.Error("session references unknown world pack",
			"session_id", sessionID, "world_pack_id", snap.WorldPackID, "err", err)
		return nil, "unknown world pack"
	}

	s = newSession(sessionID, game.Restore(snap), m.bufCap, m.metrics)
	s, fresh := m.register(s)
	if s == nil {
		return nil, "shutting down"
	}
	if fresh {
		slog.Info("session restored from store",
			"session_id", sessionID, "world_pack_id", snap.WorldPackID, "turn", snap.TurnCount)
	}
	return s, ""
}

// create builds a brand-new session from the open request.
func (m *Manager) create(ctx context.Context, req protocol.SessionOpen) (*session, string) {
	if req.WorldPackID == "" {
		return nil, "world pack required"
	}
	pack, err := m.packs.Get(req.WorldPackID)
	if err != nil {
		return nil, "unknown world pack"
	}

	player, errText := resolveCharacter(pack, req)
	if errText != "" {
		return nil, errText
	}

	lang := req.Lang
	if lang == "" {
		lang = m.defaultLang
	}
	if !lang.IsValid() {
		return nil, "unsupported language"
	}

	start := pack.StartLocation()
	var npcIDs []string
	if loc, ok := pack.Location(start); ok {
		npcIDs = loc.PresentNPCIDs
	}

	id := uuid.NewString()
	st := game.New(id, pack.ID(), lang, player, start, npcIDs)
	s := newSession(id, st, m.bufCap, m.metrics)
	s, fresh := m.register(s)
	if s == nil {
		return nil, "shutting down"
	}
	if fresh {
		m.persist(s)
		slog.Info("session created",
			"session_id", id, "world_pack_id", pack.ID(), "player", player.Name, "lang", lang)
	}
	return s, ""
}

// resolveCharacter picks the player character: an inline sheet wins over a
// preset, a preset over the pack's first preset. Inline sheets get the same
// fate point default the pack loader applies to presets.
func resolveCharacter(pack *worldpack.Pack, req protocol.SessionOpen) (types.PlayerCharacter, string) {
	if req.Character != nil {
		pc := *req.Character
		if pc.FatePoints == 0 {
			pc.FatePoints = types.DefaultFatePoints
		}
		if err := pc.Validate(); err != nil {
			slog.Debug("inline character rejected", "err", err)
			return types.PlayerCharacter{}, "invalid character"
		}
		return pc, ""
	}
	if req.Preset != "" {
		preset, ok := pack.Preset(req.Preset)
		if !ok {
			return types.PlayerCharacter{}, "unknown preset"
		}
		return preset.PlayerCharacter, ""
	}
	presets := pack.Presets()
	if len(presets) == 0 {
		return types.PlayerCharacter{}, "character required"
	}
	return presets[0].PlayerCharacter, ""
}

// register inserts s into the session table, resolving races on concurrent
// rebinds of the same id: the first registration wins and later callers get
// the canonical session. The boolean reports whether s itself was inserted.
// A nil session means the manager is draining.
func (m *Manager) register(s *session) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		s.cancel()
		return nil, false
	}
	if existing, ok := m.sessions[s.id]; ok {
		s.cancel()
		return existing, false
	}
	m.sessions[s.id] = s
	go s.writeLoop()
	m.metrics.ActiveSessions.Add(context.Background(), 1)
	return s, true
}

// handleInput runs one player turn on its own goroutine, respecting the
// busy gate.
func (m *Manager) handleInput(s *session, in protocol.PlayerInput) {
	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining {
		s.Emit(protocol.NewError("shutting down"))
		return
	}
	if !s.startTurn() {
		s.Emit(protocol.NewError("busy"))
		return
	}

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()
		defer s.clearBusy()
		if err := m.coord.Turn(s.ctx, s.state, s, coordinator.TurnInput{
			Content: in.Content,
			Stream:  in.Stream,
		}); err != nil {
			slog.Warn("turn ended with error", "session_id", s.id, "err", err)
		}
		m.persist(s)
	}()
}

// handleDice resumes a suspended turn with the player's roll. A dice_result
// with no pending check reaches the coordinator, which rejects it with its
// own error frame.
func (m *Manager) handleDice(s *session, res protocol.DiceResult) {
	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining {
		s.Emit(protocol.NewError("shutting down"))
		return
	}
	if !s.startResume() {
		s.Emit(protocol.NewError("busy"))
		return
	}

	m.turns.Add(1)
	go func() {
		defer m.turns.Done()
		defer s.clearBusy()
		if err := m.coord.Resume(s.ctx, s.state, s, toDiceResult(res)); err != nil {
			slog.Warn("resume ended with error", "session_id", s.id, "err", err)
		}
		m.persist(s)
	}()
}

// toDiceResult lifts the wire payload into the engine's result type. The
// wire carries only what the client rolled; derived fields stay zero.
func toDiceResult(p protocol.DiceResult) dice.Result {
	return dice.Result{
		AllRolls:  p.AllRolls,
		KeptRolls: p.KeptRolls,
		Total:     p.Result,
		Outcome:   p.Outcome,
	}
}

// persist snapshots s into the store, if one is configured. Persistence is
// best effort: a failed save is logged, never surfaced to the player.
func (m *Manager) persist(s *session) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Save(ctx, s.state.Snapshot()); err != nil {
		slog.Warn("session snapshot save failed", "session_id", s.id, "err", err)
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// sweep evicts sessions idle past the TTL. Evicted sessions are snapshotted
// first so a later rebind restores them from the store.
func (m *Manager) sweep(now time.Time) {
	var idle []*session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now) >= m.idleTTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.persist(s)
		s.shutdown("idle timeout")
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("idle session evicted", "session_id", s.id, "turn", s.state.TurnCount())
	}
}

// Close drains the manager: new input is refused, in-flight turns get until
// ctx expires to finish, then every session is snapshotted and closed.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	m.draining = true
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.turns.Wait()
		close(finished)
	}()
	var drainErr error
	select {
	case <-finished:
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	for _, s := range all {
		m.persist(s)
		s.shutdown("server shutting down")
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session manager closed", "sessions", len(all), "drained", drainErr == nil)
	return drainErr
}
