// Package coordinator runs the game-master reasoning loop at the heart of a
// Fateweaver session.
//
// # Architecture
//
// One player input walks this pipeline:
//
//  1. The input is appended to the transcript and the session enters the
//     processing phase.
//  2. The scene assembler bundles the current location; the bundle, the
//     present characters, the recent transcript and every agent result
//     gathered so far become the game-master prompt.
//  3. The reasoning model answers with one JSON decision: RESPOND ends the
//     turn with narration, CALL_AGENT delegates to one specialist agent.
//  4. A delegation gets a role-scoped context slice; its result feeds the
//     next decision round, up to the iteration cap.
//  5. A rule verdict that demands dice suspends the turn: the loop state is
//     parked on the session, the client is asked to roll, and [Coordinator.Resume]
//     later picks the parked state back up with the result injected.
//
// The coordinator itself holds no session state. Everything a turn needs
// lives on [game.State], so whichever replica holds the state can run or
// resume the turn. Calls for one session must be serialized by the caller;
// across sessions the coordinator is safe for concurrent use.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/llmjson"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/protocol"
	"github.com/MrWong99/fateweaver/internal/scene"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/types"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

var (
	// ErrLoopExceeded is returned when the decision loop burns through its
	// iteration budget without the model committing to a response. The
	// player still receives a completed turn carrying an apology.
	ErrLoopExceeded = errors.New("coordinator: decision loop exceeded")

	// ErrTimeout is returned when a model call or the whole turn runs out
	// of time. The turn is aborted and any pending dice state is cleared.
	ErrTimeout = errors.New("coordinator: turn timed out")

	// ErrTransitionRefused marks a narration that named an unreachable
	// location. It is logged, never returned: the narration still ships,
	// only the movement is dropped.
	ErrTransitionRefused = errors.New("coordinator: transition refused")

	// ErrResumeInvalid is returned when a dice result arrives without a
	// suspended check waiting for it.
	ErrResumeInvalid = errors.New("coordinator: no pending dice check")
)

const (
	defaultMaxIterations = 10
	defaultHistoryLength = 10
	defaultLLMTimeout    = 60 * time.Second
	defaultTurnBudget    = 5 * time.Minute

	// historySnippetLimit caps each transcript line quoted in the prompt.
	historySnippetLimit = 200

	// npcBriefLimit caps the one-line NPC description in the prompt.
	npcBriefLimit = 60

	// gmTemperature leaves the reasoning model room for narration while
	// keeping decisions mostly stable.
	gmTemperature = 0.7
)

// Packs resolves world-pack ids. [worldpack.Cache] satisfies it.
type Packs interface {
	Get(id string) (*worldpack.Pack, error)
}

// Coordinator drives game-master turns. Construct with [New]; the zero
// value is not usable.
type Coordinator struct {
	llm       llm.Provider
	agents    *agent.Registry
	packs     Packs
	assembler *scene.Assembler
	store     vector.Store
	metrics   *observe.Metrics

	maxIterations  int
	historyLength  int
	llmTimeout     time.Duration
	turnBudget     time.Duration
	emitProcessing bool
}

// Option configures a [Coordinator].
type Option func(*Coordinator)

// WithMaxIterations caps the decision loop. Values below one are ignored.
func WithMaxIterations(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithHistoryLength sets how many transcript messages feed each prompt.
func WithHistoryLength(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.historyLength = n
		}
	}
}

// WithLLMTimeout bounds each individual model or agent call.
func WithLLMTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.llmTimeout = d
		}
	}
}

// WithTurnBudget bounds a whole turn across all its model calls.
func WithTurnBudget(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.turnBudget = d
		}
	}
}

// WithMemoryStore enables NPC episodic memory persistence: new memories are
// written to the store and pack memories can be seeded with
// [Coordinator.SeedNPCMemories]. Without a store, memories live only on the
// session state.
func WithMemoryStore(store vector.Store) Option {
	return func(c *Coordinator) { c.store = store }
}

// WithProcessingPhase emits an authoritative phase frame when a turn enters
// processing, for clients that render phase transitions. Off by default;
// the status frame already covers the common case.
func WithProcessingPhase() Option {
	return func(c *Coordinator) { c.emitProcessing = true }
}

// WithMetrics routes instrument recording to m instead of the package
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates a coordinator over the reasoning model, the agent registry,
// the world packs and the scene assembler.
func New(provider llm.Provider, agents *agent.Registry, packs Packs, assembler *scene.Assembler, opts ...Option) *Coordinator {
	c := &Coordinator{
		llm:           provider,
		agents:        agents,
		packs:         packs,
		assembler:     assembler,
		metrics:       observe.DefaultMetrics(),
		maxIterations: defaultMaxIterations,
		historyLength: defaultHistoryLength,
		llmTimeout:    defaultLLMTimeout,
		turnBudget:    defaultTurnBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TurnInput is one player utterance to process.
type TurnInput struct {
	// Content is the utterance text.
	Content string

	// Stream asks for the final narrative to go out as content chunks
	// before the complete frame.
	Stream bool
}

// loopState carries the decision loop's working set. On suspension it is
// parked on the session as a [game.PendingResume]; on resume it is rebuilt
// from one.
type loopState struct {
	input      string
	iteration  int
	notes      []game.AgentNote
	diceResult *dice.Result
	check      *dice.CheckRequest
	stream     bool
}

// gmDecision is the JSON shape the reasoning model answers with.
type gmDecision struct {
	Action         string `json:"action"`
	Narrative      string `json:"narrative"`
	TargetLocation string `json:"target_location"`
	AgentName      string `json:"agent_name"`
	AgentContext   string `json:"agent_context"`
	Reasoning      string `json:"reasoning"`
}

const (
	actionRespond   = "RESPOND"
	actionCallAgent = "CALL_AGENT"
)

// Turn runs one player input through the decision loop until the turn
// completes, suspends on a dice check, or fails. The transcript, phase and
// pending state on st are updated before return; emit sees the full frame
// sequence either way.
//
// A nil return covers both a completed turn and a suspension; the session
// phase tells them apart. [ErrLoopExceeded] and [ErrTimeout] report the two
// failure modes after their frames have been emitted.
func (c *Coordinator) Turn(ctx context.Context, st *game.State, emit protocol.Emitter, in TurnInput) error {
	lang := st.Language()
	st.AddMessage(types.RoleUser, in.Content, nil)
	st.SetPhase(game.PhaseProcessing, "gm")
	if c.emitProcessing {
		emit.Emit(protocol.NewPhase(string(game.PhaseProcessing)))
	}
	emit.Emit(protocol.NewStatus("gm", statusMessage("gm", lang)))

	return c.run(ctx, st, emit, &loopState{input: in.Content, stream: in.Stream})
}

// Resume continues a turn suspended on a dice check, injecting the rolled
// result. Without a pending check it emits an error frame and returns
// [ErrResumeInvalid], leaving the session untouched.
func (c *Coordinator) Resume(ctx context.Context, st *game.State, emit protocol.Emitter, res dice.Result) error {
	pending, ok := st.ReactState()
	if !ok {
		emit.Emit(protocol.NewError("no pending state"))
		return ErrResumeInvalid
	}
	st.ClearReactState()
	st.SetLastCheckResult(res)
	c.metrics.RecordDiceCheck(ctx, string(res.Outcome))

	lang := st.Language()
	check := pending.CheckRequest
	st.AddMessage(types.RoleSystem, diceSummary(&check, res, lang), map[string]string{"agent": "dice"})
	st.SetPhase(game.PhaseProcessing, "gm")
	if c.emitProcessing {
		emit.Emit(protocol.NewPhase(string(game.PhaseProcessing)))
	}
	emit.Emit(protocol.NewStatus("gm", statusMessage("gm", lang)))

	return c.run(ctx, st, emit, &loopState{
		input:      pending.PlayerInput,
		iteration:  pending.Iteration,
		notes:      pending.AgentNotes,
		diceResult: &res,
		check:      &check,
		stream:     pending.Stream,
	})
}

// run executes the decision loop from ls.iteration until a response, a
// suspension, exhaustion or failure. Turn metrics are recorded at the
// terminal exits; a suspension is not terminal, its resumed leg records
// separately.
func (c *Coordinator) run(ctx context.Context, st *game.State, emit protocol.Emitter, ls *loopState) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.turnBudget)
	defer cancel()

	pack, err := c.packs.Get(st.WorldPackID())
	if err != nil {
		return c.fail(ctx, st, emit, fmt.Errorf("coordinator: load pack %q: %w", st.WorldPackID(), err), start, ls.iteration)
	}

	for ; ls.iteration < c.maxIterations; ls.iteration++ {
		decision, err := c.decide(ctx, st, pack, ls)
		if err != nil {
			return c.fail(ctx, st, emit, err, start, ls.iteration+1)
		}

		if decision.Action == actionCallAgent {
			suspended, err := c.callAgent(ctx, st, emit, pack, ls, decision)
			if err != nil {
				return c.fail(ctx, st, emit, err, start, ls.iteration+1)
			}
			if suspended {
				return nil
			}
			continue
		}

		c.respond(st, emit, pack, ls, decision)
		c.metrics.RecordTurn(ctx, "ok", time.Since(start), ls.iteration+1)
		return nil
	}

	// The model never committed to a response. Close the turn with an
	// apology so the player is not left hanging.
	lang := st.Language()
	apology := apologyNarrative(lang)
	turn := st.IncrementTurn()
	st.AddMessage(types.RoleAssistant, apology, nil)
	st.SetPhase(game.PhaseWaitingInput, "")
	emit.Emit(protocol.NewComplete(apology, map[string]string{"turn": strconv.Itoa(turn)}, false))
	emit.Emit(protocol.NewPhase(string(game.PhaseWaitingInput)))
	slog.Warn("decision loop exhausted",
		"session_id", st.SessionID(),
		"iterations", c.maxIterations)
	c.metrics.RecordTurn(ctx, "loop_exceeded", time.Since(start), c.maxIterations)
	return ErrLoopExceeded
}

// decide assembles the scene and asks the reasoning model for its next
// move. Model output that cannot be decoded degrades to a RESPOND carrying
// the raw text; only transport and timeout failures surface as errors.
func (c *Coordinator) decide(ctx context.Context, st *game.State, pack *worldpack.Pack, ls *loopState) (gmDecision, error) {
	lang := st.Language()
	sc, err := c.assembler.Assemble(ctx, scene.Input{
		WorldPackID:     st.WorldPackID(),
		LocationID:      st.Location(),
		DiscoveredItems: st.DiscoveredItems(),
		Lang:            lang,
	})
	if err != nil {
		return gmDecision{}, fmt.Errorf("coordinator: assemble scene: %w", err)
	}

	npcs := activeNPCSummaries(st, pack, lang)
	force := ls.iteration >= c.maxIterations-1
	req := llm.CompletionRequest{
		SystemPrompt: gmSystemPrompt(lang, c.agents.Names(), npcs, force),
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: c.turnPrompt(st, pack, sc, npcs, ls),
		}},
		Temperature: gmTemperature,
	}

	cctx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	defer cancel()
	callStart := time.Now()
	resp, err := c.llm.Complete(cctx, req)
	c.metrics.LLMCallDuration.Record(ctx, time.Since(callStart).Seconds())
	if err != nil {
		return gmDecision{}, fmt.Errorf("coordinator: game master call: %w", err)
	}
	var content string
	if resp != nil {
		content = resp.Content
	}
	return decodeDecision(content), nil
}

// decodeDecision never fails: undecodable or incomplete output becomes a
// RESPOND carrying the raw text, so a rambling model still reaches the
// player instead of erroring the turn.
func decodeDecision(content string) gmDecision {
	raw := strings.TrimSpace(content)
	d, err := llmjson.Decode[gmDecision](content)
	if err != nil {
		return gmDecision{Action: actionRespond, Narrative: raw}
	}
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	switch d.Action {
	case actionCallAgent:
		if strings.TrimSpace(d.AgentName) == "" {
			return gmDecision{Action: actionRespond, Narrative: raw}
		}
		d.AgentName = strings.TrimSpace(d.AgentName)
	case actionRespond:
		if strings.TrimSpace(d.Narrative) == "" {
			d.Narrative = raw
		}
	default:
		return gmDecision{Action: actionRespond, Narrative: raw}
	}
	return d
}

// respond closes the turn with the model's narration, applying a scene
// transition first when the narration names a reachable location.
func (c *Coordinator) respond(st *game.State, emit protocol.Emitter, pack *worldpack.Pack, ls *loopState, d gmDecision) {
	if target := strings.TrimSpace(d.TargetLocation); target != "" && target != st.Location() {
		cur, curOK := pack.Location(st.Location())
		dest, destOK := pack.Location(target)
		if curOK && destOK && slices.Contains(cur.ConnectedLocations, target) {
			st.UpdateLocation(target, dest.PresentNPCIDs)
		} else {
			slog.Warn("scene transition refused",
				"session_id", st.SessionID(),
				"from", st.Location(),
				"to", target,
				"err", ErrTransitionRefused)
		}
	}

	turn := st.IncrementTurn()
	st.AddMessage(types.RoleAssistant, d.Narrative, nil)

	if ls.stream {
		c.emitChunks(emit, d.Narrative)
	}

	meta := map[string]string{"turn": strconv.Itoa(turn)}
	if ls.diceResult != nil {
		meta["outcome"] = string(ls.diceResult.Outcome)
	}
	st.SetPhase(game.PhaseWaitingInput, "")
	emit.Emit(protocol.NewComplete(d.Narrative, meta, true))
	emit.Emit(protocol.NewPhase(string(game.PhaseWaitingInput)))
}

// callAgent delegates to one agent and folds its result into the loop
// state. The returned flag reports a dice suspension; errors are limited to
// budget exhaustion, everything else degrades to a note and the loop goes
// on.
func (c *Coordinator) callAgent(ctx context.Context, st *game.State, emit protocol.Emitter, pack *worldpack.Pack, ls *loopState, d gmDecision) (bool, error) {
	lang := st.Language()
	emit.Emit(protocol.NewStatus(d.AgentName, statusMessage(d.AgentName, lang)))

	lookup := d.AgentName
	npcID := ""
	if id, ok := strings.CutPrefix(d.AgentName, "npc_"); ok {
		lookup, npcID = "npc", id
	}
	ag, err := c.agents.Get(lookup)
	if err != nil {
		slog.Warn("decision names unknown agent",
			"session_id", st.SessionID(),
			"agent", d.AgentName,
			"err", err)
		c.metrics.RecordAgentInvocation(ctx, d.AgentName, "unknown")
		return false, nil
	}

	req, err := c.sliceRequest(st, pack, ls, d, npcID)
	if err != nil {
		slog.Warn("agent context slice failed",
			"session_id", st.SessionID(),
			"agent", d.AgentName,
			"err", err)
		c.metrics.RecordAgentInvocation(ctx, d.AgentName, "error")
		return false, nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.llmTimeout)
	invokeStart := time.Now()
	res, err := ag.Invoke(cctx, req)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			c.metrics.RecordAgentInvocation(ctx, d.AgentName, "timeout")
			return false, fmt.Errorf("coordinator: agent %s: %w", d.AgentName, ctx.Err())
		}
		slog.Warn("agent invocation failed",
			"session_id", st.SessionID(),
			"agent", d.AgentName,
			"err", err)
		c.metrics.RecordAgentInvocation(ctx, d.AgentName, "error")
		ls.notes = append(ls.notes, game.AgentNote{Agent: d.AgentName, Content: ""})
		return false, nil
	}

	c.metrics.RecordAgentInvocation(ctx, d.AgentName, "ok")
	if lookup == "lore" {
		c.metrics.LoreSearchDuration.Record(ctx, time.Since(invokeStart).Seconds())
	}
	ls.notes = append(ls.notes, game.AgentNote{Agent: d.AgentName, Content: res.Content})

	if res.Check != nil {
		c.suspend(st, emit, ls, res)
		return true, nil
	}
	if res.NPC != nil && npcID != "" {
		c.applyNPCReply(ctx, st, pack, npcID, res)
	}
	return false, nil
}

// suspend parks the loop on the session and asks the client to roll. The
// adjudicator's reasoning doubles as the pre-check story beat; without one
// a canned line steps in.
func (c *Coordinator) suspend(st *game.State, emit protocol.Emitter, ls *loopState, res agent.Result) {
	lang := st.Language()
	st.SaveReactState(game.PendingResume{
		PlayerInput:  ls.input,
		Iteration:    ls.iteration + 1,
		AgentNotes:   ls.notes,
		CheckRequest: *res.Check,
		Stream:       ls.stream,
	})

	narrative := strings.TrimSpace(res.Content)
	if narrative == "" {
		narrative = preCheckNarrative(lang)
	}
	st.AddMessage(types.RoleAssistant, narrative, map[string]string{"agent": "rule"})
	st.SetPhase(game.PhaseDiceCheck, "rule")
	emit.Emit(protocol.NewDiceCheck(*res.Check, narrative))
	emit.Emit(protocol.NewPhase(string(game.PhaseDiceCheck)))
}

// applyNPCReply folds a roleplayer result into the session: the reply joins
// the transcript, the relation shift lands on the overlay, and a new memory
// is recorded in state and, when a store is configured, in the NPC's vector
// collection.
func (c *Coordinator) applyNPCReply(ctx context.Context, st *game.State, pack *worldpack.Pack, npcID string, res agent.Result) {
	reply := res.NPC

	meta := maps.Clone(res.Metadata)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	meta["npc_id"] = npcID
	st.AddMessage(types.RoleAssistant, reply.Response, meta)

	if reply.RelationChange != 0 {
		current, ok := st.NPCRelation(npcID, "player")
		if !ok {
			if npc, found := pack.NPC(npcID); found {
				current = npc.Body.Relations["player"]
			}
		}
		st.SetNPCRelation(npcID, "player", current+reply.RelationChange)
	}

	if mem := reply.NewMemory; mem != nil && strings.TrimSpace(mem.Event) != "" {
		st.AddNPCMemory(npcID, game.NPCMemory{
			Event:     mem.Event,
			Keywords:  mem.Keywords,
			Timestamp: time.Now().UTC(),
		})
		c.persistMemory(ctx, npcID, mem)
	}
}

// persistMemory writes one new memory into the NPC's vector collection.
// Best effort: a failed write costs recall quality, not the turn.
func (c *Coordinator) persistMemory(ctx context.Context, npcID string, mem *agent.MemoryEvent) {
	if c.store == nil {
		return
	}
	col, err := c.store.Collection(ctx, agent.MemoryCollection(npcID))
	if err != nil {
		slog.Warn("npc memory collection unavailable", "npc_id", npcID, "err", err)
		return
	}
	now := time.Now().UTC()
	doc := vector.Document{
		ID:      fmt.Sprintf("mem_%d", now.UnixNano()),
		Content: mem.Event,
		Metadata: map[string]string{
			"npc_id":        npcID,
			"keywords":      strings.Join(mem.Keywords, ","),
			"timestamp_iso": now.Format(time.RFC3339),
		},
	}
	if err := col.Add(ctx, []vector.Document{doc}); err != nil {
		slog.Warn("npc memory write failed", "npc_id", npcID, "err", err)
	}
}

// SeedNPCMemories loads every pack NPC's baked-in memories into its vector
// collection, skipping NPCs whose collection already holds documents.
// Called once per pack at startup; a no-op without a store.
func (c *Coordinator) SeedNPCMemories(ctx context.Context, pack *worldpack.Pack) error {
	if c.store == nil {
		return nil
	}
	for _, npc := range pack.NPCs() {
		if len(npc.Body.Memory) == 0 {
			continue
		}
		col, err := c.store.Collection(ctx, agent.MemoryCollection(npc.ID))
		if err != nil {
			return fmt.Errorf("coordinator: seed memories for %q: %w", npc.ID, err)
		}
		if n, err := col.Count(ctx); err == nil && n > 0 {
			continue
		}

		events := slices.Sorted(maps.Keys(npc.Body.Memory))
		docs := make([]vector.Document, 0, len(events))
		for i, event := range events {
			docs = append(docs, vector.Document{
				ID:      fmt.Sprintf("pack_%s_%d", npc.ID, i),
				Content: event,
				Metadata: map[string]string{
					"npc_id":   npc.ID,
					"keywords": strings.Join(npc.Body.Memory[event], ","),
					"source":   "pack",
				},
			})
		}
		if err := col.Add(ctx, docs); err != nil {
			return fmt.Errorf("coordinator: seed memories for %q: %w", npc.ID, err)
		}
	}
	return nil
}

// fail aborts the turn: pending dice state is dropped, the client gets an
// error frame and an unsuccessful complete, and the session returns to
// waiting. Deadline errors map to [ErrTimeout].
func (c *Coordinator) fail(ctx context.Context, st *game.State, emit protocol.Emitter, err error, start time.Time, iterations int) error {
	slog.Error("turn failed", "session_id", st.SessionID(), "err", err)
	st.ClearReactState()

	text := "internal error"
	status := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		text = "timeout"
		status = "timeout"
	}
	emit.Emit(protocol.NewError(text))
	emit.Emit(protocol.NewComplete("", nil, false))
	st.SetPhase(game.PhaseWaitingInput, "")
	emit.Emit(protocol.NewPhase(string(game.PhaseWaitingInput)))
	c.metrics.RecordTurn(ctx, status, time.Since(start), iterations)

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// emitChunks streams a narrative as content frames, cut at sentence
// boundaries, the last frame marked final.
func (c *Coordinator) emitChunks(emit protocol.Emitter, narrative string) {
	chunks := splitNarrative(narrative)
	for i, chunk := range chunks {
		emit.Emit(protocol.NewContent(chunk, i < len(chunks)-1, i))
	}
}

// splitNarrative cuts text at sentence boundaries so streamed chunks read
// naturally. Text without any boundary ships as one chunk.
func splitNarrative(s string) []string {
	var chunks []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if sentenceEnd(r) {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}

func sentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '\n':
		return true
	}
	return false
}
