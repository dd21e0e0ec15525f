// Package game holds the per-session state of a running adventure: the player
// sheet, the current location, the append-only chat log, the turn lifecycle
// phase, and the session overlay over immutable world-pack NPCs.
//
// Ownership model: a [State] is mutated only by the coordinator goroutine that
// runs the session's turns, but snapshot persistence and channel rebinds read
// it concurrently, so every method is still guarded by a mutex. The
// serializable form is [Snapshot]; [State.Snapshot] and [Restore] round-trip
// it through any [Store] backend.
package game

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// Relation bounds for NPC dispositions. [State.SetNPCRelation] clamps into
// this range.
const (
	MinRelation = -100
	MaxRelation = 100
)

// Phase names a stage of the per-session turn lifecycle.
type Phase string

const (
	// PhaseWaitingInput means no turn is running; the session accepts player input.
	PhaseWaitingInput Phase = "waiting_input"

	// PhaseProcessing means the coordinator loop is running.
	PhaseProcessing Phase = "processing"

	// PhaseDiceCheck means the turn is suspended waiting for a dice result.
	PhaseDiceCheck Phase = "dice_check"

	// PhaseNPCResponse means an NPC agent is composing dialogue.
	PhaseNPCResponse Phase = "npc_response"

	// PhaseNarrating means the final narrative is being produced or streamed.
	PhaseNarrating Phase = "narrating"
)

// IsValid reports whether the phase is one of the defined lifecycle stages.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseWaitingInput, PhaseProcessing, PhaseDiceCheck, PhaseNPCResponse, PhaseNarrating:
		return true
	}
	return false
}

// Message is one entry in the session chat log. Roles reuse the conversation
// constants from [types]: player input is recorded as [types.RoleUser],
// narrative output as [types.RoleAssistant], and agent results as
// [types.RoleSystem].
type Message struct {
	// Role is the speaker classification.
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Turn is the turn counter value at append time.
	Turn int `json:"turn"`

	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries routing hints such as "npc_id" or "agent".
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AgentNote records one agent invocation's result inside a suspended turn.
type AgentNote struct {
	// Agent is the invoked agent's registry name.
	Agent string `json:"agent"`

	// Content is the agent's textual result.
	Content string `json:"content"`
}

// PendingResume is the saved continuation of a turn that suspended for a dice
// check. The loop is iterative, so this tuple is all it takes to resume: the
// original input, the iteration to continue from, and the agent results
// gathered so far. The check request itself is kept alongside so narration
// after the roll still knows what was attempted.
type PendingResume struct {
	// PlayerInput is the input that started the suspended turn.
	PlayerInput string `json:"player_input"`

	// Iteration is the loop iteration to resume at.
	Iteration int `json:"iteration"`

	// AgentNotes are the agent results accumulated before suspension.
	AgentNotes []AgentNote `json:"agent_notes,omitempty"`

	// CheckRequest is the dice check the turn is waiting on.
	CheckRequest dice.CheckRequest `json:"check_request"`

	// Stream carries the turn's streaming opt-in across the suspension.
	Stream bool `json:"stream,omitempty"`
}

// NPCMemory is one event an NPC formed during this session.
type NPCMemory struct {
	// Event is the remembered event in the NPC's own words.
	Event string `json:"event"`

	// Keywords index the event for retrieval.
	Keywords []string `json:"keywords,omitempty"`

	// Timestamp is when the memory was formed.
	Timestamp time.Time `json:"timestamp"`
}

// NPCState is the per-session overlay over a pack NPC's body. World packs are
// immutable at runtime; everything an NPC gains or changes during play lands
// here and takes precedence over the pack values.
type NPCState struct {
	// Relations overrides pack dispositions per entity id. A key present here
	// is authoritative for the session; absent keys fall back to the pack.
	Relations map[string]int `json:"relations,omitempty"`

	// Memories are session-formed events, oldest first.
	Memories []NPCMemory `json:"memories,omitempty"`

	// Tags are status strings acquired during the session.
	Tags []string `json:"tags,omitempty"`
}

// Snapshot is the complete serializable state of one session. It is the unit
// of persistence: [Store] backends save and load Snapshot values, and a
// loaded Snapshot reconstructs a live [State] via [Restore].
type Snapshot struct {
	// SessionID uniquely identifies the session.
	SessionID string `json:"session_id"`

	// WorldPackID names the pack the session plays in.
	WorldPackID string `json:"world_pack_id"`

	// Language is the session interaction language.
	Language types.Lang `json:"language"`

	// Player is the character sheet.
	Player types.PlayerCharacter `json:"player"`

	// CurrentLocation is the location id the player is at.
	CurrentLocation string `json:"current_location"`

	// ActiveNPCIDs are the NPCs present at the current location.
	ActiveNPCIDs []string `json:"active_npc_ids,omitempty"`

	// TurnCount is the number of completed player turns, never decreasing.
	TurnCount int `json:"turn_count"`

	// Phase is the current lifecycle stage.
	Phase Phase `json:"game_phase"`

	// NextAgent names the agent the phase is waiting on, when any.
	NextAgent string `json:"next_agent,omitempty"`

	// DiscoveredItems are hidden item ids found so far, in discovery order.
	DiscoveredItems []string `json:"discovered_items,omitempty"`

	// Flags are story flags raised so far, in raise order.
	Flags []string `json:"flags,omitempty"`

	// Messages is the append-only chat log. Entries are never rewritten or
	// deleted within a session; persistence may truncate old entries.
	Messages []Message `json:"messages,omitempty"`

	// NPCs maps NPC id to its session overlay.
	NPCs map[string]NPCState `json:"npcs,omitempty"`

	// LastCheckResult is the most recent resolved dice check, if any.
	LastCheckResult *dice.Result `json:"last_check_result,omitempty"`

	// PendingResume is the suspended-turn continuation, set only while the
	// phase is [PhaseDiceCheck].
	PendingResume *PendingResume `json:"pending_resume,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt advances on every mutation, never moving backwards.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy sharing no mutable memory with the receiver.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Player = clonePlayer(s.Player)
	out.ActiveNPCIDs = slices.Clone(s.ActiveNPCIDs)
	out.DiscoveredItems = slices.Clone(s.DiscoveredItems)
	out.Flags = slices.Clone(s.Flags)

	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Metadata = maps.Clone(m.Metadata)
			out.Messages[i] = m
		}
	}
	if s.NPCs != nil {
		out.NPCs = make(map[string]NPCState, len(s.NPCs))
		for id, npc := range s.NPCs {
			out.NPCs[id] = cloneNPCState(npc)
		}
	}
	if s.LastCheckResult != nil {
		r := *s.LastCheckResult
		r.AllRolls = slices.Clone(r.AllRolls)
		r.KeptRolls = slices.Clone(r.KeptRolls)
		r.DroppedRolls = slices.Clone(r.DroppedRolls)
		out.LastCheckResult = &r
	}
	if s.PendingResume != nil {
		out.PendingResume = clonePending(s.PendingResume)
	}
	return out
}

func clonePlayer(p types.PlayerCharacter) types.PlayerCharacter {
	p.Traits = slices.Clone(p.Traits)
	p.Tags = slices.Clone(p.Tags)
	return p
}

func cloneNPCState(n NPCState) NPCState {
	n.Relations = maps.Clone(n.Relations)
	n.Tags = slices.Clone(n.Tags)
	if n.Memories != nil {
		mems := make([]NPCMemory, len(n.Memories))
		for i, m := range n.Memories {
			m.Keywords = slices.Clone(m.Keywords)
			mems[i] = m
		}
		n.Memories = mems
	}
	return n
}

func clonePending(p *PendingResume) *PendingResume {
	out := *p
	out.AgentNotes = slices.Clone(p.AgentNotes)
	out.CheckRequest.Factors.Traits = slices.Clone(p.CheckRequest.Factors.Traits)
	out.CheckRequest.Factors.Tags = slices.Clone(p.CheckRequest.Factors.Tags)
	return &out
}

// ─────────────────────────────────────────────────────────────────────────────
// Live state
// ─────────────────────────────────────────────────────────────────────────────

// State is the live, lockable form of a session's [Snapshot].
// All methods are safe for concurrent use.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New creates session state for a fresh adventure. The initial phase is
// [PhaseWaitingInput] and the turn counter starts at zero. npcIDs are the
// NPCs present at the starting location.
func New(sessionID, worldPackID string, lang types.Lang, player types.PlayerCharacter, location string, npcIDs []string) *State {
	now := time.Now()
	return &State{snap: Snapshot{
		SessionID:       sessionID,
		WorldPackID:     worldPackID,
		Language:        lang,
		Player:          clonePlayer(player),
		CurrentLocation: location,
		ActiveNPCIDs:    slices.Clone(npcIDs),
		Phase:           PhaseWaitingInput,
		CreatedAt:       now,
		UpdatedAt:       now,
	}}
}

// Restore reconstructs live state from a persisted snapshot.
func Restore(snap Snapshot) *State {
	return &State{snap: snap.Clone()}
}

// Snapshot returns a deep copy of the current state, suitable for handing to
// a [Store] without further locking.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// touch advances the mutation timestamp. Callers must hold the write lock.
// time.Now carries a monotonic reading, so UpdatedAt never moves backwards
// within a process even across wall-clock adjustments.
func (s *State) touch() {
	s.snap.UpdatedAt = time.Now()
}

// ─── identity and read accessors ─────────────────────────────────────────────

// SessionID returns the session identifier.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.SessionID
}

// WorldPackID returns the id of the pack the session plays in.
func (s *State) WorldPackID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.WorldPackID
}

// Language returns the session interaction language.
func (s *State) Language() types.Lang {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Language
}

// Player returns a copy of the character sheet.
func (s *State) Player() types.PlayerCharacter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlayer(s.snap.Player)
}

// Location returns the current location id.
func (s *State) Location() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CurrentLocation
}

// ActiveNPCs returns a copy of the NPC ids present at the current location.
func (s *State) ActiveNPCs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.ActiveNPCIDs)
}

// TurnCount returns the number of completed turns.
func (s *State) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.TurnCount
}

// Phase returns the current lifecycle stage.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Phase
}

// NextAgent returns the agent the current phase is waiting on, or "".
func (s *State) NextAgent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.NextAgent
}

// UpdatedAt returns the time of the most recent mutation.
func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.UpdatedAt
}

// ─── chat log ────────────────────────────────────────────────────────────────

// AddMessage appends a chat-log entry stamped with the current turn and the
// current time, and returns the stored entry. The log is append-only: no
// method rewrites or removes entries.
func (s *State) AddMessage(role, content string, metadata map[string]string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		Role:      role,
		Content:   content,
		Turn:      s.snap.TurnCount,
		Timestamp: time.Now(),
		Metadata:  maps.Clone(metadata),
	}
	s.snap.Messages = append(s.snap.Messages, msg)
	s.touch()
	return msg
}

// RecentMessages returns a copy of the newest k log entries in chronological
// order. k larger than the log returns everything; k ≤ 0 returns an empty
// (non-nil) slice.
func (s *State) RecentMessages(k int) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 {
		return []Message{}
	}
	start := len(s.snap.Messages) - k
	if start < 0 {
		start = 0
	}
	out := make([]Message, 0, len(s.snap.Messages)-start)
	for _, m := range s.snap.Messages[start:] {
		m.Metadata = maps.Clone(m.Metadata)
		out = append(out, m)
	}
	return out
}

// MessageCount returns the chat-log length.
func (s *State) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Messages)
}

// ─── world position and progress ─────────────────────────────────────────────

// UpdateLocation moves the player to locID. A non-nil npcIDs replaces the
// active NPC list (an empty non-nil slice clears it); nil leaves the list
// untouched for callers that only reposition.
func (s *State) UpdateLocation(locID string, npcIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.CurrentLocation = locID
	if npcIDs != nil {
		s.snap.ActiveNPCIDs = slices.Clone(npcIDs)
	}
	s.touch()
}

// AddFlag raises a story flag and reports whether it was newly raised.
func (s *State) AddFlag(flag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.snap.Flags, flag) {
		return false
	}
	s.snap.Flags = append(s.snap.Flags, flag)
	s.touch()
	return true
}

// HasFlag reports whether the story flag has been raised.
func (s *State) HasFlag(flag string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.snap.Flags, flag)
}

// AddDiscoveredItem records a found hidden item and reports whether it was
// newly discovered.
func (s *State) AddDiscoveredItem(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.Contains(s.snap.DiscoveredItems, id) {
		return false
	}
	s.snap.DiscoveredItems = append(s.snap.DiscoveredItems, id)
	s.touch()
	return true
}

// HasDiscoveredItem reports whether the item has been discovered.
func (s *State) HasDiscoveredItem(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.snap.DiscoveredItems, id)
}

// DiscoveredItems returns a copy of the discovered item ids in discovery order.
func (s *State) DiscoveredItems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.DiscoveredItems)
}

// IncrementTurn advances the turn counter and returns the new value.
func (s *State) IncrementTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.TurnCount++
	s.touch()
	return s.snap.TurnCount
}

// SetPhase moves the lifecycle to phase. nextAgent names the agent the phase
// waits on; pass "" when none applies.
func (s *State) SetPhase(phase Phase, nextAgent string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Phase = phase
	s.snap.NextAgent = nextAgent
	s.touch()
}

// ─── suspended turns and check results ───────────────────────────────────────

// SaveReactState stores the continuation of a turn suspending for a dice
// check. The caller is expected to move the phase to [PhaseDiceCheck]
// separately via [State.SetPhase].
func (s *State) SaveReactState(pr PendingResume) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.PendingResume = clonePending(&pr)
	s.touch()
}

// ReactState returns the suspended-turn continuation and whether one exists.
func (s *State) ReactState() (PendingResume, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap.PendingResume == nil {
		return PendingResume{}, false
	}
	return *clonePending(s.snap.PendingResume), true
}

// ClearReactState discards the suspended-turn continuation, if any.
func (s *State) ClearReactState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.PendingResume = nil
	s.touch()
}

// SetLastCheckResult records the most recent resolved dice check.
func (s *State) SetLastCheckResult(r dice.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.AllRolls = slices.Clone(r.AllRolls)
	r.KeptRolls = slices.Clone(r.KeptRolls)
	r.DroppedRolls = slices.Clone(r.DroppedRolls)
	s.snap.LastCheckResult = &r
	s.touch()
}

// LastCheckResult returns the most recent resolved dice check and whether one
// has been recorded.
func (s *State) LastCheckResult() (dice.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snap.LastCheckResult == nil {
		return dice.Result{}, false
	}
	r := *s.snap.LastCheckResult
	r.AllRolls = slices.Clone(r.AllRolls)
	r.KeptRolls = slices.Clone(r.KeptRolls)
	r.DroppedRolls = slices.Clone(r.DroppedRolls)
	return r, true
}

// ─── player sheet mutations ──────────────────────────────────────────────────

// AddPlayerTag adds a status tag to the character sheet and reports whether
// it was newly added.
func (s *State) AddPlayerTag(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.snap.Player.AddTag(tag) {
		return false
	}
	s.touch()
	return true
}

// RemovePlayerTag removes a status tag from the character sheet and reports
// whether it was present.
func (s *State) RemovePlayerTag(tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.snap.Player.RemoveTag(tag) {
		return false
	}
	s.touch()
	return true
}

// ─── NPC session overlay ─────────────────────────────────────────────────────

// NPCRelation returns the session-overlay disposition of NPC npcID toward
// entityID. ok is false when the session has not touched that relation yet;
// callers then fall back to the pack body value.
func (s *State) NPCRelation(npcID, entityID string) (value int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	npc, exists := s.snap.NPCs[npcID]
	if !exists {
		return 0, false
	}
	value, ok = npc.Relations[entityID]
	return value, ok
}

// SetNPCRelation stores the disposition of NPC npcID toward entityID in the
// session overlay, clamped to [[MinRelation], [MaxRelation]], and returns the
// stored value.
func (s *State) SetNPCRelation(npcID, entityID string, value int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	value = min(max(value, MinRelation), MaxRelation)
	npc := s.npcLocked(npcID)
	if npc.Relations == nil {
		npc.Relations = make(map[string]int)
	}
	npc.Relations[entityID] = value
	s.snap.NPCs[npcID] = npc
	s.touch()
	return value
}

// AddNPCMemory appends a session-formed memory to NPC npcID.
func (s *State) AddNPCMemory(npcID string, mem NPCMemory) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mem.Keywords = slices.Clone(mem.Keywords)
	npc := s.npcLocked(npcID)
	npc.Memories = append(npc.Memories, mem)
	s.snap.NPCs[npcID] = npc
	s.touch()
}

// NPCMemories returns a copy of NPC npcID's session memories, oldest first.
func (s *State) NPCMemories(npcID string) []NPCMemory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	npc, exists := s.snap.NPCs[npcID]
	if !exists || len(npc.Memories) == 0 {
		return []NPCMemory{}
	}
	out := make([]NPCMemory, len(npc.Memories))
	for i, m := range npc.Memories {
		m.Keywords = slices.Clone(m.Keywords)
		out[i] = m
	}
	return out
}

// AddNPCTag adds a session status tag to NPC npcID and reports whether it was
// newly added.
func (s *State) AddNPCTag(npcID, tag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	npc := s.npcLocked(npcID)
	if slices.Contains(npc.Tags, tag) {
		return false
	}
	npc.Tags = append(npc.Tags, tag)
	s.snap.NPCs[npcID] = npc
	s.touch()
	return true
}

// NPCTags returns a copy of NPC npcID's session status tags.
func (s *State) NPCTags(npcID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.NPCs[npcID].Tags)
}

// npcLocked returns the overlay entry for npcID, allocating the NPCs map on
// first use. Callers must hold the write lock and store the returned value
// back into the map after mutating it.
func (s *State) npcLocked(npcID string) NPCState {
	if s.snap.NPCs == nil {
		s.snap.NPCs = make(map[string]NPCState)
	}
	return s.snap.NPCs[npcID]
}
