// Package agent implements the specialist agents the coordinator consults
// while resolving a turn: the rule adjudicator, the lore librarian, and the
// NPC roleplayer.
//
// All agents share one calling convention. The coordinator slices the
// session down to the fields a role is allowed to see, wraps the slice in a
// [Request], and calls [Agent.Invoke]. The typed context structs make those
// information boundaries structural: [RuleContext] has no field that could
// carry conversation history or location lore, and [NPCContext] has no field
// that could carry raw dice totals or game flags.
//
// Agents themselves hold no session state and are safe for concurrent use
// across sessions; everything that varies per turn travels in the request.
package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

var (
	// ErrNotFound is wrapped by [Registry.Get] for unregistered agent names.
	ErrNotFound = errors.New("agent: not found")

	// ErrParse is wrapped when a completion held no decodable JSON even
	// after the decoder's single repair attempt.
	ErrParse = errors.New("agent: unparseable completion")
)

// MaxRelationShift bounds how far one exchange can move an NPC's
// disposition, in either direction.
const MaxRelationShift = 10

// Agent is one specialist the coordinator can delegate to mid-turn.
type Agent interface {
	// Name returns the stable registry name the coordinator's decisions
	// refer to, e.g. "rule" or "lore".
	Name() string

	// Invoke runs the agent against a pre-sliced request.
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Request is one agent invocation. PlayerInput and Lang are always set;
// exactly one of Rule, Lore and NPC is non-nil and must match the agent
// invoked.
type Request struct {
	// PlayerInput is the player's message this turn, unmodified.
	PlayerInput string

	// Directive is the coordinator's free-form instruction for this call,
	// e.g. "judge whether prying the lock open needs a check".
	Directive string

	// Lang selects the language of prompts and player-facing text.
	Lang types.Lang

	Rule *RuleContext
	Lore *LoreContext
	NPC  *NPCContext
}

// CharacterSheet is the slice of the player sheet the adjudicator sees:
// identity and traits. Fate points are withheld, and session tags travel
// separately on [RuleContext] so the adjudicator weighs them as
// circumstances rather than as part of the sheet.
type CharacterSheet struct {
	// Name is the character's name.
	Name string

	// Concept is the one-line character concept.
	Concept types.Text

	// Traits are the character's double-edged qualities.
	Traits []types.Trait
}

// RuleContext is the adjudicator's view of a turn. It carries no
// conversation history, no location, and no NPC data.
type RuleContext struct {
	// Action is the attempted action to adjudicate.
	Action string

	// Argument is the player's optional case for why a trait applies.
	Argument string

	// Character is the sheet slice.
	Character CharacterSheet

	// Tags are the character's current status tags.
	Tags []string

	// Result switches the agent into narration: when non-nil the agent
	// turns the resolved check into an in-world paragraph instead of
	// adjudicating.
	Result *dice.Result

	// Check is the request the dice answered, set together with Result.
	Check *dice.CheckRequest
}

// LoreContext scopes a lore lookup. It deliberately carries no character
// data; what the player can do never shapes what the world contains.
type LoreContext struct {
	// Query is the text to search for. Empty falls back to the request's
	// raw player input.
	Query string

	// CurrentLocation and CurrentRegion feed the retrieval scope filters.
	CurrentLocation string
	CurrentRegion   string

	// DiscoveredItems lists hidden items the player has found so far.
	// They are appended to the librarian's answer, not scored.
	DiscoveredItems []string

	// WorldPackID selects the pack to search.
	WorldPackID string
}

// NarrativeStyle is the verbosity hint the coordinator computes from an
// NPC's recent activity.
type NarrativeStyle string

const (
	// StyleBrief keeps replies to a line or two; used when the NPC has
	// spoken recently and the scene is already established.
	StyleBrief NarrativeStyle = "brief"

	// StyleDetailed allows a fuller reply with expression and body
	// language; used when the NPC enters the scene cold.
	StyleDetailed NarrativeStyle = "detailed"
)

// NPCContext is the roleplayer's view of one NPC exchange. It has no field
// for dice totals, game flags, or other NPCs; the coordinator distills a
// check outcome into Direction before it gets here.
type NPCContext struct {
	// NPCID is the pack-wide NPC identifier.
	NPCID string

	// Soul and Body are the NPC's pack definition, fully resolved.
	Soul worldpack.Soul
	Body worldpack.Body

	// Relation is the NPC's current disposition toward the player in
	// [-100, 100], session overlay already applied.
	Relation int

	// Tags are the NPC's current status tags, session overlay applied.
	Tags []string

	// SessionMemories are the memories formed during this session, oldest
	// first. They feed the degraded recall path when no vector store
	// answers.
	SessionMemories []game.NPCMemory

	// RecentDialogue is this NPC's own recent exchanges with the player,
	// filtered by the coordinator.
	RecentDialogue []game.Message

	// Style picks brief or detailed replies.
	Style NarrativeStyle

	// Direction is optional acting guidance, e.g. the distilled outcome
	// of a check ("the NPC should refuse the request").
	Direction string

	// Location is the current location id.
	Location string

	// WorldPackID names the pack the NPC comes from.
	WorldPackID string

	// Knowledge is the lore the NPC can draw on here, already filtered by
	// its location knowledge.
	Knowledge []string
}

// Result is what an agent hands back to the coordinator.
type Result struct {
	// Content is the agent's textual output: the adjudicator's reasoning
	// or narration, the librarian's findings, the NPC's spoken reply.
	Content string

	// Metadata is attached to the transcript message recording this
	// invocation; the roleplayer sets "npc_id" and "emotion" here.
	Metadata map[string]string

	// Check is set when the adjudicator calls for a roll.
	Check *dice.CheckRequest

	// NPC is set by the roleplayer with its structured reply.
	NPC *NPCReply
}

// NPCReply is the roleplayer's structured output.
type NPCReply struct {
	// Response is the NPC's reply: speech and interwoven description.
	Response string `json:"response"`

	// Emotion is a one-word emotional state.
	Emotion string `json:"emotion,omitempty"`

	// Action is the NPC's visible physical action, if any.
	Action string `json:"action,omitempty"`

	// RelationChange shifts the NPC's disposition, clamped to
	// [-MaxRelationShift, MaxRelationShift].
	RelationChange int `json:"relation_change"`

	// NewMemory is an event worth remembering, when the exchange produced
	// one. The coordinator persists it; the roleplayer never writes.
	NewMemory *MemoryEvent `json:"new_memory,omitempty"`
}

// MemoryEvent is a memory the roleplayer wants recorded.
type MemoryEvent struct {
	// Event is the remembered text, written from the NPC's viewpoint.
	Event string `json:"event"`

	// Keywords index the event for later retrieval.
	Keywords []string `json:"keywords,omitempty"`
}

// MemoryCollection returns the vector collection name holding npcID's
// episodic memories. The roleplayer queries it and the coordinator writes
// to it, so the naming convention lives here, next to both.
func MemoryCollection(npcID string) string {
	return "npc_memories_" + npcID
}

// Registry maps agent names to agents. The coordinator resolves the names
// its reasoning model emits against one shared registry; per-NPC decision
// names resolve to the shared roleplayer before lookup.
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds a under its [Agent.Name]. Re-registering a name replaces
// the previous agent.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	r.agents[a.Name()] = a
	r.mu.Unlock()
}

// Get returns the agent registered under name. Unknown names wrap
// [ErrNotFound].
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return a, nil
}

// Names returns the registered agent names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.agents))
}
