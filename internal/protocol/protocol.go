// Package protocol defines the session wire messages exchanged between a
// Fateweaver client and the server.
//
// Every frame is a JSON envelope `{"type": ..., "data": ...}`. Inbound, the
// client opens or rebinds a session with [SessionOpen], then drives it with
// [PlayerInput] and [DiceResult]. Outbound, the server acknowledges the open
// with [SessionReady], then the coordinator loop emits [Status], [Phase],
// [Content], [DiceCheck], [Complete] and [Error] in loop order; the transport
// must preserve that order within a session.
//
// The envelope carries its payload as a typed value, not raw JSON: [Decode]
// returns a [Message] whose Data field holds the concrete payload struct for
// its type, so handlers can type-switch without a second unmarshal step.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// Type tags a session message.
type Type string

// Inbound message types.
const (
	// TypeSessionOpen opens a new session or rebinds an existing one.
	TypeSessionOpen Type = "session_open"

	// TypePlayerInput is one player utterance starting a turn.
	TypePlayerInput Type = "player_input"

	// TypeDiceResult answers a pending dice check.
	TypeDiceResult Type = "dice_result"
)

// Outbound message types.
const (
	// TypeSessionReady acknowledges a [TypeSessionOpen], carrying the
	// session id the client must present to rebind.
	TypeSessionReady Type = "session_ready"

	// TypeStatus is an advisory note about which agent is working.
	TypeStatus Type = "status"

	// TypePhase is an authoritative game-phase transition.
	TypePhase Type = "phase"

	// TypeContent is one streamed narrative chunk.
	TypeContent Type = "content"

	// TypeDiceCheck asks the player to roll dice; the turn is suspended
	// until a [TypeDiceResult] arrives.
	TypeDiceCheck Type = "dice_check"

	// TypeComplete ends a turn.
	TypeComplete Type = "complete"

	// TypeError reports a recoverable failure.
	TypeError Type = "error"
)

// IsValid reports whether t is a known message type.
func (t Type) IsValid() bool {
	switch t {
	case TypeSessionOpen, TypePlayerInput, TypeDiceResult,
		TypeSessionReady, TypeStatus, TypePhase, TypeContent,
		TypeDiceCheck, TypeComplete, TypeError:
		return true
	}
	return false
}

// Inbound reports whether t travels client-to-server.
func (t Type) Inbound() bool {
	switch t {
	case TypeSessionOpen, TypePlayerInput, TypeDiceResult:
		return true
	}
	return false
}

// ─── payloads ────────────────────────────────────────────────────────────────

// SessionOpen is the first frame of a connection. With a SessionID it rebinds
// the named session; otherwise it creates one on WorldPackID.
type SessionOpen struct {
	// SessionID rebinds an existing session when set.
	SessionID string `json:"session_id,omitempty"`

	// WorldPackID selects the world for a new session.
	WorldPackID string `json:"world_pack_id,omitempty"`

	// Preset picks a preset character sheet by id. Empty means the pack's
	// first preset.
	Preset string `json:"preset,omitempty"`

	// Character overrides the preset with an inline sheet when set.
	Character *types.PlayerCharacter `json:"character,omitempty"`

	// Lang is the session interaction language.
	Lang types.Lang `json:"lang,omitempty"`
}

// PlayerInput is one player utterance.
type PlayerInput struct {
	// Content is the utterance text.
	Content string `json:"content"`

	// Lang optionally overrides the session language for this turn.
	Lang types.Lang `json:"lang,omitempty"`

	// Stream asks for the final narrative to be streamed as [Content]
	// chunks before the [Complete] message.
	Stream bool `json:"stream,omitempty"`
}

// DiceResult reports the player's roll for a pending check. Outcome may be
// any band the roller distinguishes, including "critical_failure" which the
// engine's own bands never produce.
type DiceResult struct {
	// Result is the check total.
	Result int `json:"result"`

	// AllRolls holds every die thrown.
	AllRolls []int `json:"all_rolls"`

	// KeptRolls holds the dice that count toward the total.
	KeptRolls []int `json:"kept_rolls"`

	// Outcome is the band the total falls into.
	Outcome dice.Outcome `json:"outcome"`
}

// SessionReady acknowledges a session open or rebind.
type SessionReady struct {
	// SessionID names the bound session. Clients persist it to reconnect.
	SessionID string `json:"session_id"`

	// WorldPackID is the world the session runs in.
	WorldPackID string `json:"world_pack_id"`

	// Phase is the session's current lifecycle stage. After a rebind this
	// tells the client whether a turn is still running or a dice check is
	// outstanding.
	Phase string `json:"phase"`

	// Turn is the number of completed turns.
	Turn int `json:"turn"`
}

// Status is an advisory progress note: which agent the loop is waiting on.
type Status struct {
	// Phase names the working agent ("gm", "rule", "npc_elara").
	Phase string `json:"phase"`

	// Message optionally carries display text.
	Message string `json:"message,omitempty"`
}

// Phase is an authoritative game-phase transition.
type Phase struct {
	// Phase is the new lifecycle stage.
	Phase string `json:"phase"`
}

// Content is one streamed narrative chunk.
type Content struct {
	// Chunk is the text fragment.
	Chunk string `json:"chunk"`

	// IsPartial is false on the final chunk of a narrative.
	IsPartial bool `json:"is_partial"`

	// ChunkIndex counts chunks from zero within one narrative.
	ChunkIndex int `json:"chunk_index"`
}

// DiceCheck asks the player to roll. The turn stays suspended until the
// matching [DiceResult] arrives.
type DiceCheck struct {
	// CheckRequest describes what to roll and why.
	CheckRequest dice.CheckRequest `json:"check_request"`

	// Narrative is the pre-check story beat shown before rolling.
	Narrative string `json:"narrative,omitempty"`
}

// Complete ends a turn.
type Complete struct {
	// Content is the final narrative.
	Content string `json:"content"`

	// Metadata carries turn bookkeeping such as "turn" or "outcome".
	Metadata map[string]string `json:"metadata,omitempty"`

	// Success is false when the turn failed (timeout, loop exhaustion).
	Success bool `json:"success"`
}

// Error reports a recoverable failure. The text is a short stable phrase
// ("busy", "no pending state", "timeout"); raw internal identifiers must
// never appear here.
type Error struct {
	Error string `json:"error"`
}

// ─── envelope ────────────────────────────────────────────────────────────────

// Message is one session frame: a type tag plus its typed payload.
type Message struct {
	// Type tags the payload.
	Type Type

	// Data holds the payload struct for Type: [SessionOpen], [PlayerInput],
	// [DiceResult], [SessionReady], [Status], [Phase], [Content],
	// [DiceCheck], [Complete] or [Error]. Nil for payload-free frames.
	Data any
}

// envelope is the wire form of [Message].
type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements [json.Marshaler].
func (m Message) MarshalJSON() ([]byte, error) {
	env := envelope{Type: m.Type}
	if m.Data != nil {
		raw, err := json.Marshal(m.Data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", m.Type, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses one wire frame into a [Message] with a typed payload.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionOpen:
		return decodePayload[SessionOpen](env)
	case TypePlayerInput:
		return decodePayload[PlayerInput](env)
	case TypeDiceResult:
		return decodePayload[DiceResult](env)
	case TypeSessionReady:
		return decodePayload[SessionReady](env)
	case TypeStatus:
		return decodePayload[Status](env)
	case TypePhase:
		return decodePayload[Phase](env)
	case TypeContent:
		return decodePayload[Content](env)
	case TypeDiceCheck:
		return decodePayload[DiceCheck](env)
	case TypeComplete:
		return decodePayload[Complete](env)
	case TypeError:
		return decodePayload[Error](env)
	}
	return Message{}, fmt.Errorf("protocol: unknown message type %q", env.Type)
}

func decodePayload[T any](env envelope) (Message, error) {
	var p T
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return Message{}, fmt.Errorf("protocol: decode %s data: %w", env.Type, err)
		}
	}
	return Message{Type: env.Type, Data: p}, nil
}

// ─── constructors ────────────────────────────────────────────────────────────

// NewSessionReady builds a [TypeSessionReady] message.
func NewSessionReady(sessionID, worldPackID, phase string, turn int) Message {
	return Message{Type: TypeSessionReady, Data: SessionReady{
		SessionID:   sessionID,
		WorldPackID: worldPackID,
		Phase:       phase,
		Turn:        turn,
	}}
}

// NewStatus builds a [TypeStatus] message.
func NewStatus(phase, message string) Message {
	return Message{Type: TypeStatus, Data: Status{Phase: phase, Message: message}}
}

// NewPhase builds a [TypePhase] message.
func NewPhase(phase string) Message {
	return Message{Type: TypePhase, Data: Phase{Phase: phase}}
}

// NewContent builds a [TypeContent] message.
func NewContent(chunk string, partial bool, index int) Message {
	return Message{Type: TypeContent, Data: Content{Chunk: chunk, IsPartial: partial, ChunkIndex: index}}
}

// NewDiceCheck builds a [TypeDiceCheck] message.
func NewDiceCheck(req dice.CheckRequest, narrative string) Message {
	return Message{Type: TypeDiceCheck, Data: DiceCheck{CheckRequest: req, Narrative: narrative}}
}

// NewComplete builds a [TypeComplete] message.
func NewComplete(content string, metadata map[string]string, success bool) Message {
	return Message{Type: TypeComplete, Data: Complete{Content: content, Metadata: metadata, Success: success}}
}

// NewError builds a [TypeError] message.
func NewError(text string) Message {
	return Message{Type: TypeError, Data: Error{Error: text}}
}

// Emitter delivers outbound messages to a session's client.
//
// Implementations must preserve emission order within a session and must not
// block the caller: the server buffers writes behind a single writer
// goroutine, dropping the oldest buffered message when a disconnected
// client's buffer fills.
type Emitter interface {
	Emit(Message)
}
