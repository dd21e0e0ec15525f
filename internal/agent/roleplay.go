package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/fateweaver/internal/llmjson"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/types"
	"github.com/MrWong99/fateweaver/pkg/vector"
)

const (
	// roleplayTemperature keeps NPC dialogue lively.
	roleplayTemperature = 0.9

	// defaultMemoryTopK is how many episodic memories surface per exchange.
	defaultMemoryTopK = 3
)

// Compile-time check that [Roleplayer] satisfies [Agent].
var _ Agent = (*Roleplayer)(nil)

// Roleplayer plays the non-player characters. One instance serves every
// NPC in every session: the persona, dialogue window and relation state
// arrive fully resolved in the request, so the agent itself stays
// stateless.
type Roleplayer struct {
	llm   llm.Provider
	store vector.Store
	topK  int
}

// RoleplayOption is a functional option for [NewRoleplayer].
type RoleplayOption func(*Roleplayer)

// WithMemoryStore attaches the vector store holding per-NPC episodic
// memories. Without a store the roleplayer falls back to the raw memories
// carried in the request.
func WithMemoryStore(store vector.Store) RoleplayOption {
	return func(r *Roleplayer) { r.store = store }
}

// WithMemoryTopK overrides how many episodic memories are recalled per
// exchange. Defaults to 3; non-positive values are ignored.
func WithMemoryTopK(k int) RoleplayOption {
	return func(r *Roleplayer) {
		if k > 0 {
			r.topK = k
		}
	}
}

// NewRoleplayer creates the roleplayer backed by provider.
func NewRoleplayer(provider llm.Provider, opts ...RoleplayOption) *Roleplayer {
	r := &Roleplayer{llm: provider, topK: defaultMemoryTopK}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Name implements [Agent].
func (r *Roleplayer) Name() string { return "npc" }

// Invoke implements [Agent]. A completion that cannot be decoded as the
// structured reply degrades to a plain-text response rather than failing
// the exchange; only transport errors are returned.
func (r *Roleplayer) Invoke(ctx context.Context, req Request) (Result, error) {
	nc := req.NPC
	if nc == nil {
		return Result{}, errors.New("agent: npc: request carries no npc context")
	}

	memories := r.recallMemories(ctx, nc, req.PlayerInput)

	messages := make([]types.Message, 0, len(nc.RecentDialogue)+1)
	for _, m := range nc.RecentDialogue {
		messages = append(messages, types.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: req.PlayerInput})

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: formatRoleplay(*nc, memories, req.Lang),
		Messages:     messages,
		Temperature:  roleplayTemperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: npc %s: complete: %w", nc.NPCID, err)
	}
	if resp == nil {
		return Result{}, fmt.Errorf("agent: npc %s: empty completion", nc.NPCID)
	}

	reply, err := llmjson.Decode[NPCReply](resp.Content)
	if err != nil {
		// A reply the player can read beats a failed exchange: keep the
		// raw text and drop the structured fields.
		slog.Warn("npc reply not decodable, degrading to plain text",
			"npc_id", nc.NPCID, "err", err)
		reply = NPCReply{Response: strings.TrimSpace(resp.Content)}
	}
	reply.RelationChange = min(max(reply.RelationChange, -MaxRelationShift), MaxRelationShift)

	meta := map[string]string{"npc_id": nc.NPCID}
	if reply.Emotion != "" {
		meta["emotion"] = reply.Emotion
	}
	if reply.Action != "" {
		meta["action"] = reply.Action
	}

	return Result{Content: reply.Response, Metadata: meta, NPC: &reply}, nil
}

// recallMemories returns the memory lines for the prompt: the most
// similar episodic memories when the vector store answers, otherwise the
// newest session memories followed by the pack's authored ones.
func (r *Roleplayer) recallMemories(ctx context.Context, nc *NPCContext, input string) []string {
	if r.store != nil {
		col, err := r.store.Collection(ctx, MemoryCollection(nc.NPCID))
		if err == nil {
			hits, qErr := col.Query(ctx, input, r.topK, nil)
			if qErr == nil {
				out := make([]string, 0, len(hits))
				for _, h := range hits {
					if h.Content != "" {
						out = append(out, h.Content)
					}
				}
				return out
			}
			err = qErr
		}
		slog.Warn("npc memory recall failed, using raw memories",
			"npc_id", nc.NPCID, "err", err)
	}
	return rawMemories(nc, r.topK)
}

// rawMemories is the degraded recall path: session memories newest first,
// then the pack's authored memory keys in stable order, capped at limit.
func rawMemories(nc *NPCContext, limit int) []string {
	out := make([]string, 0, limit)
	for i := len(nc.SessionMemories) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, nc.SessionMemories[i].Event)
	}
	for _, key := range slices.Sorted(maps.Keys(nc.Body.Memory)) {
		if len(out) >= limit {
			break
		}
		out = append(out, key)
	}
	return out
}
