package coordinator

import (
	"fmt"
	"slices"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/scene"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// sliceRequest builds the agent request for one delegation, attaching
// exactly the context slice the named role is allowed to see. Agents the
// coordinator does not know get the bare request.
func (c *Coordinator) sliceRequest(st *game.State, pack *worldpack.Pack, ls *loopState, d gmDecision, npcID string) (agent.Request, error) {
	req := agent.Request{
		PlayerInput: ls.input,
		Directive:   d.AgentContext,
		Lang:        st.Language(),
	}
	switch {
	case npcID != "":
		nc, err := c.npcSlice(st, pack, ls, npcID, d.AgentContext)
		if err != nil {
			return agent.Request{}, err
		}
		req.NPC = nc
	case d.AgentName == "rule":
		req.Rule = ruleSlice(st, ls)
	case d.AgentName == "lore":
		req.Lore = loreSlice(st, pack, ls)
	}
	return req, nil
}

// ruleSlice gives the adjudicator the action and the sheet, nothing else:
// no history, no location, no NPC data. A resolved dice result flips the
// agent into narration.
func ruleSlice(st *game.State, ls *loopState) *agent.RuleContext {
	player := st.Player()
	return &agent.RuleContext{
		Action: ls.input,
		Character: agent.CharacterSheet{
			Name:    player.Name,
			Concept: player.Concept,
			Traits:  player.Traits,
		},
		Tags:   player.Tags,
		Result: ls.diceResult,
		Check:  ls.check,
	}
}

// loreSlice scopes a lore lookup to the player's position. The query is
// always the raw player input; what the character can do never shapes what
// the world contains.
func loreSlice(st *game.State, pack *worldpack.Pack, ls *loopState) *agent.LoreContext {
	region := scene.GlobalRegionID
	if r, ok := pack.RegionOf(st.Location()); ok {
		region = r.ID
	}
	return &agent.LoreContext{
		Query:           ls.input,
		CurrentLocation: st.Location(),
		CurrentRegion:   region,
		DiscoveredItems: st.DiscoveredItems(),
		WorldPackID:     st.WorldPackID(),
	}
}

// npcSlice assembles the roleplayer's view of one NPC: pack definition,
// session overlay, the NPC's own dialogue window, and acting direction. A
// resolved check reaches the NPC only as distilled direction, never as a
// number.
func (c *Coordinator) npcSlice(st *game.State, pack *worldpack.Pack, ls *loopState, npcID, directive string) (*agent.NPCContext, error) {
	npc, ok := pack.NPC(npcID)
	if !ok {
		return nil, fmt.Errorf("coordinator: unknown npc %q in pack %q", npcID, pack.ID())
	}
	lang := st.Language()

	relation, found := st.NPCRelation(npcID, "player")
	if !found {
		relation = npc.Body.Relations["player"]
	}

	tags := slices.Clone(npc.Body.Tags)
	for _, t := range st.NPCTags(npcID) {
		if !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}

	direction := directive
	if ls.diceResult != nil {
		direction = roleplayDirection(ls.diceResult.Outcome, lang)
	}

	entries, err := c.assembler.FilterNPCLore(st.WorldPackID(), npcID, st.Location())
	if err != nil {
		return nil, err
	}
	knowledge := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := e.Content.In(lang); t != "" {
			knowledge = append(knowledge, t)
		}
	}

	all := st.RecentMessages(st.MessageCount())
	return &agent.NPCContext{
		NPCID:           npcID,
		Soul:            npc.Soul,
		Body:            npc.Body,
		Relation:        relation,
		Tags:            tags,
		SessionMemories: st.NPCMemories(npcID),
		RecentDialogue:  dialogueFor(all, npcID, c.historyLength),
		Style:           narrativeStyle(all, npcID, st.TurnCount()),
		Direction:       direction,
		Location:        st.Location(),
		WorldPackID:     st.WorldPackID(),
		Knowledge:       knowledge,
	}, nil
}

// dialogueFor extracts one NPC's exchanges from the transcript: every
// message the NPC spoke plus the player line right before it, capped to the
// most recent limit messages.
func dialogueFor(msgs []game.Message, npcID string, limit int) []game.Message {
	var out []game.Message
	for i, m := range msgs {
		if m.Metadata["npc_id"] != npcID {
			continue
		}
		if i > 0 && msgs[i-1].Role == types.RoleUser {
			out = append(out, msgs[i-1])
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// narrativeStyle decides reply verbosity from how recently the NPC spoke.
// An NPC active this turn or the previous one, or voiced in three distinct
// recent turns, stays brief; an NPC entering the scene cold gets room.
func narrativeStyle(msgs []game.Message, npcID string, currentTurn int) agent.NarrativeStyle {
	turns := make(map[int]bool)
	for _, m := range msgs {
		if m.Metadata["npc_id"] != npcID {
			continue
		}
		if m.Turn >= currentTurn-1 {
			return agent.StyleBrief
		}
		if m.Turn >= currentTurn-4 {
			turns[m.Turn] = true
		}
	}
	if len(turns) >= 3 {
		return agent.StyleBrief
	}
	return agent.StyleDetailed
}
