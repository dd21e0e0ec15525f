package coordinator

import (
	"strconv"
	"strings"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/scene"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// pick returns the rendition matching lang, defaulting to Chinese.
func pick(lang types.Lang, cn, en string) string {
	if lang == types.LangEN {
		return en
	}
	return cn
}

// statusMessage is the display text accompanying a status frame.
func statusMessage(agentName string, lang types.Lang) string {
	switch {
	case agentName == "gm":
		return pick(lang, "主持人正在推进故事", "The game master is weaving the story")
	case agentName == "rule":
		return pick(lang, "正在判定行动", "Adjudicating the action")
	case agentName == "lore":
		return pick(lang, "正在查阅世界资料", "Consulting the archives")
	case strings.HasPrefix(agentName, "npc_"):
		return pick(lang, "角色正在回应", "A character is responding")
	}
	return ""
}

// npcSummary is the one-line identity of an active NPC, shown to the
// game master so it knows who can be addressed.
type npcSummary struct {
	id    string
	name  string
	brief string
}

// activeNPCSummaries resolves the session's active NPC ids against the
// pack. Ids the pack no longer knows are skipped.
func activeNPCSummaries(st *game.State, pack *worldpack.Pack, lang types.Lang) []npcSummary {
	ids := st.ActiveNPCs()
	out := make([]npcSummary, 0, len(ids))
	for _, id := range ids {
		npc, ok := pack.NPC(id)
		if !ok {
			continue
		}
		out = append(out, npcSummary{
			id:    id,
			name:  npc.Soul.Name.In(lang),
			brief: snippet(npc.Soul.Description.In(lang), npcBriefLimit),
		})
	}
	return out
}

// gmSystemPrompt instructs the reasoning model to run the turn: narrate
// directly or delegate to one named agent, one JSON decision per call.
// When force is set the delegation option is withdrawn.
func gmSystemPrompt(lang types.Lang, agentNames []string, npcs []npcSummary, force bool) string {
	var b strings.Builder

	b.WriteString(pick(lang,
		`你是桌面角色扮演游戏的主持人（GM），负责推进故事、描绘场景并回应玩家的行动。

行事准则：
- 用第二人称描写玩家的经历，保持世界观一致。
- 玩家尝试有风险或结果不确定的行动时，先咨询 rule 代理。
- 需要世界设定、历史或传闻的细节时，咨询 lore 代理。
- 玩家与在场角色交谈时，调用对应的 npc_<id> 代理生成回应。
- 玩家移动时只能前往与当前地点直接相连的地点，并在 target_location 中给出地点 id。
- 绝不向玩家泄露未发现的隐藏物品或任何内部标识符。`,
		`You are the game master (GM) of a tabletop roleplaying game: you drive the story, paint the scene, and answer the player's actions.

Guidelines:
- Narrate the player's experience in the second person and keep the world consistent.
- When the player attempts something risky or uncertain, consult the rule agent first.
- When you need setting details, history, or rumors, consult the lore agent.
- When the player talks to a present character, call its npc_<id> agent for the reply.
- The player can only move to locations directly connected to the current one; put the location id in target_location.
- Never reveal undiscovered hidden items or any internal identifiers to the player.`))

	b.WriteString(pick(lang, "\n\n可调用的代理：", "\n\nAvailable agents:"))
	for _, name := range agentNames {
		switch name {
		case "rule":
			b.WriteString(pick(lang,
				"\n- rule：判定行动是否需要掷骰检定，并叙述已完成的检定",
				"\n- rule: rules whether an action needs a dice check and narrates resolved checks"))
		case "lore":
			b.WriteString(pick(lang,
				"\n- lore：检索世界设定与背景知识",
				"\n- lore: searches the world's lore and background"))
		case "npc":
			// Addressed per character below.
		default:
			b.WriteString("\n- " + name)
		}
	}
	for _, npc := range npcs {
		b.WriteString("\n- npc_" + npc.id + pick(lang, "：让「", ": lets \"") + npc.name + pick(lang, "」回应", "\" respond"))
	}

	b.WriteString(pick(lang,
		"\n\n每次只输出一个 JSON 对象，二选一：\n需要代理协助时：\n{\"action\": \"CALL_AGENT\", \"agent_name\": \"代理名\", \"agent_context\": \"交代给代理的背景与问题\", \"reasoning\": \"为何调用\"}\n可以直接回应时：\n{\"action\": \"RESPOND\", \"narrative\": \"给玩家的叙事\", \"target_location\": \"玩家移动时填地点 id，否则省略\", \"reasoning\": \"简短说明\"}",
		"\n\nReply with exactly one JSON object, one of two shapes:\nWhen you need an agent:\n{\"action\": \"CALL_AGENT\", \"agent_name\": \"the agent\", \"agent_context\": \"background and question for the agent\", \"reasoning\": \"why you are calling it\"}\nWhen you can answer directly:\n{\"action\": \"RESPOND\", \"narrative\": \"the narration for the player\", \"target_location\": \"location id when the player moves, omit otherwise\", \"reasoning\": \"a short note\"}"))

	if force {
		b.WriteString(pick(lang,
			"\n\n本轮你必须输出 RESPOND，不得再调用任何代理。",
			"\n\nThis round you must output RESPOND; no further agent calls are allowed."))
	}
	return b.String()
}

// turnPrompt renders the user message for one decision call: the scene
// bundle, who is present, the constant world background, recent dialogue,
// the player's input, and whatever agent results and dice outcome the loop
// has gathered so far.
func (c *Coordinator) turnPrompt(st *game.State, pack *worldpack.Pack, sc *scene.Scene, npcs []npcSummary, ls *loopState) string {
	lang := st.Language()
	var b strings.Builder

	b.WriteString(scene.FormatScene(sc, lang))

	if len(npcs) > 0 {
		b.WriteString(pick(lang, "\n\n## 在场角色", "\n\n## Present Characters"))
		for _, npc := range npcs {
			b.WriteString("\n- npc_" + npc.id + pick(lang, "（", " (") + npc.name + pick(lang, "）", ")"))
			if npc.brief != "" {
				b.WriteString(pick(lang, "：", ": ") + npc.brief)
			}
		}
	}

	if bg := worldBackground(pack, lang); bg != "" {
		b.WriteString(pick(lang, "\n\n## 世界背景\n", "\n\n## World Background\n"))
		b.WriteString(bg)
	}

	if history := c.historyFor(st, ls); len(history) > 0 {
		b.WriteString(pick(lang, "\n\n## 最近对话", "\n\n## Recent Messages"))
		for _, m := range history {
			b.WriteString("\n" + roleLabel(m, lang) + pick(lang, "：", ": ") + snippet(m.Content, historySnippetLimit))
		}
	}

	b.WriteString(pick(lang, "\n\n## 玩家输入\n", "\n\n## Player Input\n"))
	b.WriteString(ls.input)

	if len(ls.notes) > 0 {
		b.WriteString(pick(lang, "\n\n## 代理结果", "\n\n## Agent Results"))
		for _, note := range ls.notes {
			content := note.Content
			if strings.TrimSpace(content) == "" {
				content = pick(lang, "（调用失败，无结果）", "(call failed, no result)")
			}
			b.WriteString("\n- " + note.Agent + pick(lang, "：", ": ") + content)
		}
	}

	if ls.diceResult != nil {
		b.WriteString(pick(lang, "\n\n## 掷骰结果\n", "\n\n## Dice Check Result\n"))
		b.WriteString(diceSummary(ls.check, *ls.diceResult, lang))
	}

	return b.String()
}

// historyFor returns the recent transcript window for the prompt. The
// player message opening this turn is dropped from the window; it gets its
// own section.
func (c *Coordinator) historyFor(st *game.State, ls *loopState) []game.Message {
	msgs := st.RecentMessages(c.historyLength + 1)
	if n := len(msgs); n > 0 {
		last := msgs[n-1]
		if last.Role == types.RoleUser && last.Content == ls.input {
			msgs = msgs[:n-1]
		}
	}
	if len(msgs) > c.historyLength {
		msgs = msgs[len(msgs)-c.historyLength:]
	}
	return msgs
}

// roleLabel localizes a transcript role for prompt display. Messages from
// a named NPC are labelled with the id recorded in their metadata.
func roleLabel(m game.Message, lang types.Lang) string {
	if id := m.Metadata["npc_id"]; id != "" {
		return id
	}
	switch m.Role {
	case types.RoleUser:
		return pick(lang, "玩家", "Player")
	case types.RoleAssistant:
		return pick(lang, "主持人", "GM")
	}
	return pick(lang, "系统", "System")
}

// worldBackground concatenates the pack's constant lore, the entries that
// apply everywhere regardless of retrieval.
func worldBackground(pack *worldpack.Pack, lang types.Lang) string {
	var parts []string
	for _, e := range pack.Entries() {
		if !e.Constant {
			continue
		}
		if t := e.Content.In(lang); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// diceSummary renders a resolved check in one line for prompts and the
// transcript.
func diceSummary(check *dice.CheckRequest, res dice.Result, lang types.Lang) string {
	var b strings.Builder
	if check != nil && strings.TrimSpace(check.Intention) != "" {
		b.WriteString(pick(lang, "检定「"+check.Intention+"」：", "Check "+strconv.Quote(check.Intention)+": "))
	} else {
		b.WriteString(pick(lang, "检定：", "Check: "))
	}
	if check != nil && check.Formula != "" {
		b.WriteString(check.Formula + " ")
	}
	b.WriteString(pick(lang, "掷出 ", "rolled ") + joinInts(res.KeptRolls, lang))
	b.WriteString(pick(lang, "，总计 ", ", total ") + strconv.Itoa(res.Total))
	b.WriteString(pick(lang, "（", " (") + outcomeLabel(res.Outcome, lang) + pick(lang, "）", ")"))
	return b.String()
}

// outcomeLabel localizes an outcome band, including the client-only ones.
func outcomeLabel(o dice.Outcome, lang types.Lang) string {
	switch o {
	case dice.OutcomeCritical, outcomeCriticalSuccess:
		return pick(lang, "大成功", "critical success")
	case dice.OutcomeSuccess:
		return pick(lang, "成功", "success")
	case dice.OutcomePartial:
		return pick(lang, "部分成功", "partial success")
	case outcomeCriticalFailure:
		return pick(lang, "大失败", "critical failure")
	}
	return pick(lang, "失败", "failure")
}

// joinInts joins dice values with the language's list separator.
func joinInts(ns []int, lang types.Lang) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, pick(lang, "、", ", "))
}

// apologyNarrative is the player-facing text when the decision loop burns
// through its budget without producing a response.
func apologyNarrative(lang types.Lang) string {
	return pick(lang,
		"（主持人整理了一下思绪。）抱歉，这个瞬间的思路断了，请换个说法再试一次。",
		"(The game master collects their thoughts.) Sorry, the thread slipped away for a moment; please try putting that another way.")
}

// preCheckNarrative is the fallback story beat shown with a dice check when
// the adjudicator produced no reasoning of its own.
func preCheckNarrative(lang types.Lang) string {
	return pick(lang,
		"命运悬而未决，掷骰来见分晓。",
		"Fate hangs in the balance; the dice will decide.")
}

// snippet truncates s to limit runes, marking the cut with an ellipsis.
func snippet(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
