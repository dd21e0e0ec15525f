package agent

import (
	"strconv"
	"strings"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// pick returns the rendition matching lang, defaulting to Chinese.
func pick(lang types.Lang, cn, en string) string {
	if lang == types.LangEN {
		return en
	}
	return cn
}

// adjudicateSystemPrompt instructs the model to rule on an action and name
// the factors; the dice arithmetic and formula stay out of its hands.
func adjudicateSystemPrompt(lang types.Lang) string {
	if lang == types.LangEN {
		return `You are the rules referee of a tabletop roleplaying game. Given the player's action, the character's traits, and the current status tags, decide whether the action calls for a dice check and name the factors that shape the pool.

Ruling guidelines:
- Plain conversation, looking around, and actions with no meaningful risk of failure need no check.
- Actions with uncertain outcomes, risk, or opposition need one.
- Each positive trait aspect relevant to the action grants one bonus die; list the trait in bonus_traits.
- Each relevant negative aspect imposes one penalty die; list the trait in penalty_traits.
- Each status tag that helps the action grants one bonus die (bonus_tags); each that hinders it imposes one penalty die (penalty_tags).
- When the player argues convincingly that a trait applies, count that trait in bonus_traits so it can offset a penalty; ignore weak arguments.

Reply with a single JSON object and nothing else:
{"needs_check": true or false, "intention": "the attempted action in one phrase", "bonus_traits": ["..."], "penalty_traits": ["..."], "bonus_tags": ["..."], "penalty_tags": ["..."], "reasoning": "why you ruled this way"}`
	}
	return `你是桌面角色扮演游戏的规则裁判。根据玩家行动、角色特质和当前状态标签，判断该行动是否需要掷骰检定，并指出影响骰池的因素。

判定准则：
- 纯对话、观察环境、没有失败风险的行动不需要检定。
- 结果不确定、有风险或有阻力的行动需要检定。
- 每条与行动相关的正面特质提供一颗奖励骰，列入 bonus_traits。
- 每条与行动相关的负面特质带来一颗惩罚骰，列入 penalty_traits。
- 每个对行动有利的状态标签提供一颗奖励骰（bonus_tags）；不利的带来一颗惩罚骰（penalty_tags）。
- 玩家的论证若令人信服，将其引用的特质计入 bonus_traits，以此抵消惩罚骰；论证牵强则忽略。

只输出一个 JSON 对象，不要输出其他文字：
{"needs_check": true 或 false, "intention": "用一句话概括行动意图", "bonus_traits": ["..."], "penalty_traits": ["..."], "bonus_tags": ["..."], "penalty_tags": ["..."], "reasoning": "判定理由"}`
}

// formatAdjudication renders the adjudication request as the user message.
// Empty sections are omitted. Pure function.
func formatAdjudication(rc RuleContext, directive string, lang types.Lang) string {
	var b strings.Builder

	b.WriteString(pick(lang, "## 玩家行动\n", "## Player Action\n"))
	b.WriteString(strings.TrimSpace(rc.Action))

	if arg := strings.TrimSpace(rc.Argument); arg != "" {
		b.WriteString(pick(lang, "\n\n## 玩家论证\n", "\n\n## Player Argument\n"))
		b.WriteString(arg)
	}

	if d := strings.TrimSpace(directive); d != "" {
		b.WriteString(pick(lang, "\n\n## 主持人备注\n", "\n\n## GM Note\n"))
		b.WriteString(d)
	}

	b.WriteString(pick(lang, "\n\n## 角色\n姓名：", "\n\n## Character\nName: "))
	b.WriteString(rc.Character.Name)
	b.WriteString(pick(lang, "\n概念：", "\nConcept: "))
	b.WriteString(rc.Character.Concept.In(lang))

	if len(rc.Character.Traits) > 0 {
		b.WriteString(pick(lang, "\n\n## 特质\n", "\n\n## Traits\n"))
		for i, tr := range rc.Character.Traits {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(traitLine(tr, lang))
		}
	}

	if len(rc.Tags) > 0 {
		b.WriteString(pick(lang, "\n\n## 当前状态标签\n", "\n\n## Current Status Tags\n"))
		for i, tag := range rc.Tags {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString("- " + tag)
		}
	}

	return b.String()
}

// traitLine renders one trait with its aspects on a single bullet line.
func traitLine(tr types.Trait, lang types.Lang) string {
	parts := make([]string, 0, 3)
	if d := tr.Description.In(lang); d != "" {
		parts = append(parts, d)
	}
	if p := tr.PositiveAspect.In(lang); p != "" {
		parts = append(parts, pick(lang, "正面：", "positive: ")+p)
	}
	if n := tr.NegativeAspect.In(lang); n != "" {
		parts = append(parts, pick(lang, "负面：", "negative: ")+n)
	}
	name := "- " + tr.Name.In(lang)
	if len(parts) == 0 {
		return name
	}
	return name + pick(lang, "：", ": ") + strings.Join(parts, pick(lang, "；", "; "))
}

// narrateSystemPrompt instructs the model to turn a resolved check into
// in-world narration matching the outcome band.
func narrateSystemPrompt(lang types.Lang) string {
	if lang == types.LangEN {
		return `You are the game master of a tabletop roleplaying game. Turn the result of a dice check into a short piece of immersive narration. Write in the second person and stay true to the outcome band: a critical success exceeds expectations, a success lands cleanly, a partial success comes with a cost or complication, and a failure creates new trouble without ending the story.

Reply with a single JSON object:
{"narrative": "the narration"}`
	}
	return `你是桌面角色扮演游戏的主持人。把一次掷骰检定的结果转化为一段身临其境的叙事。用第二人称描写，并贴合结果等级：大成功锦上添花，成功干净利落，部分成功附带代价或隐患，失败制造新的麻烦但不终结故事。

只输出一个 JSON 对象：
{"narrative": "一段叙事文字"}`
}

// formatNarration renders the resolved check as the narration user
// message. Pure function; rc.Result must be non-nil.
func formatNarration(rc RuleContext, lang types.Lang) string {
	intention := strings.TrimSpace(rc.Action)
	formula := ""
	if rc.Check != nil {
		if it := strings.TrimSpace(rc.Check.Intention); it != "" {
			intention = it
		}
		formula = rc.Check.Formula
	}
	res := rc.Result

	var b strings.Builder
	b.WriteString(pick(lang, "## 检定行动\n", "## Attempted Action\n"))
	b.WriteString(intention)
	b.WriteString(pick(lang, "\n\n## 掷骰结果\n", "\n\n## Dice Result\n"))
	if formula != "" {
		b.WriteString(pick(lang, "公式：", "Formula: ") + formula + "\n")
	}
	b.WriteString(pick(lang, "骰点：", "Rolls: ") + joinInts(res.AllRolls, lang))
	b.WriteString(pick(lang, "（保留 ", " (kept ") + joinInts(res.KeptRolls, lang))
	b.WriteString(pick(lang, "）\n总计：", ")\nTotal: ") + strconv.Itoa(res.Total))
	b.WriteString(pick(lang, "\n结果等级：", "\nOutcome: ") + outcomeLabel(res.Outcome, lang))
	return b.String()
}

// outcomeLabel localizes an outcome band for prompt display.
func outcomeLabel(o dice.Outcome, lang types.Lang) string {
	switch o {
	case dice.OutcomeCritical:
		return pick(lang, "大成功", "critical success")
	case dice.OutcomeSuccess:
		return pick(lang, "成功", "success")
	case dice.OutcomePartial:
		return pick(lang, "部分成功", "partial success")
	default:
		return pick(lang, "失败", "failure")
	}
}

// joinInts joins dice values with the language's list separator.
func joinInts(ns []int, lang types.Lang) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, pick(lang, "、", ", "))
}

// formatRoleplay renders the roleplayer system prompt: persona, voice
// examples, disposition, recalled memories, local knowledge, scene and the
// reply contract. Empty sections are omitted. Pure function.
func formatRoleplay(nc NPCContext, memories []string, lang types.Lang) string {
	name := nc.Soul.Name.In(lang)
	var b strings.Builder

	b.WriteString(pick(lang,
		"你正在扮演「"+name+"」。完全以这个角色的身份回应，绝不跳出角色。\n\n## 角色设定\n",
		"You are roleplaying \""+name+"\". Stay fully in character at all times.\n\n## Persona\n"))
	b.WriteString(nc.Soul.Description.In(lang))
	if len(nc.Soul.Personality) > 0 {
		b.WriteString(pick(lang, "\n性格：", "\nPersonality: "))
		b.WriteString(strings.Join(nc.Soul.Personality, pick(lang, "、", ", ")))
	}
	if style := nc.Soul.SpeechStyle.In(lang); style != "" {
		b.WriteString(pick(lang, "\n说话风格：", "\nSpeech style: ") + style)
	}

	if len(nc.Soul.ExampleDialogue) > 0 {
		b.WriteString(pick(lang, "\n\n## 对话示例", "\n\n## Example Dialogue"))
		for _, pair := range nc.Soul.ExampleDialogue {
			b.WriteString(pick(lang, "\n玩家：", "\nPlayer: ") + pair.Player.In(lang))
			b.WriteString("\n" + name + pick(lang, "：", ": ") + pair.NPC.In(lang))
		}
	}

	b.WriteString(pick(lang,
		"\n\n## 对玩家的态度\n当前好感度 ",
		"\n\n## Disposition Toward the Player\nCurrent relation "))
	b.WriteString(strconv.Itoa(nc.Relation))
	b.WriteString(pick(lang,
		"（范围 -100 到 100），据此拿捏亲疏与信任。",
		" on a scale from -100 to 100; let it shape warmth and trust."))

	if len(memories) > 0 {
		b.WriteString(pick(lang, "\n\n## 你记得的事", "\n\n## What You Remember"))
		for _, m := range memories {
			b.WriteString("\n- " + m)
		}
	}

	if len(nc.Knowledge) > 0 {
		b.WriteString(pick(lang, "\n\n## 你知道的事", "\n\n## What You Know"))
		for _, k := range nc.Knowledge {
			b.WriteString("\n- " + k)
		}
	}

	b.WriteString(pick(lang, "\n\n## 当前场景\n地点：", "\n\n## Scene\nLocation: "))
	b.WriteString(nc.Location)
	if len(nc.Tags) > 0 {
		b.WriteString(pick(lang, "\n你的状态：", "\nYour condition: "))
		b.WriteString(strings.Join(nc.Tags, pick(lang, "、", ", ")))
	}
	if len(nc.Body.Inventory) > 0 {
		b.WriteString(pick(lang, "\n随身物品：", "\nCarrying: "))
		b.WriteString(strings.Join(nc.Body.Inventory, pick(lang, "、", ", ")))
	}

	if d := strings.TrimSpace(nc.Direction); d != "" {
		b.WriteString(pick(lang, "\n\n## 表演指令\n", "\n\n## Acting Direction\n"))
		b.WriteString(d)
	}

	if nc.Style == StyleBrief {
		b.WriteString(pick(lang,
			"\n\n## 回应长度\n保持简短，一两句话即可。",
			"\n\n## Reply Length\nKeep it brief, a line or two."))
	} else {
		b.WriteString(pick(lang,
			"\n\n## 回应长度\n可以细致描写神态与动作，但不要超过一段。",
			"\n\n## Reply Length\nRoom for expression and body language, but stay within one paragraph."))
	}

	b.WriteString(pick(lang,
		"\n\n## 输出格式\n只输出一个 JSON 对象：\n{\"response\": \"角色说的话与举止\", \"emotion\": \"一词概括情绪\", \"action\": \"可见动作，可留空\", \"relation_change\": -10 到 10 的整数, \"new_memory\": {\"event\": \"值得记住的事\", \"keywords\": [\"关键词\"]}，没有就省略}",
		"\n\n## Output Format\nReply with a single JSON object:\n{\"response\": \"what the character says and does\", \"emotion\": \"one-word emotion\", \"action\": \"visible action, may be empty\", \"relation_change\": integer from -10 to 10, \"new_memory\": {\"event\": \"something worth remembering\", \"keywords\": [\"keywords\"]}, omit when nothing stands out}"))

	return b.String()
}
