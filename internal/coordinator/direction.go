package coordinator

import (
	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// Outcome bands only clients report. The engine's own bands stop at
// [dice.OutcomeFailure]; house-ruled rollers may go further down, and some
// clients spell the top band out.
const (
	outcomeCriticalSuccess = dice.Outcome("critical_success")
	outcomeCriticalFailure = dice.Outcome("critical_failure")
)

// roleplayDirection distills a resolved check into acting guidance for the
// roleplayer. NPCs never see dice totals; this sentence is all that crosses
// the boundary. Unknown bands get the failure wording.
func roleplayDirection(outcome dice.Outcome, lang types.Lang) string {
	switch outcome {
	case dice.OutcomeCritical, outcomeCriticalSuccess:
		return pick(lang,
			"NPC 应该非常积极地回应，并主动提供帮助",
			"The NPC should respond very positively and proactively offer help")
	case dice.OutcomeSuccess:
		return pick(lang,
			"NPC 应该积极回应，态度有所软化",
			"The NPC should respond positively with a softened attitude")
	case dice.OutcomePartial:
		return pick(lang,
			"NPC 的态度应有所松动，但仍保持警惕",
			"The NPC's attitude should soften somewhat, but remain guarded")
	case outcomeCriticalFailure:
		return pick(lang,
			"NPC 应该强烈拒绝，态度恶化",
			"The NPC should strongly refuse with a worsened attitude")
	}
	return pick(lang,
		"NPC 应该拒绝请求",
		"The NPC should refuse the request")
}
