package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/llmjson"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	"github.com/MrWong99/fateweaver/pkg/types"
)

const (
	// adjudicateTemperature keeps verdicts stable across similar actions.
	adjudicateTemperature = 0.2

	// narrateTemperature gives outcome narration room for flavor.
	narrateTemperature = 0.8
)

// Compile-time check that [Rule] satisfies [Agent].
var _ Agent = (*Rule)(nil)

// Rule is the adjudicator: it decides whether an action calls for a dice
// check, derives the pool from traits and tags, and narrates resolved
// checks back into the story.
type Rule struct {
	llm llm.Provider
}

// NewRule creates the adjudicator backed by provider.
func NewRule(provider llm.Provider) *Rule {
	return &Rule{llm: provider}
}

// Name implements [Agent].
func (r *Rule) Name() string { return "rule" }

// Invoke implements [Agent]. A request carrying a resolved [dice.Result]
// is narrated; anything else is adjudicated.
func (r *Rule) Invoke(ctx context.Context, req Request) (Result, error) {
	if req.Rule == nil {
		return Result{}, errors.New("agent: rule: request carries no rule context")
	}
	if req.Rule.Result != nil {
		return r.narrate(ctx, req)
	}
	return r.adjudicate(ctx, req)
}

// ruleVerdict is the JSON shape the adjudication prompt requests. The
// model names the factors; the dice arithmetic stays on this side.
type ruleVerdict struct {
	NeedsCheck    bool     `json:"needs_check"`
	Intention     string   `json:"intention"`
	BonusTraits   []string `json:"bonus_traits"`
	PenaltyTraits []string `json:"penalty_traits"`
	BonusTags     []string `json:"bonus_tags"`
	PenaltyTags   []string `json:"penalty_tags"`
	Reasoning     string   `json:"reasoning"`
}

// narration is the JSON shape the narration prompt requests.
type narration struct {
	Narrative string `json:"narrative"`
}

func (r *Rule) adjudicate(ctx context.Context, req Request) (Result, error) {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: adjudicateSystemPrompt(req.Lang),
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: formatAdjudication(*req.Rule, req.Directive, req.Lang),
		}},
		Temperature: adjudicateTemperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: rule: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrParse)
	}

	verdict, err := llmjson.Decode[ruleVerdict](resp.Content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	if !verdict.NeedsCheck {
		return Result{
			Content:  verdict.Reasoning,
			Metadata: map[string]string{"needs_check": "false"},
		}, nil
	}

	// One die per named factor, bonus and penalty cancelling through the
	// pool's net. The formula is always derived here; any formula string
	// in the completion is ignored.
	spec := dice.PoolSpec{
		BonusDice:   len(verdict.BonusTraits) + len(verdict.BonusTags),
		PenaltyDice: len(verdict.PenaltyTraits) + len(verdict.PenaltyTags),
	}
	formula := spec.Formula()

	intention := strings.TrimSpace(verdict.Intention)
	if intention == "" {
		intention = strings.TrimSpace(req.Rule.Action)
	}

	bonus := dedupe(slices.Concat(verdict.BonusTraits, verdict.BonusTags))
	penalty := dedupe(slices.Concat(verdict.PenaltyTraits, verdict.PenaltyTags))

	check := &dice.CheckRequest{
		Intention: intention,
		Factors: dice.Factors{
			Traits: dedupe(slices.Concat(verdict.BonusTraits, verdict.PenaltyTraits)),
			Tags:   dedupe(slices.Concat(verdict.BonusTags, verdict.PenaltyTags)),
		},
		Formula:      formula,
		Instructions: checkInstructions(intention, formula, bonus, penalty),
	}

	return Result{
		Content:  verdict.Reasoning,
		Metadata: map[string]string{"needs_check": "true", "dice_formula": formula},
		Check:    check,
	}, nil
}

func (r *Rule) narrate(ctx context.Context, req Request) (Result, error) {
	rc := req.Rule
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: narrateSystemPrompt(req.Lang),
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: formatNarration(*rc, req.Lang),
		}},
		Temperature: narrateTemperature,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent: rule: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return Result{}, fmt.Errorf("%w: empty completion", ErrParse)
	}

	decoded, err := llmjson.Decode[narration](resp.Content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if strings.TrimSpace(decoded.Narrative) == "" {
		return Result{}, fmt.Errorf("%w: empty narrative", ErrParse)
	}

	return Result{
		Content: decoded.Narrative,
		Metadata: map[string]string{
			"outcome": string(rc.Result.Outcome),
			"total":   strconv.Itoa(rc.Result.Total),
		},
	}, nil
}

// checkInstructions builds the player-facing explanation of a check in
// both languages, naming every factor that shaped the pool.
func checkInstructions(intention, formula string, bonus, penalty []string) types.Text {
	var cn, en strings.Builder
	fmt.Fprintf(&cn, "「%s」需要检定：掷 %s。", intention, formula)
	fmt.Fprintf(&en, "%q calls for a check: roll %s.", intention, formula)
	if len(bonus) > 0 {
		fmt.Fprintf(&cn, "奖励骰来自：%s。", strings.Join(bonus, "、"))
		fmt.Fprintf(&en, " Bonus dice from: %s.", strings.Join(bonus, ", "))
	}
	if len(penalty) > 0 {
		fmt.Fprintf(&cn, "惩罚骰来自：%s。", strings.Join(penalty, "、"))
		fmt.Fprintf(&en, " Penalty dice from: %s.", strings.Join(penalty, ", "))
	}
	return types.Text{CN: cn.String(), EN: en.String()}
}

// dedupe trims and removes duplicates preserving first-seen order. The
// result is never nil so factor lists serialize as [] rather than null.
func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || slices.Contains(out, it) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// FallbackNarrative returns the canned outcome narration used when the
// adjudicator cannot produce one, one template per outcome band. Unknown
// outcomes fall back to the failure wording.
func FallbackNarrative(outcome dice.Outcome, lang types.Lang) string {
	if lang == types.LangEN {
		switch outcome {
		case dice.OutcomeCritical:
			return "A critical success! It goes better than you dared hope, and fate hands you something extra on top."
		case dice.OutcomeSuccess:
			return "Success. You pull it off cleanly, and things unfold the way you intended."
		case dice.OutcomePartial:
			return "A partial success. You get what you were after, but it costs you something or leaves a loose end."
		default:
			return "Failure. Things refuse to go your way, and the situation just got more complicated."
		}
	}
	switch outcome {
	case dice.OutcomeCritical:
		return "大成功！你的行动远超预期，命运甚至额外馈赠了你一份好运。"
	case dice.OutcomeSuccess:
		return "成功。你干净利落地完成了尝试，事情正如你所愿地展开。"
	case dice.OutcomePartial:
		return "部分成功。你达到了目的，但付出了代价，或是留下了隐患。"
	default:
		return "失败。事情没有如你所愿，眼下的局面变得更加棘手了。"
	}
}
