package agent_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/pkg/provider/llm"
	llmmock "github.com/MrWong99/fateweaver/pkg/provider/llm/mock"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// swordsmanContext returns an adjudication slice for a character whose
// athletic trait can offset an injured-leg tag.
func swordsmanContext() *agent.RuleContext {
	return &agent.RuleContext{
		Action:   "徒手攀上钟楼外墙",
		Argument: "我是运动健将，攀爬对我来说是家常便饭",
		Character: agent.CharacterSheet{
			Name:    "林小雨",
			Concept: types.Text{CN: "落魄的剑客", EN: "A down-on-her-luck swordswoman"},
			Traits: []types.Trait{{
				Name:           types.Text{CN: "运动健将"},
				Description:    types.Text{CN: "身手敏捷，体能过人"},
				PositiveAspect: types.Text{CN: "攀爬、奔跑、闪避时占据优势"},
				NegativeAspect: types.Text{CN: "好胜心强，容易冒进"},
			}},
		},
		Tags: []string{"腿部受伤"},
	}
}

func ruleRequest(rc *agent.RuleContext) agent.Request {
	return agent.Request{
		PlayerInput: rc.Action,
		Lang:        types.LangCN,
		Rule:        rc,
	}
}

func complete(content string) *llmmock.Provider {
	return &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: content}}
}

// ─── adjudication ────────────────────────────────────────────────────────────

func TestRule_Adjudicate_NoCheckNeeded(t *testing.T) {
	t.Parallel()
	p := complete(`{"needs_check": false, "reasoning": "闲聊没有失败风险"}`)

	res, err := agent.NewRule(p).Invoke(context.Background(),
		ruleRequest(&agent.RuleContext{Action: "和店主闲聊"}))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Check != nil {
		t.Fatalf("Check = %+v, want nil", res.Check)
	}
	if res.Content != "闲聊没有失败风险" {
		t.Fatalf("Content = %q, want the reasoning", res.Content)
	}
	if got := res.Metadata["needs_check"]; got != "false" {
		t.Fatalf(`Metadata["needs_check"] = %q, want "false"`, got)
	}
}

// TestRule_Adjudicate_PoolDerivation exercises the local dice arithmetic:
// the factor counts in the verdict, not any formula string the model may
// emit, decide the pool.
func TestRule_Adjudicate_PoolDerivation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		completion string
		formula    string
	}{
		{
			name:       "plain roll",
			completion: `{"needs_check": true, "intention": "撬锁", "reasoning": "有风险"}`,
			formula:    "2d6",
		},
		{
			name:       "bonus trait widens the pool",
			completion: `{"needs_check": true, "intention": "攀墙", "bonus_traits": ["运动健将"], "reasoning": "特质相关"}`,
			formula:    "3d6kh2",
		},
		{
			name:       "penalty tag narrows the keep",
			completion: `{"needs_check": true, "intention": "追逐", "penalty_tags": ["腿部受伤"], "reasoning": "伤势拖累"}`,
			formula:    "3d6kl2",
		},
		{
			name:       "two bonuses one penalty",
			completion: `{"needs_check": true, "intention": "夜间潜行", "bonus_traits": ["运动健将", "猎人的直觉"], "penalty_tags": ["腿部受伤"], "reasoning": "净优势一颗"}`,
			formula:    "3d6kh2",
		},
		{
			name:       "model formula is ignored",
			completion: `{"needs_check": true, "intention": "攀墙", "bonus_traits": ["运动健将"], "dice_formula": "10d20", "reasoning": "公式由引擎决定"}`,
			formula:    "3d6kh2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := agent.NewRule(complete(tt.completion)).Invoke(
				context.Background(), ruleRequest(swordsmanContext()))
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if res.Check == nil {
				t.Fatal("Check = nil, want a request")
			}
			if res.Check.Formula != tt.formula {
				t.Fatalf("Formula = %q, want %q", res.Check.Formula, tt.formula)
			}
			if res.Metadata["dice_formula"] != tt.formula {
				t.Fatalf(`Metadata["dice_formula"] = %q, want %q`, res.Metadata["dice_formula"], tt.formula)
			}
		})
	}
}

// TestRule_Adjudicate_ArgumentOffsetsPenalty plays the canonical offset:
// the athletic trait argued by the player cancels the injured-leg tag,
// leaving a plain roll that still names both factors.
func TestRule_Adjudicate_ArgumentOffsetsPenalty(t *testing.T) {
	t.Parallel()
	p := complete(`{"needs_check": true, "intention": "徒手攀上钟楼外墙", "bonus_traits": ["运动健将"], "penalty_tags": ["腿部受伤"], "reasoning": "论证成立，特质抵消伤势"}`)

	res, err := agent.NewRule(p).Invoke(context.Background(), ruleRequest(swordsmanContext()))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Check == nil {
		t.Fatal("Check = nil, want a request")
	}
	if res.Check.Formula != "2d6" {
		t.Fatalf("Formula = %q, want 2d6 after offset", res.Check.Formula)
	}
	if !slices.Contains(res.Check.Factors.Traits, "运动健将") {
		t.Errorf("Factors.Traits = %v, missing the offsetting trait", res.Check.Factors.Traits)
	}
	if !slices.Contains(res.Check.Factors.Tags, "腿部受伤") {
		t.Errorf("Factors.Tags = %v, missing the offset tag", res.Check.Factors.Tags)
	}
	for _, want := range []string{"运动健将", "腿部受伤", "2d6"} {
		if !strings.Contains(res.Check.Instructions.CN, want) {
			t.Errorf("Instructions.CN missing %q:\n%s", want, res.Check.Instructions.CN)
		}
		if !strings.Contains(res.Check.Instructions.EN, want) {
			t.Errorf("Instructions.EN missing %q:\n%s", want, res.Check.Instructions.EN)
		}
	}
}

func TestRule_Adjudicate_PromptCarriesContext(t *testing.T) {
	t.Parallel()
	p := complete(`{"needs_check": false, "reasoning": "无需检定"}`)
	rc := swordsmanContext()
	req := ruleRequest(rc)
	req.Directive = "判断这次攀爬是否需要检定"

	if _, err := agent.NewRule(p).Invoke(context.Background(), req); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete called %d times, want 1", len(p.CompleteCalls))
	}
	call := p.CompleteCalls[0].Req
	if call.SystemPrompt == "" {
		t.Error("system prompt is empty")
	}
	if len(call.Messages) != 1 || call.Messages[0].Role != types.RoleUser {
		t.Fatalf("Messages = %+v, want one user message", call.Messages)
	}
	user := call.Messages[0].Content
	for _, want := range []string{rc.Action, rc.Argument, req.Directive, "林小雨", "运动健将", "腿部受伤"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}

func TestRule_Adjudicate_ParseFailure(t *testing.T) {
	t.Parallel()
	p := complete("你大概需要掷个骰子，我说不好。")

	_, err := agent.NewRule(p).Invoke(context.Background(), ruleRequest(swordsmanContext()))
	if !errors.Is(err, agent.ErrParse) {
		t.Fatalf("Invoke() error = %v, want ErrParse", err)
	}
}

func TestRule_Adjudicate_ProviderError(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteErr: errors.New("backend down")}

	_, err := agent.NewRule(p).Invoke(context.Background(), ruleRequest(swordsmanContext()))
	if err == nil {
		t.Fatal("Invoke() error = nil, want transport error")
	}
	if errors.Is(err, agent.ErrParse) {
		t.Fatalf("Invoke() error = %v, transport failure must not read as a parse failure", err)
	}
}

// ─── narration ───────────────────────────────────────────────────────────────

func narratedContext() *agent.RuleContext {
	rc := swordsmanContext()
	rc.Result = &dice.Result{
		AllRolls:     []int{5, 5},
		KeptRolls:    []int{5, 5},
		DroppedRolls: []int{},
		Total:        10,
		Outcome:      dice.OutcomeSuccess,
	}
	rc.Check = &dice.CheckRequest{Intention: "撬开铁锁", Formula: "2d6"}
	return rc
}

func TestRule_Narrate(t *testing.T) {
	t.Parallel()
	p := complete("```json\n{\"narrative\": \"你指尖一勾，锁簧应声而开。\"}\n```")

	res, err := agent.NewRule(p).Invoke(context.Background(), ruleRequest(narratedContext()))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Content != "你指尖一勾，锁簧应声而开。" {
		t.Fatalf("Content = %q, want the narrative", res.Content)
	}
	if res.Check != nil {
		t.Fatalf("Check = %+v, want nil on the narration path", res.Check)
	}
	if res.Metadata["outcome"] != "success" || res.Metadata["total"] != "10" {
		t.Fatalf("Metadata = %v, want outcome/total recorded", res.Metadata)
	}

	user := p.CompleteCalls[0].Req.Messages[0].Content
	for _, want := range []string{"撬开铁锁", "2d6", "10", "成功"} {
		if !strings.Contains(user, want) {
			t.Errorf("narration prompt missing %q:\n%s", want, user)
		}
	}
}

func TestRule_Narrate_ParseFailure(t *testing.T) {
	t.Parallel()
	p := complete("锁开了，就这样。")

	_, err := agent.NewRule(p).Invoke(context.Background(), ruleRequest(narratedContext()))
	if !errors.Is(err, agent.ErrParse) {
		t.Fatalf("Invoke() error = %v, want ErrParse", err)
	}
}

// ─── fallback templates ──────────────────────────────────────────────────────

func TestFallbackNarrative(t *testing.T) {
	t.Parallel()
	outcomes := []dice.Outcome{
		dice.OutcomeCritical, dice.OutcomeSuccess, dice.OutcomePartial, dice.OutcomeFailure,
	}
	for _, lang := range []types.Lang{types.LangCN, types.LangEN} {
		seen := make(map[string]bool)
		for _, o := range outcomes {
			got := agent.FallbackNarrative(o, lang)
			if got == "" {
				t.Errorf("FallbackNarrative(%s, %s) is empty", o, lang)
			}
			if seen[got] {
				t.Errorf("FallbackNarrative(%s, %s) duplicates another outcome's template", o, lang)
			}
			seen[got] = true
		}
	}
	if got := agent.FallbackNarrative(dice.OutcomeCritical, types.LangCN); !strings.Contains(got, "大成功") {
		t.Errorf("critical template %q does not announce 大成功", got)
	}
}

func TestRule_MissingRuleContext(t *testing.T) {
	t.Parallel()
	_, err := agent.NewRule(complete("{}")).Invoke(context.Background(),
		agent.Request{PlayerInput: "hi", Lang: types.LangCN})
	if err == nil {
		t.Fatal("Invoke() error = nil, want missing-context error")
	}
}
