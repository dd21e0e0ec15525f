// Package dice implements the 2d6 pool engine used for every check in a
// Fateweaver session.
//
// A check starts from a pool spec (modifier, bonus dice, penalty dice). Bonus
// and penalty dice cancel one-for-one; the surplus widens the pool, and the
// engine keeps the two highest dice under advantage or the two lowest under
// disadvantage. The summed pair plus the modifier lands in one of four fixed
// outcome buckets.
//
// The engine is pure: given the same [Source] it produces the same result, so
// tests inject a seeded [math/rand/v2] generator.
package dice

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// Outcome is the qualitative band a check total falls into.
type Outcome string

const (
	// OutcomeCritical is a total of 12 or more.
	OutcomeCritical Outcome = "critical"

	// OutcomeSuccess is a total of 10 or 11.
	OutcomeSuccess Outcome = "success"

	// OutcomePartial is a total of 7 to 9: the action succeeds at a cost.
	OutcomePartial Outcome = "partial"

	// OutcomeFailure is a total of 6 or less.
	OutcomeFailure Outcome = "failure"
)

// IsValid reports whether the outcome is one of the four engine buckets.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeCritical, OutcomeSuccess, OutcomePartial, OutcomeFailure:
		return true
	}
	return false
}

// OutcomeFor maps a check total onto its outcome bucket.
// The band boundaries are 12 / 10 / 7.
func OutcomeFor(total int) Outcome {
	switch {
	case total >= 12:
		return OutcomeCritical
	case total >= 10:
		return OutcomeSuccess
	case total >= 7:
		return OutcomePartial
	default:
		return OutcomeFailure
	}
}

// PoolSpec describes the inputs of a single check before any die is thrown.
type PoolSpec struct {
	// Modifier is added to the sum of the kept dice. Defaults to 0.
	Modifier int `json:"modifier"`

	// BonusDice is the number of advantage dice (≥ 0).
	BonusDice int `json:"bonus_dice"`

	// PenaltyDice is the number of disadvantage dice (≥ 0).
	PenaltyDice int `json:"penalty_dice"`
}

// Net is bonus minus penalty dice. Positive means advantage, negative
// disadvantage, zero a plain roll.
func (p PoolSpec) Net() int { return p.BonusDice - p.PenaltyDice }

// Count is the number of dice thrown: two plus the absolute net.
func (p PoolSpec) Count() int {
	n := p.Net()
	if n < 0 {
		n = -n
	}
	return 2 + n
}

// Formula renders the pool as its dice-notation string: "2d6" for a plain
// roll, "(2+n)d6kh2" under advantage, "(2+n)d6kl2" under disadvantage.
func (p PoolSpec) Formula() string {
	switch net := p.Net(); {
	case net > 0:
		return fmt.Sprintf("%dd6kh2", p.Count())
	case net < 0:
		return fmt.Sprintf("%dd6kl2", p.Count())
	default:
		return "2d6"
	}
}

// Validate checks the pool invariants.
func (p PoolSpec) Validate() error {
	if p.BonusDice < 0 {
		return fmt.Errorf("dice: bonus_dice must be ≥ 0, got %d", p.BonusDice)
	}
	if p.PenaltyDice < 0 {
		return fmt.Errorf("dice: penalty_dice must be ≥ 0, got %d", p.PenaltyDice)
	}
	return nil
}

// Result is the full record of one resolved check.
type Result struct {
	// AllRolls holds every die in throw order.
	AllRolls []int `json:"all_rolls"`

	// KeptRolls holds the two dice that count, sorted descending for
	// display stability.
	KeptRolls []int `json:"kept_rolls"`

	// DroppedRolls holds the dice discarded by kh2/kl2 selection.
	DroppedRolls []int `json:"dropped_rolls"`

	// Modifier echoes the pool's modifier.
	Modifier int `json:"modifier"`

	// Total is sum(KeptRolls) + Modifier.
	Total int `json:"total"`

	// Outcome is the bucket Total falls into.
	Outcome Outcome `json:"outcome"`

	// IsBonus is true when the pool had net advantage.
	IsBonus bool `json:"is_bonus"`

	// IsPenalty is true when the pool had net disadvantage.
	IsPenalty bool `json:"is_penalty"`
}

// Source yields uniform integers in [0, n). [rand.Rand] satisfies it, which
// is how tests seed the engine deterministically.
type Source interface {
	IntN(n int) int
}

// Roller throws dice pools against a single randomness source.
// Safe for concurrent use only if the underlying Source is; the process-wide
// default source is.
type Roller struct {
	src Source
}

// NewRoller returns a roller backed by src. A nil src falls back to the
// process-wide automatically-seeded [math/rand/v2] source.
func NewRoller(src Source) *Roller {
	if src == nil {
		src = globalSource{}
	}
	return &Roller{src: src}
}

// NewSeededRoller returns a roller with its own PCG generator seeded from
// seed. Intended for tests and replays.
func NewSeededRoller(seed uint64) *Roller {
	return &Roller{src: rand.New(rand.NewPCG(seed, seed))}
}

// globalSource adapts the package-level rand.IntN to [Source].
type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Roll resolves a pool spec into a [Result].
//
// count = 2 + |bonus − penalty| dice are thrown. With net advantage (or a
// plain roll) the two highest are kept; with net disadvantage the two lowest.
// Kept dice are sorted descending.
func (r *Roller) Roll(spec PoolSpec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}

	count := spec.Count()
	all := make([]int, count)
	for i := range count {
		all[i] = r.src.IntN(6) + 1
	}

	// Sort a copy descending; the head is the advantage pair, the tail the
	// disadvantage pair.
	sorted := slices.Clone(all)
	slices.SortFunc(sorted, func(a, b int) int { return b - a })

	var kept, dropped []int
	if spec.Net() >= 0 {
		kept = sorted[:2]
		dropped = sorted[2:]
	} else {
		kept = sorted[count-2:]
		dropped = sorted[:count-2]
	}

	total := kept[0] + kept[1] + spec.Modifier
	return Result{
		AllRolls:     all,
		KeptRolls:    slices.Clone(kept),
		DroppedRolls: slices.Clone(dropped),
		Modifier:     spec.Modifier,
		Total:        total,
		Outcome:      OutcomeFor(total),
		IsBonus:      spec.Net() > 0,
		IsPenalty:    spec.Net() < 0,
	}, nil
}
