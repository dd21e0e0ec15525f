package dice

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/fateweaver/pkg/types"
)

// Formula is the parsed form of a dice-notation string. The engine fixes the
// die at d6 and the keep count at 2, so the only degrees of freedom are the
// pool size and the keep direction.
type Formula struct {
	// Count is the number of dice thrown (≥ 2).
	Count int

	// KeepHighest is true for "kh2" notation (advantage).
	KeepHighest bool

	// KeepLowest is true for "kl2" notation (disadvantage).
	KeepLowest bool
}

// String renders the formula back to dice notation.
func (f Formula) String() string {
	switch {
	case f.KeepHighest:
		return fmt.Sprintf("%dd6kh2", f.Count)
	case f.KeepLowest:
		return fmt.Sprintf("%dd6kl2", f.Count)
	default:
		return "2d6"
	}
}

// ParseFormula parses a formula string as produced by [PoolSpec.Formula]:
// "2d6", "Nd6kh2", or "Nd6kl2" with N ≥ 2. Case-insensitive.
func ParseFormula(s string) (Formula, error) {
	expr := strings.ToLower(strings.TrimSpace(s))
	if expr == "" {
		return Formula{}, fmt.Errorf("dice: empty formula")
	}

	dIdx := strings.Index(expr, "d")
	if dIdx <= 0 {
		return Formula{}, fmt.Errorf("dice: invalid formula %q: missing dice count before 'd'", s)
	}
	count, err := strconv.Atoi(expr[:dIdx])
	if err != nil {
		return Formula{}, fmt.Errorf("dice: invalid dice count %q in formula %q", expr[:dIdx], s)
	}
	if count < 2 {
		return Formula{}, fmt.Errorf("dice: dice count must be ≥ 2, got %d in formula %q", count, s)
	}

	rest := expr[dIdx+1:]
	switch rest {
	case "6":
		if count != 2 {
			return Formula{}, fmt.Errorf("dice: formula %q throws %d dice but keeps all; want kh2 or kl2 suffix", s, count)
		}
		return Formula{Count: 2}, nil
	case "6kh2":
		return Formula{Count: count, KeepHighest: count > 2}, nil
	case "6kl2":
		return Formula{Count: count, KeepLowest: count > 2}, nil
	default:
		return Formula{}, fmt.Errorf("dice: invalid formula %q: only d6 pools keeping 2 are supported", s)
	}
}

// Factors lists the character traits and session tags that shaped a pool.
type Factors struct {
	// Traits are the character aspects the adjudicator found relevant.
	Traits []string `json:"traits"`

	// Tags are the session tags (injuries, blessings, ...) that applied.
	Tags []string `json:"tags"`
}

// CheckRequest is handed to the player when the adjudicator calls for a roll.
// It carries everything the client needs to display and resolve the check.
type CheckRequest struct {
	// Intention restates the attempted action in a few words.
	Intention string `json:"intention"`

	// Factors names the traits and tags that granted bonus or penalty dice.
	Factors Factors `json:"influencing_factors"`

	// Formula is the derived dice notation, e.g. "3d6kl2".
	Formula string `json:"dice_formula"`

	// Instructions explains the check to the player in their language.
	Instructions types.Text `json:"instructions"`
}

// DiceCount returns the pool size encoded in the request's formula.
// Malformed formulas count as a plain two-die roll.
func (c CheckRequest) DiceCount() int {
	f, err := ParseFormula(c.Formula)
	if err != nil {
		return 2
	}
	return f.Count
}

// HasAdvantage reports whether the formula keeps the highest of an enlarged
// pool.
func (c CheckRequest) HasAdvantage() bool {
	f, err := ParseFormula(c.Formula)
	return err == nil && f.KeepHighest
}

// HasDisadvantage reports whether the formula keeps the lowest of an enlarged
// pool.
func (c CheckRequest) HasDisadvantage() bool {
	f, err := ParseFormula(c.Formula)
	return err == nil && f.KeepLowest
}
