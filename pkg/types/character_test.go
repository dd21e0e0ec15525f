package types_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/fateweaver/pkg/types"
)

func validCharacter() types.PlayerCharacter {
	return types.PlayerCharacter{
		Name:    "苏青",
		Concept: types.Text{CN: "游历江湖的剑客", EN: "A drifting swordswoman"},
		Traits: []types.Trait{
			{
				Name:           types.Text{CN: "运动健将", EN: "Athletic"},
				PositiveAspect: types.Text{CN: "攀爬与跳跃时更可靠", EN: "Reliable when climbing or jumping"},
				NegativeAspect: types.Text{CN: "容易逞强", EN: "Prone to overexertion"},
			},
		},
		FatePoints: types.DefaultFatePoints,
		Tags:       []string{"右腿受伤"},
	}
}

// TestPlayerCharacter_Validate covers the sheet invariants.
func TestPlayerCharacter_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*types.PlayerCharacter)
		wantErr string // empty means valid
	}{
		{
			name:   "valid sheet",
			mutate: func(*types.PlayerCharacter) {},
		},
		{
			name:    "empty name",
			mutate:  func(c *types.PlayerCharacter) { c.Name = "" },
			wantErr: "name must not be empty",
		},
		{
			name:    "zero traits",
			mutate:  func(c *types.PlayerCharacter) { c.Traits = nil },
			wantErr: "trait count 0 out of range",
		},
		{
			name: "five traits",
			mutate: func(c *types.PlayerCharacter) {
				for range 4 {
					c.Traits = append(c.Traits, c.Traits[0])
				}
			},
			wantErr: "trait count 5 out of range",
		},
		{
			name:    "negative fate points",
			mutate:  func(c *types.PlayerCharacter) { c.FatePoints = -1 },
			wantErr: "fate points -1 out of range",
		},
		{
			name:    "fate points above cap",
			mutate:  func(c *types.PlayerCharacter) { c.FatePoints = 6 },
			wantErr: "fate points 6 out of range",
		},
		{
			name:    "duplicate tags",
			mutate:  func(c *types.PlayerCharacter) { c.Tags = []string{"受伤", "受伤"} },
			wantErr: `duplicate tag "受伤"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validCharacter()
			tt.mutate(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestPlayerCharacter_Tags verifies ordered no-duplicate tag handling.
func TestPlayerCharacter_Tags(t *testing.T) {
	t.Parallel()

	c := validCharacter()
	c.Tags = nil

	if added := c.AddTag("受伤"); !added {
		t.Error("AddTag(受伤) = false on first add, want true")
	}
	if added := c.AddTag("中毒"); !added {
		t.Error("AddTag(中毒) = false on first add, want true")
	}
	if added := c.AddTag("受伤"); added {
		t.Error("AddTag(受伤) = true on duplicate add, want false")
	}
	if got, want := len(c.Tags), 2; got != want {
		t.Fatalf("len(Tags) = %d, want %d", got, want)
	}
	if c.Tags[0] != "受伤" || c.Tags[1] != "中毒" {
		t.Errorf("Tags = %v, want acquisition order [受伤 中毒]", c.Tags)
	}

	if !c.HasTag("中毒") {
		t.Error("HasTag(中毒) = false, want true")
	}
	if removed := c.RemoveTag("受伤"); !removed {
		t.Error("RemoveTag(受伤) = false, want true")
	}
	if removed := c.RemoveTag("受伤"); removed {
		t.Error("RemoveTag(受伤) = true on second removal, want false")
	}
	if c.HasTag("受伤") {
		t.Error("HasTag(受伤) = true after removal, want false")
	}
}
