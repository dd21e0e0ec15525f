package types

import (
	"errors"
	"fmt"
)

// Character sheet limits.
const (
	// MinTraits and MaxTraits bound the trait count on a valid sheet.
	MinTraits = 1
	MaxTraits = 4

	// MaxFatePoints caps the fate point pool.
	MaxFatePoints = 5

	// DefaultFatePoints is the starting pool for new characters.
	DefaultFatePoints = 3
)

// Trait is a double-edged character quality. Its positive aspect can earn
// bonus dice on a check while its negative aspect can impose penalty dice,
// so every trait is both an asset and a liability.
type Trait struct {
	// Name is the trait's display name.
	Name Text `json:"name"`

	// Description explains the trait in a sentence or two.
	Description Text `json:"description,omitempty"`

	// PositiveAspect describes when the trait helps.
	PositiveAspect Text `json:"positive_aspect,omitempty"`

	// NegativeAspect describes when the trait hurts.
	NegativeAspect Text `json:"negative_aspect,omitempty"`
}

// PlayerCharacter is the player's sheet. It lives inside the per-session
// game state; world packs carry preset sheets players can start from.
type PlayerCharacter struct {
	// Name is the character's name as chosen by the player.
	Name string `json:"name"`

	// Concept is the one-line character concept ("drifting swordswoman").
	Concept Text `json:"concept"`

	// Traits are the character's qualities, between MinTraits and MaxTraits.
	Traits []Trait `json:"traits"`

	// FatePoints is the current fate point pool, 0..MaxFatePoints.
	FatePoints int `json:"fate_points"`

	// Tags are free-form status strings in acquisition order, no duplicates.
	Tags []string `json:"tags,omitempty"`
}

// Validate checks the sheet invariants.
//
// Rules:
//   - Name must be non-empty.
//   - Trait count must be within [MinTraits, MaxTraits].
//   - FatePoints must be within [0, MaxFatePoints].
//   - Tags must contain no duplicates.
func (c PlayerCharacter) Validate() error {
	var errs []error

	if c.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if n := len(c.Traits); n < MinTraits || n > MaxTraits {
		errs = append(errs, fmt.Errorf("trait count %d out of range [%d, %d]", n, MinTraits, MaxTraits))
	}
	if c.FatePoints < 0 || c.FatePoints > MaxFatePoints {
		errs = append(errs, fmt.Errorf("fate points %d out of range [0, %d]", c.FatePoints, MaxFatePoints))
	}
	seen := make(map[string]struct{}, len(c.Tags))
	for _, tag := range c.Tags {
		if _, dup := seen[tag]; dup {
			errs = append(errs, fmt.Errorf("duplicate tag %q", tag))
		}
		seen[tag] = struct{}{}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// HasTag reports whether the character currently carries tag.
func (c PlayerCharacter) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag unless already present, preserving acquisition order.
// It reports whether the tag was added.
func (c *PlayerCharacter) AddTag(tag string) bool {
	if c.HasTag(tag) {
		return false
	}
	c.Tags = append(c.Tags, tag)
	return true
}

// RemoveTag removes tag if present and reports whether it was removed.
func (c *PlayerCharacter) RemoveTag(tag string) bool {
	for i, t := range c.Tags {
		if t == tag {
			c.Tags = append(c.Tags[:i], c.Tags[i+1:]...)
			return true
		}
	}
	return false
}
