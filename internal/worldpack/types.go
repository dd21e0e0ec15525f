// Package worldpack loads and serves immutable world definitions.
//
// A world pack is a single JSON document describing everything a game world
// contains: lore entries for retrieval, NPCs (soul and body), locations,
// regions, and preset player characters. Packs are loaded once at startup,
// validated, and shared read-only across all sessions; per-session mutations
// (NPC relations, memories, discovered items) live in the game state overlay
// and are never written back into the pack.
//
// Supported operations:
//   - [Load] reads, parses and defaults a pack file ([Parse] for raw bytes)
//   - [Pack.Validate] enforces the schema invariants
//   - [Cache] is the process-wide pack registry
//
// Schema errors name the offending field as a JSON Pointer together with the
// absolute file path, e.g. "worldpack: /data/packs/mistvale.json: /entries/12/visibility: ...".
package worldpack

import (
	"github.com/MrWong99/fateweaver/pkg/types"
)

// DefaultOrder is the ordering weight assigned to lore entries that do not
// declare one. Lower values sort earlier.
const DefaultOrder = 100

// Visibility classifies how readily a lore entry is surfaced.
type Visibility string

const (
	// VisibilityBasic entries appear in ambient location lore and searches.
	VisibilityBasic Visibility = "basic"

	// VisibilityDetailed entries only appear when detail is explicitly
	// requested, except for constant entries which always qualify.
	VisibilityDetailed Visibility = "detailed"
)

// IsValid reports whether v is a recognised visibility level.
func (v Visibility) IsValid() bool {
	return v == VisibilityBasic || v == VisibilityDetailed
}

// LoreEntry is one unit of world background, addressable by keyword and by
// semantic similarity.
type LoreEntry struct {
	// UID uniquely identifies the entry within its pack.
	UID int `json:"uid"`

	// PrimaryKeys are the entry's main trigger keywords.
	PrimaryKeys []string `json:"primary_keys"`

	// SecondaryKeys are weaker trigger keywords.
	SecondaryKeys []string `json:"secondary_keys,omitempty"`

	// Content is the lore text itself.
	Content types.Text `json:"content"`

	// Constant entries are always included regardless of keyword or
	// similarity filters.
	Constant bool `json:"constant,omitempty"`

	// Selective is carried for pack compatibility; retrieval does not
	// currently interpret it.
	Selective bool `json:"selective,omitempty"`

	// Order sorts entries with equal score; lower comes first.
	// Defaults to [DefaultOrder].
	Order int `json:"order,omitempty"`

	// Visibility defaults to [VisibilityBasic].
	Visibility Visibility `json:"visibility,omitempty"`

	// ApplicableRegions restricts the entry to these region ids.
	// Empty means unrestricted.
	ApplicableRegions []string `json:"applicable_regions,omitempty"`

	// ApplicableLocations restricts the entry to these location ids.
	// Empty means unrestricted.
	ApplicableLocations []string `json:"applicable_locations,omitempty"`
}

// DialoguePair is a few-shot example exchange in an NPC's speech profile.
type DialoguePair struct {
	// Player is the example player line.
	Player types.Text `json:"player"`

	// NPC is the NPC's reply to it.
	NPC types.Text `json:"npc"`
}

// Soul is the invariant half of an NPC: who they are and how they speak.
type Soul struct {
	// Name is the NPC's display name.
	Name types.Text `json:"name"`

	// Description is the NPC's background and appearance.
	Description types.Text `json:"description"`

	// Personality lists 1..5 defining personality strokes.
	Personality []string `json:"personality"`

	// SpeechStyle describes tone and diction.
	SpeechStyle types.Text `json:"speech_style,omitempty"`

	// ExampleDialogue holds few-shot exchanges used to anchor the voice.
	ExampleDialogue []DialoguePair `json:"example_dialogue,omitempty"`
}

// Body is the mutable half of an NPC as authored in the pack: its starting
// situation. At runtime the session's game state overlays this with the
// NPC's lived relations and memories.
type Body struct {
	// CurrentLocation is the starting location id.
	CurrentLocation string `json:"current_location"`

	// Inventory lists carried item names.
	Inventory []string `json:"inventory,omitempty"`

	// Relations maps entity id to disposition in [-100, 100].
	Relations map[string]int `json:"relations,omitempty"`

	// Tags are free-form status strings.
	Tags []string `json:"tags,omitempty"`

	// Memory maps a remembered event to its keyword list.
	Memory map[string][]string `json:"memory,omitempty"`

	// LocationKnowledge maps a location id to the lore uids the NPC knows
	// there. An empty map means the NPC knows all lore.
	LocationKnowledge map[string][]int `json:"location_knowledge,omitempty"`
}

// NPC is a non-player character: a [Soul] plus a [Body].
type NPC struct {
	// ID is the NPC's pack-wide identifier (the key in the npcs map).
	ID string `json:"id,omitempty"`

	Soul Soul `json:"soul"`
	Body Body `json:"body"`
}

// Location is a place the player can be at.
type Location struct {
	// ID is the location's pack-wide identifier (the key in the locations map).
	ID string `json:"id,omitempty"`

	// Name is the display name.
	Name types.Text `json:"name"`

	// Description is the base description shown on arrival.
	Description types.Text `json:"description"`

	// Atmosphere is optional mood guidance for narration.
	Atmosphere types.Text `json:"atmosphere,omitempty"`

	// RegionID is the containing region, if any.
	RegionID string `json:"region_id,omitempty"`

	// ConnectedLocations lists ids reachable from here. Connections are
	// one-way unless also declared on the target.
	ConnectedLocations []string `json:"connected_locations,omitempty"`

	// PresentNPCIDs lists NPCs found here.
	PresentNPCIDs []string `json:"present_npc_ids,omitempty"`

	// VisibleItems are items in plain sight.
	VisibleItems []string `json:"visible_items,omitempty"`

	// HiddenItems are items only surfaced once discovered.
	HiddenItems []string `json:"hidden_items,omitempty"`

	// LoreTags are free-form retrieval hints.
	LoreTags []string `json:"lore_tags,omitempty"`

	// Items is the pre-migration item field; it is consulted only when
	// VisibleItems is empty.
	Items []string `json:"items,omitempty"`
}

// EffectiveVisibleItems returns the visible items, falling back to the
// legacy Items field for packs authored before the visible/hidden split.
func (l *Location) EffectiveVisibleItems() []string {
	if len(l.VisibleItems) > 0 {
		return l.VisibleItems
	}
	return l.Items
}

// Region groups locations under a shared narrative identity.
type Region struct {
	// ID is the region's pack-wide identifier (the key in the regions map).
	ID string `json:"id,omitempty"`

	// Name is the display name.
	Name types.Text `json:"name"`

	// Description summarises the region.
	Description types.Text `json:"description,omitempty"`

	// NarrativeTone is optional guidance for narration within the region.
	NarrativeTone types.Text `json:"narrative_tone,omitempty"`

	// AtmosphereKeywords flavor narration ("mist", "bells", "rot").
	AtmosphereKeywords []string `json:"atmosphere_keywords,omitempty"`

	// LocationIDs lists the member locations.
	LocationIDs []string `json:"location_ids,omitempty"`

	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty"`
}

// PackInfo is the pack's identity block.
type PackInfo struct {
	// ID is the pack identifier sessions reference as world_pack_id.
	ID string `json:"id"`

	// Name is the world's display name.
	Name types.Text `json:"name"`

	// Description summarises the world.
	Description types.Text `json:"description,omitempty"`

	// Version is a free-form pack version string.
	Version string `json:"version,omitempty"`

	// Author credits the pack author.
	Author string `json:"author,omitempty"`

	// StartLocation is where new sessions begin. When empty, the location
	// with the lexically smallest id is used.
	StartLocation string `json:"start_location,omitempty"`
}

// PresetCharacter is a ready-made player sheet shipped with the pack.
// A preset without fate points starts with [types.DefaultFatePoints].
type PresetCharacter struct {
	// ID selects this preset in session_open. Defaults to the sheet name.
	ID string `json:"id,omitempty"`

	types.PlayerCharacter
}
