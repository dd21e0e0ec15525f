package worldpack

import (
	"slices"
	"strings"
)

// Pack is one loaded world. It is immutable after [Load]; accessors return
// shared read-only data, safe for concurrent use across sessions.
type Pack struct {
	info    PackInfo
	path    string
	presets []PresetCharacter

	entries   map[int]*LoreEntry
	npcs      map[string]*NPC
	locations map[string]*Location
	regions   map[string]*Region

	// Sorted id slices for deterministic iteration.
	entryUIDs   []int
	npcIDs      []string
	locationIDs []string
	regionIDs   []string
}

// Info returns the pack's identity block.
func (p *Pack) Info() PackInfo { return p.info }

// ID returns the pack identifier.
func (p *Pack) ID() string { return p.info.ID }

// Path returns the absolute path the pack was loaded from, or "" when it was
// parsed from raw bytes.
func (p *Pack) Path() string { return p.path }

// Entry resolves a lore entry by uid.
func (p *Pack) Entry(uid int) (*LoreEntry, bool) {
	e, ok := p.entries[uid]
	return e, ok
}

// Entries returns all lore entries in ascending uid order.
func (p *Pack) Entries() []*LoreEntry {
	out := make([]*LoreEntry, 0, len(p.entryUIDs))
	for _, uid := range p.entryUIDs {
		out = append(out, p.entries[uid])
	}
	return out
}

// NPC resolves an NPC by id.
func (p *Pack) NPC(id string) (*NPC, bool) {
	n, ok := p.npcs[id]
	return n, ok
}

// NPCs returns all NPCs in ascending id order.
func (p *Pack) NPCs() []*NPC {
	out := make([]*NPC, 0, len(p.npcIDs))
	for _, id := range p.npcIDs {
		out = append(out, p.npcs[id])
	}
	return out
}

// Location resolves a location by id.
func (p *Pack) Location(id string) (*Location, bool) {
	l, ok := p.locations[id]
	return l, ok
}

// Locations returns all locations in ascending id order.
func (p *Pack) Locations() []*Location {
	out := make([]*Location, 0, len(p.locationIDs))
	for _, id := range p.locationIDs {
		out = append(out, p.locations[id])
	}
	return out
}

// Region resolves a region by id.
func (p *Pack) Region(id string) (*Region, bool) {
	r, ok := p.regions[id]
	return r, ok
}

// Regions returns all regions in ascending id order.
func (p *Pack) Regions() []*Region {
	out := make([]*Region, 0, len(p.regionIDs))
	for _, id := range p.regionIDs {
		out = append(out, p.regions[id])
	}
	return out
}

// RegionOf resolves the region containing the given location, consulting the
// location's region_id first and the regions' location_ids lists second.
func (p *Pack) RegionOf(locationID string) (*Region, bool) {
	loc, ok := p.locations[locationID]
	if !ok {
		return nil, false
	}
	if loc.RegionID != "" {
		if r, ok := p.regions[loc.RegionID]; ok {
			return r, true
		}
		return nil, false
	}
	for _, id := range p.regionIDs {
		if slices.Contains(p.regions[id].LocationIDs, locationID) {
			return p.regions[id], true
		}
	}
	return nil, false
}

// Presets returns the preset character sheets in pack order.
func (p *Pack) Presets() []PresetCharacter {
	return slices.Clone(p.presets)
}

// Preset resolves a preset sheet by id.
func (p *Pack) Preset(id string) (PresetCharacter, bool) {
	for _, preset := range p.presets {
		if preset.ID == id {
			return preset, true
		}
	}
	return PresetCharacter{}, false
}

// StartLocation returns the location id new sessions begin at: the declared
// info.start_location, or the lexically smallest location id.
func (p *Pack) StartLocation() string {
	if p.info.StartLocation != "" {
		return p.info.StartLocation
	}
	if len(p.locationIDs) > 0 {
		return p.locationIDs[0]
	}
	return ""
}

// EntriesForLocation returns the lore entries applicable at a location:
// constant entries, entries scoped to the location, entries scoped to its
// region, and unrestricted entries. Entries with detailed visibility are
// dropped unless vis is [VisibilityDetailed] or the entry is constant.
// Results are sorted by (order, uid).
func (p *Pack) EntriesForLocation(locationID string, vis Visibility) []*LoreEntry {
	var regionID string
	if region, ok := p.RegionOf(locationID); ok {
		regionID = region.ID
	}

	var out []*LoreEntry
	for _, uid := range p.entryUIDs {
		entry := p.entries[uid]
		if !entry.Constant {
			if entry.Visibility == VisibilityDetailed && vis != VisibilityDetailed {
				continue
			}
			if !entryAppliesAt(entry, locationID, regionID) {
				continue
			}
		}
		out = append(out, entry)
	}

	slices.SortStableFunc(out, func(a, b *LoreEntry) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return a.UID - b.UID
	})
	return out
}

// entryAppliesAt implements the location scoping rule for non-constant
// entries: location-scoped, region-scoped, or unrestricted.
func entryAppliesAt(entry *LoreEntry, locationID, regionID string) bool {
	if slices.Contains(entry.ApplicableLocations, locationID) {
		return true
	}
	if regionID != "" && slices.Contains(entry.ApplicableRegions, regionID) {
		return true
	}
	return len(entry.ApplicableLocations) == 0 && len(entry.ApplicableRegions) == 0
}

// MatchFunc decides whether a query term matches a lore keyword. The
// retriever supplies one; [KeywordMatch] is the default rule.
type MatchFunc func(term, key string) bool

// KeywordMatch is the default keyword rule: case-insensitive substring
// containment in either direction, so a short query term finds a longer key
// and a short key is found inside a longer term.
func KeywordMatch(term, key string) bool {
	term = strings.ToLower(term)
	key = strings.ToLower(key)
	return strings.Contains(key, term) || strings.Contains(term, key)
}

// MatchesPrimary reports whether any primary key matches term under match.
func (e *LoreEntry) MatchesPrimary(term string, match MatchFunc) bool {
	return matchesAny(term, e.PrimaryKeys, match)
}

// MatchesSecondary reports whether any secondary key matches term under match.
func (e *LoreEntry) MatchesSecondary(term string, match MatchFunc) bool {
	return matchesAny(term, e.SecondaryKeys, match)
}

func matchesAny(term string, keys []string, match MatchFunc) bool {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if match(term, key) {
			return true
		}
	}
	return false
}
