package worldpack

import (
	"errors"
	"fmt"
)

// Validate checks the pack invariants beyond what [Parse] enforces
// structurally.
//
// Hard failures (returned as a joined error):
//   - the pack must define at least one location
//   - a declared start_location must resolve
//   - every preset character sheet must satisfy its own invariants
//     (trait count 1..4, fate points 0..5, unique tags)
//
// Dangling id references are tolerated with a warning so a pack under
// construction still loads: connected_locations, present_npc_ids, region
// membership, lore applicability lists and NPC location_knowledge may point
// at ids that do not (yet) exist.
func (p *Pack) Validate() (warnings []string, err error) {
	var errs []error

	if len(p.locations) == 0 {
		errs = append(errs, errors.New("/locations: must define at least one location"))
	}
	if start := p.info.StartLocation; start != "" {
		if _, ok := p.locations[start]; !ok {
			errs = append(errs, fmt.Errorf("/info/start_location: unknown location %q", start))
		}
	}

	for i, preset := range p.presets {
		if err := preset.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("/preset_characters/%d: %w", i, err))
		}
	}

	warnings = append(warnings, p.locationWarnings()...)
	warnings = append(warnings, p.regionWarnings()...)
	warnings = append(warnings, p.entryWarnings()...)
	warnings = append(warnings, p.npcWarnings()...)

	if len(errs) > 0 {
		return warnings, errors.Join(errs...)
	}
	return warnings, nil
}

func (p *Pack) locationWarnings() []string {
	var out []string
	for _, id := range p.locationIDs {
		loc := p.locations[id]
		if loc.RegionID != "" {
			if _, ok := p.regions[loc.RegionID]; !ok {
				out = append(out, fmt.Sprintf("/locations/%s/region_id: unknown region %q", id, loc.RegionID))
			}
		}
		for _, conn := range loc.ConnectedLocations {
			if _, ok := p.locations[conn]; !ok {
				out = append(out, fmt.Sprintf("/locations/%s/connected_locations: unknown location %q", id, conn))
			}
		}
		for _, npcID := range loc.PresentNPCIDs {
			if _, ok := p.npcs[npcID]; !ok {
				out = append(out, fmt.Sprintf("/locations/%s/present_npc_ids: unknown npc %q", id, npcID))
			}
		}
	}
	return out
}

func (p *Pack) regionWarnings() []string {
	var out []string
	for _, id := range p.regionIDs {
		for _, locID := range p.regions[id].LocationIDs {
			if _, ok := p.locations[locID]; !ok {
				out = append(out, fmt.Sprintf("/regions/%s/location_ids: unknown location %q", id, locID))
			}
		}
	}
	return out
}

func (p *Pack) entryWarnings() []string {
	var out []string
	for _, uid := range p.entryUIDs {
		entry := p.entries[uid]
		if entry.Content.IsZero() {
			out = append(out, fmt.Sprintf("/entries/%d/content: empty in both languages", uid))
		}
		if len(entry.PrimaryKeys) == 0 && !entry.Constant {
			out = append(out, fmt.Sprintf("/entries/%d/primary_keys: empty, entry is unreachable by keyword", uid))
		}
		for _, locID := range entry.ApplicableLocations {
			if _, ok := p.locations[locID]; !ok {
				out = append(out, fmt.Sprintf("/entries/%d/applicable_locations: unknown location %q", uid, locID))
			}
		}
		for _, regionID := range entry.ApplicableRegions {
			if _, ok := p.regions[regionID]; !ok {
				out = append(out, fmt.Sprintf("/entries/%d/applicable_regions: unknown region %q", uid, regionID))
			}
		}
	}
	return out
}

func (p *Pack) npcWarnings() []string {
	var out []string
	for _, id := range p.npcIDs {
		npc := p.npcs[id]
		if loc := npc.Body.CurrentLocation; loc != "" {
			if _, ok := p.locations[loc]; !ok {
				out = append(out, fmt.Sprintf("/npcs/%s/body/current_location: unknown location %q", id, loc))
			}
		}
		if n := len(npc.Soul.Personality); n == 0 || n > 5 {
			out = append(out, fmt.Sprintf("/npcs/%s/soul/personality: %d strokes, want 1..5", id, n))
		}
		for locID, uids := range npc.Body.LocationKnowledge {
			if _, ok := p.locations[locID]; !ok {
				out = append(out, fmt.Sprintf("/npcs/%s/body/location_knowledge: unknown location %q", id, locID))
			}
			for _, uid := range uids {
				if _, ok := p.entries[uid]; !ok {
					out = append(out, fmt.Sprintf("/npcs/%s/body/location_knowledge/%s: unknown lore uid %d", id, locID, uid))
				}
			}
		}
	}
	return out
}
