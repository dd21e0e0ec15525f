// Package scene builds the per-turn location context bundle injected into
// the game-master prompt.
//
// An [Assembler] resolves the player's current location inside its world
// pack and fans out three components concurrently:
//
//  1. Region view, with the `_global` sentinel for regionless locations.
//  2. Basic lore, the pack entries applicable at the location.
//  3. Item partitioning: visible items plus the hidden items split into
//     revealed and remaining by the player's discoveries.
//
// [FormatScene] renders a [Scene] into a prompt section. [Assembler.FilterNPCLore]
// implements the per-NPC knowledge rule used when slicing roleplay context.
package scene

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// GlobalRegionID is the sentinel region id for locations that belong to no
// declared region.
const GlobalRegionID = "_global"

// Packs resolves world-pack ids. [worldpack.Cache] satisfies it.
type Packs interface {
	Get(id string) (*worldpack.Pack, error)
}

// Input identifies the scene to assemble.
type Input struct {
	WorldPackID string
	LocationID  string

	// DiscoveredItems are the hidden items the player has found so far,
	// across all locations.
	DiscoveredItems []string

	// Lang selects the language all localized fields are rendered in.
	// Defaults to chinese.
	Lang types.Lang
}

// RegionView is the region part of a [Scene], rendered in one language.
type RegionView struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	NarrativeTone      string   `json:"narrative_tone"`
	AtmosphereKeywords []string `json:"atmosphere_keywords"`
}

// LocationView is the location part of a [Scene], rendered in one language.
// HiddenItemsRemaining is game-master knowledge and must never reach an NPC
// or player-facing payload.
type LocationView struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Atmosphere           string   `json:"atmosphere"`
	VisibleItems         []string `json:"visible_items"`
	HiddenItemsRevealed  []string `json:"hidden_items_revealed"`
	HiddenItemsRemaining []string `json:"hidden_items_remaining"`
}

// Scene is the assembled per-turn context bundle.
type Scene struct {
	Region             RegionView   `json:"region"`
	Location           LocationView `json:"location"`
	BasicLore          []string     `json:"basic_lore"`
	AtmosphereGuidance string       `json:"atmosphere_guidance"`
}

// Assembler builds [Scene] bundles from registered world packs.
// It is stateless and safe for concurrent use.
type Assembler struct {
	packs Packs
}

// NewAssembler creates an [Assembler] over packs.
func NewAssembler(packs Packs) *Assembler {
	return &Assembler{packs: packs}
}

// Assemble resolves the location and builds the full scene bundle. The
// three component builds run in parallel via errgroup and respect context
// cancellation.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*Scene, error) {
	pack, err := a.packs.Get(in.WorldPackID)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	loc, ok := pack.Location(in.LocationID)
	if !ok {
		return nil, fmt.Errorf("scene: unknown location %q in pack %q", in.LocationID, in.WorldPackID)
	}
	lang := in.Lang
	if !lang.IsValid() {
		lang = types.LangCN
	}

	var (
		region  RegionView
		locView LocationView
		lore    []string
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		region = regionView(pack, loc, lang)
		return nil
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		locView = locationView(loc, in.DiscoveredItems, lang)
		return nil
	})
	eg.Go(func() error {
		if err := egCtx.Err(); err != nil {
			return err
		}
		lore = basicLore(pack, in.LocationID, lang)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}

	return &Scene{
		Region:             region,
		Location:           locView,
		BasicLore:          lore,
		AtmosphereGuidance: atmosphereGuidance(region, locView.Atmosphere, lang),
	}, nil
}

// FilterNPCLore returns the lore entries npcID can draw on at locationID.
// An NPC without any location knowledge knows every entry, the legacy rule
// for packs predating per-location knowledge. With knowledge declared, the
// listed uids for the location are resolved in their listed order, and a
// location absent from the map means the NPC knows nothing relevant here.
func (a *Assembler) FilterNPCLore(worldPackID, npcID, locationID string) ([]*worldpack.LoreEntry, error) {
	pack, err := a.packs.Get(worldPackID)
	if err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	npc, ok := pack.NPC(npcID)
	if !ok {
		return nil, fmt.Errorf("scene: unknown npc %q in pack %q", npcID, worldPackID)
	}

	if len(npc.Body.LocationKnowledge) == 0 {
		return pack.Entries(), nil
	}
	uids, ok := npc.Body.LocationKnowledge[locationID]
	if !ok {
		return []*worldpack.LoreEntry{}, nil
	}
	entries := make([]*worldpack.LoreEntry, 0, len(uids))
	for _, uid := range uids {
		if e, found := pack.Entry(uid); found {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func regionView(pack *worldpack.Pack, loc *worldpack.Location, lang types.Lang) RegionView {
	region, ok := pack.RegionOf(loc.ID)
	if !ok {
		return RegionView{
			ID:                 GlobalRegionID,
			Name:               globalRegionName(lang),
			AtmosphereKeywords: []string{},
		}
	}
	kw := slices.Clone(region.AtmosphereKeywords)
	if kw == nil {
		kw = []string{}
	}
	return RegionView{
		ID:                 region.ID,
		Name:               region.Name.In(lang),
		NarrativeTone:      region.NarrativeTone.In(lang),
		AtmosphereKeywords: kw,
	}
}

func globalRegionName(lang types.Lang) string {
	if lang == types.LangCN {
		return "全局区域"
	}
	return "Global Region"
}

func locationView(loc *worldpack.Location, discovered []string, lang types.Lang) LocationView {
	found := make(map[string]bool, len(discovered))
	for _, item := range discovered {
		found[item] = true
	}
	revealed := []string{}
	remaining := []string{}
	for _, item := range loc.HiddenItems {
		if found[item] {
			revealed = append(revealed, item)
		} else {
			remaining = append(remaining, item)
		}
	}
	visible := slices.Clone(loc.EffectiveVisibleItems())
	if visible == nil {
		visible = []string{}
	}
	return LocationView{
		ID:                   loc.ID,
		Name:                 loc.Name.In(lang),
		Description:          loc.Description.In(lang),
		Atmosphere:           loc.Atmosphere.In(lang),
		VisibleItems:         visible,
		HiddenItemsRevealed:  revealed,
		HiddenItemsRemaining: remaining,
	}
}

func basicLore(pack *worldpack.Pack, locationID string, lang types.Lang) []string {
	entries := pack.EntriesForLocation(locationID, worldpack.VisibilityBasic)
	texts := make([]string, 0, len(entries))
	for _, e := range entries {
		if t := e.Content.In(lang); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// atmosphereGuidance joins the region tone, the location atmosphere and a
// localized keyword clause with " | ", skipping empty parts.
func atmosphereGuidance(region RegionView, locationAtmosphere string, lang types.Lang) string {
	var parts []string
	if region.NarrativeTone != "" {
		parts = append(parts, region.NarrativeTone)
	}
	if locationAtmosphere != "" {
		parts = append(parts, locationAtmosphere)
	}
	if len(region.AtmosphereKeywords) > 0 {
		if lang == types.LangCN {
			parts = append(parts, "氛围关键词："+strings.Join(region.AtmosphereKeywords, "、"))
		} else {
			parts = append(parts, "atmosphere keywords: "+strings.Join(region.AtmosphereKeywords, ", "))
		}
	}
	return strings.Join(parts, " | ")
}
