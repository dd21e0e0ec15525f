package worldpack

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/fateweaver/pkg/types"
)

// packFile mirrors the on-disk JSON document. The keyed sections stay raw so
// element decode failures can be reported under their exact JSON Pointer
// (encoding/json does not track map keys in its own error paths). Unknown
// fields are ignored so packs authored for newer engine versions still load.
type packFile struct {
	Info             PackInfo                   `json:"info"`
	Entries          map[string]json.RawMessage `json:"entries"`
	NPCs             map[string]json.RawMessage `json:"npcs"`
	Locations        map[string]json.RawMessage `json:"locations"`
	Regions          map[string]json.RawMessage `json:"regions"`
	PresetCharacters []json.RawMessage          `json:"preset_characters"`
}

// Load reads and parses a world-pack JSON file from disk. Errors carry the
// absolute file path and, where applicable, the JSON Pointer of the failing
// field.
func Load(path string) (*Pack, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("worldpack: %s: %w", abs, err)
	}

	pack, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("worldpack: %s: %w", abs, err)
	}
	pack.path = abs
	return pack, nil
}

// Parse decodes a world pack from raw JSON, applies the documented defaults
// (order 100, visibility basic, fate points 3) and resolves map keys into
// entry and catalog ids. Structural errors name the failing field as a JSON
// Pointer; all failures are collected and reported together.
func Parse(data []byte) (*Pack, error) {
	var pf packFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, pointerize(err, "")
	}

	var errs []error

	p := &Pack{
		info:      pf.Info,
		entries:   make(map[int]*LoreEntry, len(pf.Entries)),
		npcs:      make(map[string]*NPC, len(pf.NPCs)),
		locations: make(map[string]*Location, len(pf.Locations)),
		regions:   make(map[string]*Region, len(pf.Regions)),
	}

	if pf.Info.ID == "" {
		errs = append(errs, errors.New("/info/id: must not be empty"))
	}

	for key, raw := range pf.Entries {
		pointer := "/entries/" + key
		uid, err := strconv.Atoi(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: key must be an integer uid", pointer))
			continue
		}

		var entry LoreEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			errs = append(errs, pointerize(err, pointer))
			continue
		}
		switch {
		case entry.UID == 0:
			entry.UID = uid
		case entry.UID != uid:
			errs = append(errs, fmt.Errorf("%s/uid: %d does not match its key", pointer, entry.UID))
			continue
		}
		if entry.Order == 0 {
			entry.Order = DefaultOrder
		}
		if entry.Visibility == "" {
			entry.Visibility = VisibilityBasic
		}
		if !entry.Visibility.IsValid() {
			errs = append(errs, fmt.Errorf("%s/visibility: unknown visibility %q (want basic or detailed)", pointer, entry.Visibility))
			continue
		}
		if _, dup := p.entries[uid]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate uid %d", pointer, uid))
			continue
		}
		p.entries[uid] = &entry
	}
	p.entryUIDs = sortedKeys(p.entries)

	for id, raw := range pf.NPCs {
		pointer := "/npcs/" + id
		var npc NPC
		if err := json.Unmarshal(raw, &npc); err != nil {
			errs = append(errs, pointerize(err, pointer))
			continue
		}
		switch {
		case npc.ID == "":
			npc.ID = id
		case npc.ID != id:
			errs = append(errs, fmt.Errorf("%s/id: %q does not match its key", pointer, npc.ID))
			continue
		}
		p.npcs[id] = &npc
	}
	p.npcIDs = sortedKeys(p.npcs)

	for id, raw := range pf.Locations {
		pointer := "/locations/" + id
		var loc Location
		if err := json.Unmarshal(raw, &loc); err != nil {
			errs = append(errs, pointerize(err, pointer))
			continue
		}
		switch {
		case loc.ID == "":
			loc.ID = id
		case loc.ID != id:
			errs = append(errs, fmt.Errorf("%s/id: %q does not match its key", pointer, loc.ID))
			continue
		}
		p.locations[id] = &loc
	}
	p.locationIDs = sortedKeys(p.locations)

	for id, raw := range pf.Regions {
		pointer := "/regions/" + id
		var region Region
		if err := json.Unmarshal(raw, &region); err != nil {
			errs = append(errs, pointerize(err, pointer))
			continue
		}
		switch {
		case region.ID == "":
			region.ID = id
		case region.ID != id:
			errs = append(errs, fmt.Errorf("%s/id: %q does not match its key", pointer, region.ID))
			continue
		}
		p.regions[id] = &region
	}
	p.regionIDs = sortedKeys(p.regions)

	for i, raw := range pf.PresetCharacters {
		pointer := fmt.Sprintf("/preset_characters/%d", i)
		var preset PresetCharacter
		if err := json.Unmarshal(raw, &preset); err != nil {
			errs = append(errs, pointerize(err, pointer))
			continue
		}
		if preset.FatePoints == 0 {
			preset.FatePoints = types.DefaultFatePoints
		}
		if preset.ID == "" {
			preset.ID = preset.Name
		}
		if preset.ID == "" {
			errs = append(errs, fmt.Errorf("%s: must have an id or a name", pointer))
			continue
		}
		p.presets = append(p.presets, preset)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// pointerize reshapes an encoding/json error into the JSON Pointer error
// convention, rooted at the given pointer prefix.
func pointerize(err error, root string) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		pointer := root
		if typeErr.Field != "" {
			pointer += "/" + strings.ReplaceAll(typeErr.Field, ".", "/")
		}
		if pointer == "" {
			pointer = "/"
		}
		return fmt.Errorf("%s: cannot decode %s into %s", pointer, typeErr.Value, typeErr.Type)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("invalid JSON at byte %d: %w", syntaxErr.Offset, err)
	}
	if root != "" {
		return fmt.Errorf("%s: %w", root, err)
	}
	return err
}

// sortedKeys returns the map keys in ascending order. Catalog iteration uses
// these so repeated runs see a stable order.
func sortedKeys[K cmp.Ordered, V any](m map[K]*V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
