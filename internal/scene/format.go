package scene

import (
	"strings"

	"github.com/MrWong99/fateweaver/pkg/types"
)

// FormatScene renders a [Scene] into the prompt section consumed by the
// game-master loop. Empty parts are omitted rather than rendered as empty
// labels. The formatter is pure and safe for concurrent use.
//
// The rendered block includes the remaining hidden items; it is meant for
// the game master only and must not be forwarded to NPC or player-facing
// payloads.
func FormatScene(s *Scene, lang types.Lang) string {
	if s == nil {
		return ""
	}
	cn := lang == types.LangCN

	var lines []string
	add := func(cnLabel, enLabel, value string) {
		if value == "" {
			return
		}
		if cn {
			lines = append(lines, cnLabel+value)
		} else {
			lines = append(lines, enLabel+value)
		}
	}

	if cn {
		lines = append(lines, "## 当前场景")
	} else {
		lines = append(lines, "## Current Scene")
	}

	add("地点：", "Location: ", s.Location.Name)
	add("", "", s.Location.Description)
	add("区域：", "Region: ", s.Region.Name)
	add("可见物品：", "Visible items: ", joinItems(s.Location.VisibleItems, cn))
	add("已发现的隐藏物品：", "Discovered hidden items: ", joinItems(s.Location.HiddenItemsRevealed, cn))
	add("未发现的隐藏物品：", "Undiscovered hidden items: ", joinItems(s.Location.HiddenItemsRemaining, cn))
	add("氛围指引：", "Atmosphere guidance: ", s.AtmosphereGuidance)

	if len(s.BasicLore) > 0 {
		if cn {
			lines = append(lines, "", "## 背景知识")
		} else {
			lines = append(lines, "", "## Background Lore")
		}
		lines = append(lines, s.BasicLore...)
	}

	return strings.Join(lines, "\n")
}

func joinItems(items []string, cn bool) string {
	if len(items) == 0 {
		return ""
	}
	if cn {
		return strings.Join(items, "、")
	}
	return strings.Join(items, ", ")
}
