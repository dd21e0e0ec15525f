package lore

import (
	"fmt"
	"strings"

	"github.com/MrWong99/fateweaver/pkg/types"
)

// FormatResults renders retrieval results as the prompt block handed to the
// language model: a localized header naming the query, then one line per
// entry with its primary keys in brackets followed by the localized
// content. Entries without primary keys, typically constants, are rendered
// without the bracket prefix.
func FormatResults(query string, lang types.Lang, entries []Scored) string {
	var b strings.Builder
	b.WriteString(header(strings.TrimSpace(query), lang))
	for _, s := range entries {
		b.WriteString("\n")
		if keys := s.Entry.PrimaryKeys; len(keys) > 0 {
			fmt.Fprintf(&b, "[%s] ", strings.Join(keys, ", "))
		}
		b.WriteString(s.Entry.Content.In(lang))
	}
	return b.String()
}

func header(query string, lang types.Lang) string {
	switch {
	case query == "" && lang == types.LangCN:
		return "世界背景资料："
	case query == "":
		return "General background information:"
	case lang == types.LangCN:
		return "关于“" + query + "”的背景资料："
	default:
		return fmt.Sprintf("Background information related to '%s':", query)
	}
}
