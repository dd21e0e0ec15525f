package lore_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/fateweaver/internal/lore"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// TestFormatResults_Headers verifies the localized headers for queried and
// empty searches.
func TestFormatResults_Headers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		lang  types.Lang
		want  string
	}{
		{"chinese query", "石碑", types.LangCN, "关于“石碑”的背景资料："},
		{"english query", "stone tablet", types.LangEN, "Background information related to 'stone tablet':"},
		{"chinese no query", "  ", types.LangCN, "世界背景资料："},
		{"english no query", "", types.LangEN, "General background information:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := lore.FormatResults(tt.query, tt.lang, nil)
			if got != tt.want {
				t.Errorf("FormatResults(%q, %s, nil) = %q, want %q", tt.query, tt.lang, got, tt.want)
			}
		})
	}
}

// TestSearch_FormatsEntries runs a full search and checks the rendered
// block: header first, then one line per entry with bracketed primary keys,
// constants without keys rendered bare.
func TestSearch_FormatsEntries(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	got, err := r.Search(context.Background(), squareQuery("石碑"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("Search() = %q, want header plus two entries", got)
	}
	if lines[0] != "关于“石碑”的背景资料：" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "雾谷笼罩在常年不散的薄雾之中。" {
		t.Errorf("constant line = %q, want bare content without brackets", lines[1])
	}
	if want := "[石碑, stone tablet] 广场的石碑刻着褪色的铭文。"; lines[2] != want {
		t.Errorf("entry line = %q, want %q", lines[2], want)
	}
}

// TestSearch_EnglishRendering verifies that Lang drives both the header and
// the localized entry content.
func TestSearch_EnglishRendering(t *testing.T) {
	t.Parallel()
	r := lore.New(newTestPack(t), nil)

	q := squareQuery("stone tablet")
	q.Lang = types.LangEN
	got, err := r.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if !strings.HasPrefix(got, "Background information related to 'stone tablet':") {
		t.Errorf("missing english header in %q", got)
	}
	if !strings.Contains(got, "The tablet on the square bears faded inscriptions.") {
		t.Errorf("missing english content in %q", got)
	}
	if strings.Contains(got, "广场的石碑") {
		t.Errorf("chinese content leaked into english rendering: %q", got)
	}
}
