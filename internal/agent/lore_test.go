package agent_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/lore"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	"github.com/MrWong99/fateweaver/pkg/types"
)

const libraryPack = `{
  "info": {"id": "mistvale", "name": {"cn": "雾谷", "en": "Mistvale"}},
  "entries": {
    "1": {"primary_keys": ["石碑"],
          "content": {"cn": "广场的石碑刻着褪色的铭文。", "en": "The tablet bears faded inscriptions."}},
    "2": {"constant": true,
          "content": {"cn": "雾谷终年被薄雾笼罩。", "en": "Mistvale lies under a mist that never lifts."}}
  },
  "locations": {"village_square": {"name": {"cn": "村庄广场", "en": "Village Square"}}}
}`

func newLibrarian(t *testing.T) *agent.Librarian {
	t.Helper()
	pack, err := worldpack.Parse([]byte(libraryPack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return agent.NewLibrarian(map[string]*lore.Retriever{
		"mistvale": lore.New(pack, nil),
	})
}

func loreRequest(lc *agent.LoreContext, input string) agent.Request {
	return agent.Request{PlayerInput: input, Lang: types.LangCN, Lore: lc}
}

func TestLibrarian_Search(t *testing.T) {
	t.Parallel()
	res, err := newLibrarian(t).Invoke(context.Background(), loreRequest(&agent.LoreContext{
		Query:           "石碑",
		CurrentLocation: "village_square",
		WorldPackID:     "mistvale",
	}, "石碑上写了什么？"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(res.Content, "褪色的铭文") {
		t.Errorf("Content missing the keyword hit:\n%s", res.Content)
	}
	if !strings.Contains(res.Content, "薄雾笼罩") {
		t.Errorf("Content missing the constant entry:\n%s", res.Content)
	}
	if got := res.Metadata["query"]; got != "石碑" {
		t.Errorf(`Metadata["query"] = %q, want "石碑"`, got)
	}
}

func TestLibrarian_QueryFallsBackToPlayerInput(t *testing.T) {
	t.Parallel()
	res, err := newLibrarian(t).Invoke(context.Background(), loreRequest(&agent.LoreContext{
		CurrentLocation: "village_square",
		WorldPackID:     "mistvale",
	}, "石碑"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if got := res.Metadata["query"]; got != "石碑" {
		t.Errorf(`Metadata["query"] = %q, want the player input`, got)
	}
	if !strings.Contains(res.Content, "褪色的铭文") {
		t.Errorf("Content missing the keyword hit:\n%s", res.Content)
	}
}

func TestLibrarian_DiscoveredItemsListed(t *testing.T) {
	t.Parallel()
	res, err := newLibrarian(t).Invoke(context.Background(), loreRequest(&agent.LoreContext{
		Query:           "石碑",
		CurrentLocation: "village_square",
		DiscoveredItems: []string{"古银币", "青铜钥匙"},
		WorldPackID:     "mistvale",
	}, "看看石碑"))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	for _, want := range []string{"已发现物品", "古银币", "青铜钥匙"} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("Content missing %q:\n%s", want, res.Content)
		}
	}
}

func TestLibrarian_UnknownPack(t *testing.T) {
	t.Parallel()
	_, err := newLibrarian(t).Invoke(context.Background(), loreRequest(&agent.LoreContext{
		Query:       "石碑",
		WorldPackID: "atlantis",
	}, "石碑"))
	if err == nil {
		t.Fatal("Invoke() error = nil, want unknown-pack error")
	}
	if !strings.Contains(err.Error(), "atlantis") {
		t.Errorf("error %q does not name the missing pack", err)
	}
}

func TestLibrarian_MissingLoreContext(t *testing.T) {
	t.Parallel()
	_, err := newLibrarian(t).Invoke(context.Background(),
		agent.Request{PlayerInput: "石碑", Lang: types.LangCN})
	if err == nil {
		t.Fatal("Invoke() error = nil, want missing-context error")
	}
}
