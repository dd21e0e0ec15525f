package agent_test

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/agent/mock"
)

// ─── Registry ────────────────────────────────────────────────────────────────

func TestRegistry_GetRegistered(t *testing.T) {
	t.Parallel()
	reg := agent.NewRegistry()
	rule := &mock.Agent{NameResult: "rule"}
	npc := &mock.Agent{NameResult: "npc"}
	reg.Register(rule)
	reg.Register(npc)

	got, err := reg.Get("rule")
	if err != nil {
		t.Fatalf("Get(rule) error = %v", err)
	}
	if got != agent.Agent(rule) {
		t.Fatalf("Get(rule) returned a different agent")
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	t.Parallel()
	_, err := agent.NewRegistry().Get("chef")
	if !errors.Is(err, agent.ErrNotFound) {
		t.Fatalf("Get(chef) error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "chef") {
		t.Fatalf("error %q does not name the missing agent", err)
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	t.Parallel()
	reg := agent.NewRegistry()
	first := &mock.Agent{NameResult: "rule"}
	second := &mock.Agent{NameResult: "rule"}
	reg.Register(first)
	reg.Register(second)

	got, err := reg.Get("rule")
	if err != nil {
		t.Fatalf("Get(rule) error = %v", err)
	}
	if got != agent.Agent(second) {
		t.Fatalf("Get(rule) returned the replaced agent")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	t.Parallel()
	reg := agent.NewRegistry()
	for _, name := range []string{"rule", "lore", "npc"} {
		reg.Register(&mock.Agent{NameResult: name})
	}
	want := []string{"lore", "npc", "rule"}
	if got := reg.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

// ─── Memory collection naming ────────────────────────────────────────────────

func TestMemoryCollection(t *testing.T) {
	t.Parallel()
	if got, want := agent.MemoryCollection("elara"), "npc_memories_elara"; got != want {
		t.Fatalf("MemoryCollection(elara) = %q, want %q", got, want)
	}
}
