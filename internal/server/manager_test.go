package server

import (
	"context"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/fateweaver/internal/agent"
	"github.com/MrWong99/fateweaver/internal/coordinator"
	"github.com/MrWong99/fateweaver/internal/dice"
	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/protocol"
	"github.com/MrWong99/fateweaver/internal/scene"
	"github.com/MrWong99/fateweaver/internal/worldpack"
	llmmock "github.com/MrWong99/fateweaver/pkg/provider/llm/mock"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// barePack has locations but no preset characters.
const barePack = `{
  "info": {"id": "nowhere", "name": {"cn": "无名之地"}},
  "locations": {
    "void": {"name": {"cn": "虚空"}, "description": {"cn": "什么都没有。"}}
  }
}`

func testMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func testState(t *testing.T) *game.State {
	t.Helper()
	player := types.PlayerCharacter{
		Name:       "林风",
		Concept:    types.Text{CN: "背着旧剑的游学者"},
		Traits:     []types.Trait{{Name: types.Text{CN: "三寸不烂之舌"}}},
		FatePoints: 3,
	}
	return game.New("sess-1", "mistvale", types.LangCN, player, "study", []string{"elara"})
}

func TestNewManager_Validation(t *testing.T) {
	t.Parallel()
	pack, err := worldpack.Parse([]byte(serverPack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	packs := packMap{"mistvale": pack}
	coord := coordinator.New(&llmmock.Provider{}, agent.NewRegistry(), packs, scene.NewAssembler(packs))

	if _, err := NewManager(Config{Packs: packs}); err == nil {
		t.Error("NewManager() without coordinator succeeded")
	}
	if _, err := NewManager(Config{Coordinator: coord}); err == nil {
		t.Error("NewManager() without packs succeeded")
	}
	if _, err := NewManager(Config{Coordinator: coord, Packs: packs, DefaultLang: "jp"}); err == nil {
		t.Error("NewManager() with unsupported default language succeeded")
	}

	m, err := NewManager(Config{Coordinator: coord, Packs: packs})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if m.bufCap != 64 {
		t.Errorf("bufCap = %d, want default 64", m.bufCap)
	}
	if m.defaultLang != types.LangCN {
		t.Errorf("defaultLang = %q, want cn", m.defaultLang)
	}
	if m.sweepEvery != time.Minute {
		t.Errorf("sweepEvery = %v, want default 1m", m.sweepEvery)
	}
	if m.metrics == nil {
		t.Error("metrics = nil, want default instance")
	}
}

func TestSessionEmit_DropsOldest(t *testing.T) {
	t.Parallel()
	metrics, reader := testMetrics(t)
	s := newSession("sess-1", testState(t), 3, metrics)
	defer s.cancel()

	for i := range 5 {
		s.Emit(protocol.NewContent(strings.Repeat("雾", i+1), true, i))
	}

	s.mu.Lock()
	got := make([]protocol.Message, len(s.queue))
	copy(got, s.queue)
	s.mu.Unlock()

	if len(got) != 3 {
		t.Fatalf("queue length = %d, want capped at 3", len(got))
	}
	if first := got[0].Data.(protocol.Content); first.ChunkIndex != 2 {
		t.Errorf("oldest surviving chunk index = %d, want 2", first.ChunkIndex)
	}
	if last := got[2].Data.(protocol.Content); last.ChunkIndex != 4 {
		t.Errorf("newest chunk index = %d, want 4", last.ChunkIndex)
	}

	dropped := metricByName(t, reader, "fateweaver.channel.dropped")
	sum, ok := dropped.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("channel.dropped data = %T", dropped.Data)
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("dropped frames = %d, want 2", got)
	}
}

func TestSession_BusyGate(t *testing.T) {
	t.Parallel()
	metrics, _ := testMetrics(t)
	s := newSession("sess-1", testState(t), 4, metrics)
	defer s.cancel()

	if !s.startTurn() {
		t.Fatal("startTurn() on idle session = false")
	}
	if s.startTurn() {
		t.Error("startTurn() while busy = true")
	}
	if s.startResume() {
		t.Error("startResume() while busy = true")
	}
	s.clearBusy()
	if !s.startTurn() {
		t.Error("startTurn() after clearBusy = false")
	}
	s.clearBusy()

	// A pending dice check blocks fresh input but not the roll itself.
	s.state.SetPhase(game.PhaseDiceCheck, "player")
	if s.startTurn() {
		t.Error("startTurn() during pending check = true")
	}
	if !s.startResume() {
		t.Error("startResume() during pending check = false")
	}
}

func TestSession_IdleSince(t *testing.T) {
	t.Parallel()
	metrics, _ := testMetrics(t)
	s := newSession("sess-1", testState(t), 4, metrics)
	defer s.cancel()

	now := time.Now()
	s.mu.Lock()
	s.lastSeen = now.Add(-time.Hour)
	s.mu.Unlock()

	if got := s.idleSince(now); got != time.Hour {
		t.Errorf("idleSince() = %v, want 1h", got)
	}

	// A running turn pins the session as active regardless of lastSeen.
	if !s.startTurn() {
		t.Fatal("startTurn() = false")
	}
	if got := s.idleSince(now); got != 0 {
		t.Errorf("idleSince() while busy = %v, want 0", got)
	}
}

func TestResolveCharacter(t *testing.T) {
	t.Parallel()
	pack, err := worldpack.Parse([]byte(serverPack))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	bare, err := worldpack.Parse([]byte(barePack))
	if err != nil {
		t.Fatalf("Parse(bare) error = %v", err)
	}

	tests := []struct {
		name     string
		pack     *worldpack.Pack
		open     protocol.SessionOpen
		wantName string
		wantErr  string
	}{
		{
			name: "inline character",
			pack: pack,
			open: protocol.SessionOpen{Character: &types.PlayerCharacter{
				Name:   "墨七",
				Traits: []types.Trait{{Name: types.Text{CN: "影子般的身法"}}},
			}},
			wantName: "墨七",
		},
		{
			name: "inline character fails validation",
			pack: pack,
			open: protocol.SessionOpen{Character: &types.PlayerCharacter{
				Concept: types.Text{CN: "无名之辈"},
			}},
			wantErr: "invalid character",
		},
		{
			name:     "preset by id",
			pack:     pack,
			open:     protocol.SessionOpen{Preset: "hunter"},
			wantName: "沈铁手",
		},
		{
			name:    "unknown preset",
			pack:    pack,
			open:    protocol.SessionOpen{Preset: "bard"},
			wantErr: "unknown preset",
		},
		{
			name:     "first preset by default",
			pack:     pack,
			open:     protocol.SessionOpen{},
			wantName: "顾青衫",
		},
		{
			name:    "pack without presets",
			pack:    bare,
			open:    protocol.SessionOpen{},
			wantErr: "character required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, errText := resolveCharacter(tt.pack, tt.open)
			if errText != tt.wantErr {
				t.Fatalf("error = %q, want %q", errText, tt.wantErr)
			}
			if tt.wantErr != "" {
				return
			}
			if pc.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", pc.Name, tt.wantName)
			}
			if pc.FatePoints != types.DefaultFatePoints {
				t.Errorf("FatePoints = %d, want default %d", pc.FatePoints, types.DefaultFatePoints)
			}
		})
	}
}

func TestToDiceResult(t *testing.T) {
	t.Parallel()
	got := toDiceResult(protocol.DiceResult{
		Result:    9,
		AllRolls:  []int{5, 4, 2},
		KeptRolls: []int{5, 4},
		Outcome:   dice.OutcomePartial,
	})

	if got.Total != 9 {
		t.Errorf("Total = %d, want wire result 9", got.Total)
	}
	if len(got.AllRolls) != 3 || got.AllRolls[0] != 5 {
		t.Errorf("AllRolls = %v", got.AllRolls)
	}
	if got.Outcome != dice.OutcomePartial {
		t.Errorf("Outcome = %q, want partial", got.Outcome)
	}
	if got.Modifier != 0 || got.DroppedRolls != nil {
		t.Errorf("derived fields not zero: modifier %d, dropped %v", got.Modifier, got.DroppedRolls)
	}
}
