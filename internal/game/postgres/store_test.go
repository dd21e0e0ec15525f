package postgres_test

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/game/postgres"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if FATEWEAVER_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FATEWEAVER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FATEWEAVER_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean snapshot table.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS game_sessions"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func testSnapshot(id string) game.Snapshot {
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	return game.Snapshot{
		SessionID:       id,
		WorldPackID:     "mistvale",
		Language:        types.LangCN,
		Player:          types.PlayerCharacter{Name: "林小雨", Traits: []types.Trait{{Name: types.Text{CN: "运动健将"}}}, FatePoints: 3},
		CurrentLocation: "village_square",
		TurnCount:       2,
		Phase:           game.PhaseWaitingInput,
		Flags:           []string{"met_elara"},
		Messages: []game.Message{
			{Role: types.RoleUser, Content: "你好", Turn: 1, Timestamp: base},
		},
		NPCs: map[string]game.NPCState{
			"elara": {Relations: map[string]int{"player": 25}},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(time.Minute),
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("sess-1")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("loaded snapshot differs from saved:\n  saved:  %+v\n  loaded: %+v", snap, got)
	}
}

func TestStore_SaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("sess-1")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.TurnCount = 7
	snap.UpdatedAt = snap.UpdatedAt.Add(time.Minute)
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TurnCount != 7 {
		t.Errorf("turn count after upsert = %d, want 7", got.TurnCount)
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("List() = %v, want a single id", ids)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("Load(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_SaveEmptyID(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save(context.Background(), game.Snapshot{}); err == nil {
		t.Fatal("Save with empty session id succeeded, want error")
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"sess-b", "sess-a", "sess-c"} {
		if err := store.Save(ctx, testSnapshot(id)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"sess-a", "sess-b", "sess-c"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List() = %v, want %v", ids, want)
	}

	if err := store.Delete(ctx, "sess-b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// deleting again is a no-op
	if err := store.Delete(ctx, "sess-b"); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
	if _, err := store.Load(ctx, "sess-b"); !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("Load after delete error = %v, want ErrSessionNotFound", err)
	}
}
