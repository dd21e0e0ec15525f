package redis_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/fateweaver/internal/game"
	gameredis "github.com/MrWong99/fateweaver/internal/game/redis"
	"github.com/MrWong99/fateweaver/pkg/types"
)

// newTestRedis spins up an in-process miniredis and returns a client bound to
// it. Both are torn down via t.Cleanup.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
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
		Messages: []game.Message{
			{Role: types.RoleUser, Content: "你好", Turn: 1, Timestamp: base},
		},
		CreatedAt: base,
		UpdatedAt: base.Add(time.Minute),
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()
	_, client := newTestRedis(t)
	store := gameredis.NewStore(client)
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
	t.Parallel()
	_, client := newTestRedis(t)
	store := gameredis.NewStore(client)
	ctx := context.Background()

	snap := testSnapshot("sess-1")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.TurnCount = 7
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
}

func TestStore_LoadMissing(t *testing.T) {
	t.Parallel()
	_, client := newTestRedis(t)
	store := gameredis.NewStore(client)

	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("Load(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_SaveEmptyID(t *testing.T) {
	t.Parallel()
	_, client := newTestRedis(t)
	store := gameredis.NewStore(client)

	if err := store.Save(context.Background(), game.Snapshot{}); err == nil {
		t.Fatal("Save with empty session id succeeded, want error")
	}
}

func TestStore_DeleteAndList(t *testing.T) {
	t.Parallel()
	_, client := newTestRedis(t)
	store := gameredis.NewStore(client)
	ctx := context.Background()

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Fatalf("List() on empty store = %v, want empty non-nil", ids)
	}

	for _, id := range []string{"sess-b", "sess-a", "sess-c"} {
		if err := store.Save(ctx, testSnapshot(id)); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}
	// unrelated keys in the same database must not show up
	if err := client.Set(ctx, "lock:sess-a", "1", 0).Err(); err != nil {
		t.Fatalf("Set unrelated key: %v", err)
	}

	ids, err = store.List(ctx)
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

// TestStore_TTL saves with an expiry and fast-forwards the miniredis clock
// past it.
func TestStore_TTL(t *testing.T) {
	t.Parallel()
	mr, client := newTestRedis(t)
	store := gameredis.NewStore(client, gameredis.WithTTL(time.Hour))
	ctx := context.Background()

	if err := store.Save(ctx, testSnapshot("sess-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mr.FastForward(30 * time.Minute)
	if _, err := store.Load(ctx, "sess-1"); err != nil {
		t.Fatalf("Load before expiry: %v", err)
	}

	// a fresh save refreshes the expiry window
	if err := store.Save(ctx, testSnapshot("sess-1")); err != nil {
		t.Fatalf("refresh Save: %v", err)
	}
	mr.FastForward(45 * time.Minute)
	if _, err := store.Load(ctx, "sess-1"); err != nil {
		t.Fatalf("Load after refresh: %v", err)
	}

	mr.FastForward(time.Hour)
	if _, err := store.Load(ctx, "sess-1"); !errors.Is(err, game.ErrSessionNotFound) {
		t.Errorf("Load after expiry error = %v, want ErrSessionNotFound", err)
	}
}
