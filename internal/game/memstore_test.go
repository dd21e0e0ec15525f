package game_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/MrWong99/fateweaver/internal/game"
)

func TestMemStore_SaveAndLoad(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()
	ctx := context.Background()

	snap := fullSnapshot()
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("loaded snapshot differs from saved:\n  saved:  %+v\n  loaded: %+v", snap, got)
	}

	// the store holds its own copy on both paths
	snap.Flags[0] = "tampered"
	got.Messages[0].Content = "tampered"
	fresh, err := store.Load(ctx, "sess-42")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fresh.Flags[0] != "met_elara" {
		t.Errorf("stored flag = %q after mutating the saved value, want %q", fresh.Flags[0], "met_elara")
	}
	if fresh.Messages[0].Content != "我要翻找书架" {
		t.Errorf("stored message = %q after mutating a loaded value", fresh.Messages[0].Content)
	}
}

func TestMemStore_SaveUpserts(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()
	ctx := context.Background()

	snap := fullSnapshot()
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snap.TurnCount = 9
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Load(ctx, snap.SessionID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TurnCount != 9 {
		t.Errorf("turn count after upsert = %d, want 9", got.TurnCount)
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("List() = %v, want a single id", ids)
	}
}

func TestMemStore_LoadMissing(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()

	_, err := store.Load(context.Background(), "ghost")
	if !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("Load(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestMemStore_SaveEmptyID(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()

	if err := store.Save(context.Background(), game.Snapshot{}); err == nil {
		t.Fatal("Save with empty session id succeeded, want error")
	}
}

func TestMemStore_DeleteAndList(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()
	ctx := context.Background()

	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Fatalf("List() on empty store = %v, want empty non-nil", ids)
	}

	for _, id := range []string{"sess-b", "sess-a", "sess-c"} {
		snap := fullSnapshot()
		snap.SessionID = id
		if err := store.Save(ctx, snap); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
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

	ids, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []string{"sess-a", "sess-c"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("List() after delete = %v, want %v", ids, want)
	}
}

func TestMemStore_ContextCancelled(t *testing.T) {
	t.Parallel()
	store := game.NewMemStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, fullSnapshot()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
	if _, err := store.Load(ctx, "sess-42"); !errors.Is(err, context.Canceled) {
		t.Errorf("Load error = %v, want context.Canceled", err)
	}
}
