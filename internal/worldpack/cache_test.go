package worldpack_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/fateweaver/internal/worldpack"
)

// writePack writes a minimal valid pack file with the given id and returns
// its path.
func writePack(t *testing.T, dir, id string) string {
	t.Helper()
	doc := `{
		"info": {"id": "` + id + `"},
		"locations": {"square": {"name": {"cn": "广场"}, "description": {"cn": "空地"}}}
	}`
	path := filepath.Join(dir, id+".json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write pack file: %v", err)
	}
	return path
}

// TestCache_RegisterAndGet covers registration, lookup, id listing and the
// duplicate guard.
func TestCache_RegisterAndGet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cache := worldpack.NewCache()

	if _, err := cache.Register(writePack(t, dir, "beta")); err != nil {
		t.Fatalf("Register(beta): %v", err)
	}
	if _, err := cache.Register("testdata/mistvale.json"); err != nil {
		t.Fatalf("Register(mistvale): %v", err)
	}

	pack, err := cache.Get("mistvale")
	if err != nil {
		t.Fatalf("Get(mistvale): %v", err)
	}
	if pack.ID() != "mistvale" {
		t.Errorf("Get(mistvale).ID() = %q", pack.ID())
	}

	if _, err := cache.Get("unknown"); !errors.Is(err, worldpack.ErrNotFound) {
		t.Errorf("Get(unknown) = %v, want ErrNotFound", err)
	}

	ids := cache.IDs()
	if len(ids) != 2 || ids[0] != "beta" || ids[1] != "mistvale" {
		t.Errorf("IDs() = %v, want [beta mistvale]", ids)
	}

	// Same id from a different file must be refused.
	if _, err := cache.Register(writePack(t, dir, "mistvale")); err == nil {
		t.Error("Register with duplicate pack id succeeded, want error")
	}
}

// TestCache_RegisterInvalidPack verifies a pack failing validation is not
// registered.
func TestCache_RegisterInvalidPack(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cache := worldpack.NewCache()

	path := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(path, []byte(`{"info": {"id": "empty"}}`), 0o644); err != nil {
		t.Fatalf("write pack file: %v", err)
	}

	if _, err := cache.Register(path); err == nil {
		t.Fatal("Register succeeded for a pack without locations, want error")
	}
	if _, err := cache.Get("empty"); !errors.Is(err, worldpack.ErrNotFound) {
		t.Errorf("Get(empty) = %v, want ErrNotFound after failed registration", err)
	}
}
