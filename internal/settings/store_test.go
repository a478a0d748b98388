package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/localclipper/clipper/internal/domain"
)

func TestFileStore_GetMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "settings.json"))

	_, ok, err := store.Get(context.Background(), KeyPOToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expected no value in a fresh store")
	}
}

func TestFileStore_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	ctx := context.Background()

	if err := NewFileStore(path).Set(ctx, KeyPOToken, "tok-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// A new store on the same path simulates the next session
	v, ok, err := NewFileStore(path).Get(ctx, KeyPOToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || v != "tok-1" {
		t.Errorf("expected tok-1, got %q (present=%v)", v, ok)
	}
}

func TestFileStore_EmptyValueRemovesEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()
	store := NewFileStore(path)

	if err := store.Set(ctx, KeyPOToken, "tok-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, KeyPOToken, ""); err != nil {
		t.Fatalf("Set(empty) error = %v", err)
	}

	_, ok, err := NewFileStore(path).Get(ctx, KeyPOToken)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("expected entry to be removed entirely")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("expected empty object on disk, got %s", data)
	}
}

func TestFileStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, _, err := NewFileStore(path).Get(context.Background(), KeyPOToken); err == nil {
		t.Fatal("expected json parse error")
	}
}

func TestMemoryStore_SetAndRemove(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Set(ctx, "k", "v")
	if v, ok, _ := store.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("expected v, got %q", v)
	}
	store.Set(ctx, "k", "")
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Error("expected key removed")
	}
}

func TestSeed_MergesStoredToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.Set(ctx, KeyPOToken, "stored")

	cfg, err := Seed(ctx, store, domain.DefaultConfiguration())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if cfg.POToken != "stored" {
		t.Errorf("expected stored token, got %q", cfg.POToken)
	}
	if cfg.MaxClips != domain.DefaultMaxClips {
		t.Errorf("seed must not touch other fields, got max_clips=%d", cfg.MaxClips)
	}
}

func TestSeed_NothingStored(t *testing.T) {
	base := domain.DefaultConfiguration()
	base.POToken = "from-flags"

	cfg, err := Seed(context.Background(), NewMemoryStore(), base)
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if cfg.POToken != "from-flags" {
		t.Errorf("expected token untouched, got %q", cfg.POToken)
	}
}

func TestSyncer_WritesThroughOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	syncer := NewSyncer(NewFileStore(path))
	ctx := context.Background()

	prev := domain.DefaultConfiguration()
	cur := prev
	cur.POToken = "fresh"
	syncer.OnChange(prev, cur)

	if err := syncer.Err(); err != nil {
		t.Fatalf("write-through failed: %v", err)
	}
	if v, ok, _ := NewFileStore(path).Get(ctx, KeyPOToken); !ok || v != "fresh" {
		t.Errorf("expected fresh after restart, got %q", v)
	}

	cleared := cur
	cleared.POToken = ""
	syncer.OnChange(cur, cleared)

	if _, ok, _ := NewFileStore(path).Get(ctx, KeyPOToken); ok {
		t.Error("expected token removed after clearing")
	}
}

type countingStore struct {
	*MemoryStore
	sets int
}

func (c *countingStore) Set(ctx context.Context, key, value string) error {
	c.sets++
	return c.MemoryStore.Set(ctx, key, value)
}

func TestSyncer_SkipsUnchangedToken(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	syncer := NewSyncer(store)

	prev := domain.DefaultConfiguration()
	prev.POToken = "same"
	cur := prev
	cur.MaxClips = 3
	syncer.OnChange(prev, cur)

	if store.sets != 0 {
		t.Errorf("expected no writes, got %d", store.sets)
	}
}
